package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/hashcache"
)

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// run executes the CLI against an in-memory database in dir.
func run(t *testing.T, dir string, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--driver", "memory", "--cache-dir", dir, "--log-level", "panic"}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := hashcache.SHA256HexString("hello cli")

	out, err := run(t, dir, "hello cli", "put")
	require.NoError(t, err)
	assert.Equal(t, key+"\n", out)

	out, err = run(t, dir, "", "get", key)
	require.NoError(t, err)
	assert.Equal(t, "hello cli", out)

	target := filepath.Join(t.TempDir(), "out.txt")
	_, err = run(t, dir, "", "get", "-o", target, "sha256:"+key)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello cli", string(data))
}

func TestPutWithWrongKeyFails(t *testing.T) {
	_, err := run(t, t.TempDir(), "content", "put", "--key", hashcache.SHA256HexString("other"))
	assert.ErrorIs(t, err, hashcache.ErrHashMismatch)
}

func TestGetMissing(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "get", hashcache.SHA256HexString("absent"))
	assert.ErrorIs(t, err, errNotFound)
}

func TestGCAndList(t *testing.T) {
	dir := t.TempDir()
	a := hashcache.SHA256HexString("a")
	b := hashcache.SHA256HexString("b")

	_, err := run(t, dir, "a", "put")
	require.NoError(t, err)
	_, err = run(t, dir, "b", "put")
	require.NoError(t, err)

	keepFile := filepath.Join(t.TempDir(), "keep")
	require.NoError(t, os.WriteFile(keepFile, []byte("# keep a\n"+a+"\n"), 0644))

	out, err := run(t, dir, "", "gc", "--keep-file", keepFile)
	require.NoError(t, err)
	assert.Equal(t, "removed 1 keys\n", out)

	out, err = run(t, dir, "", "list")
	require.NoError(t, err)
	assert.Equal(t, a+"\n", out)

	_, err = run(t, dir, "", "has", b)
	assert.ErrorIs(t, err, errNotFound)
}

func TestGCRefusesEmptyKeepSet(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "gc")
	assert.Error(t, err)
}

func TestVerifyAndClear(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "x", "put")
	require.NoError(t, err)

	out, err := run(t, dir, "", "verify")
	require.NoError(t, err)
	assert.Equal(t, "checked 1, removed 0\n", out)

	_, err = run(t, dir, "", "clear")
	require.NoError(t, err)

	out, err = run(t, dir, "", "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnknownDurability(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "--durability", "sometimes", "list")
	assert.Error(t, err)
}
