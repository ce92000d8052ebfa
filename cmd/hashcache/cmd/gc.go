package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var gcCmd = &cobra.Command{
	Use:   "gc [key...]",
	Short: "Remove keys that are not referenced",
	Long:  "Delete every stored key that is not named on the command line or in --keep-file (one key per line).",
	RunE:  runGC,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash all content and delete corrupt records",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func init() {
	gcCmd.Flags().String("keep-file", "", "file listing keys to keep")
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(verifyCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	keep := hashcache.NewKeySet()
	for _, arg := range args {
		keep.Add(hashcache.NormalizeKey(arg))
	}
	if path, _ := cmd.Flags().GetString("keep-file"); path != "" {
		if err := readKeepFile(path, keep); err != nil {
			return err
		}
	}
	if keep.Len() == 0 {
		return fmt.Errorf("refusing to remove every key: name keys to keep or use clear")
	}

	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		removed, err := c.RemoveKeysNotIn(cmd.Context(), keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d keys\n", removed)
		return nil
	})
}

func readKeepFile(path string, keep hashcache.KeySet) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open keep file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keep.Add(hashcache.NormalizeKey(line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read keep file: %w", err)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		report, err := c.VerifyAndRepairAll(cmd.Context())
		if err != nil {
			return err
		}
		for _, key := range report.Removed {
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d, removed %d\n", report.Checked, len(report.Removed))
		return nil
	})
}
