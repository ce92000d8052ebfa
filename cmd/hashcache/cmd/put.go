package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var putCmd = &cobra.Command{
	Use:   "put [file...]",
	Short: "Store content",
	Long:  "Store each file (or stdin when none is given, or for \"-\") under its SHA-256 digest and print the key.",
	RunE:  runPut,
}

func init() {
	putCmd.Flags().String("key", "", "expected key; the put fails if the content does not hash to it")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{"-"}
	}
	expected, _ := cmd.Flags().GetString("key")
	if expected != "" && len(args) > 1 {
		return fmt.Errorf("--key needs exactly one input")
	}

	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		for _, name := range args {
			data, err := readInput(cmd, name)
			if err != nil {
				return err
			}

			key := hashcache.SHA256Hex(data)
			if expected != "" {
				key = hashcache.NormalizeKey(expected)
			}
			if err := c.Put(cmd.Context(), key, data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	})
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}
