package cmd

import (
	"errors"
	"fmt"

	"github.com/google/renameio"
	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var errNotFound = errors.New("not found")

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print stored content",
	Long:  "Write the verified content stored at key to stdout or, with -o, atomically to a file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var hasCmd = &cobra.Command{
	Use:   "has <key>...",
	Short: "Check whether keys are stored",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHas,
}

func init() {
	getCmd.Flags().StringP("output", "o", "", "write content to file")
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(hasCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	key := hashcache.NormalizeKey(args[0])
	output, _ := cmd.Flags().GetString("output")

	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		data, found, err := c.Get(cmd.Context(), key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", key, errNotFound)
		}
		return writeOutput(cmd, output, data)
	})
}

func runHas(cmd *cobra.Command, args []string) error {
	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		missing := 0
		for _, arg := range args {
			key := hashcache.NormalizeKey(arg)
			ok, err := c.Has(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !ok {
				missing++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%t\n", key, ok)
		}
		if missing > 0 {
			return fmt.Errorf("%d of %d keys %w", missing, len(args), errNotFound)
		}
		return nil
	})
}

func writeOutput(cmd *cobra.Command, output string, data []byte) error {
	if output == "" || output == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := renameio.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
