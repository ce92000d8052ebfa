package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List stored keys",
	Long:  "List all stored keys, optionally filtered by prefix.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = hashcache.NormalizeKey(args[0])
	}

	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		keys, err := c.Keys(cmd.Context())
		if err != nil {
			return err
		}

		count := 0
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			count++
		}

		if count == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "(no entries)")
		}
		return nil
	})
}
