package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var rmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove stored keys",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		for _, arg := range args {
			if err := c.Delete(cmd.Context(), hashcache.NormalizeKey(arg)); err != nil {
				return err
			}
		}
		return nil
	})
}
