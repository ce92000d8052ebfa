package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored key",
	Long:  "Remove every record in the folder. With --database the whole database is deleted from disk.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().Bool("database", false, "delete the whole database")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("database")

	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		if all {
			if err := c.DeleteDatabase(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s\n", c.Dir())
			return nil
		}
		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "cleared")
		return nil
	})
}
