package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aweris/hashcache"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <key> <url>",
	Short: "Get content, fetching it on a miss",
	Long: `Return the content stored at key. On a miss the content is fetched from url,
checked against key and stored. Supported schemes: http, https and
oci://registry/repository@sha256:<digest>.`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringP("output", "o", "", "write content to file")
	fetchCmd.Flags().Bool("quiet", false, "store only, do not print content")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	key := hashcache.NormalizeKey(args[0])
	output, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")

	return withCache(cmd.Context(), func(c *hashcache.Cache) error {
		data, err := c.GetOrFetch(cmd.Context(), key, args[1])
		if err != nil {
			return err
		}
		if quiet && output == "" {
			return nil
		}
		return writeOutput(cmd, output, data)
	})
}
