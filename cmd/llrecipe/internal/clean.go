package internal

import (
	"fmt"

	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <recipe-dir>...",
	Short: "Remove the artifacts of recipes",
	Long:  `Clean removes the work directory, the published artifact and the cache entry of each recipe for the current settings.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	recipes, err := loadRecipes(args)
	if err != nil {
		return err
	}
	builder, err := newBuilder(false, 1)
	if err != nil {
		return err
	}
	for _, r := range recipes {
		if err := builder.Clean(r); err != nil {
			return fmt.Errorf("failed to clean %s: %w", r.Identity(), err)
		}
		log.Infof("%s: cleaned", r.Identity())
	}
	return nil
}
