package internal

import (
	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe <recipe-dir>",
	Short: "Print the metadata of a built recipe",
	Long:  `Describe prints the package metadata of the artifact published for the recipe's current revision and patch.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	recipes, err := loadRecipes(args)
	if err != nil {
		return err
	}
	builder, err := newBuilder(false, 1)
	if err != nil {
		return err
	}
	res, err := builder.Describe(recipes[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), newArtifact(res))
}
