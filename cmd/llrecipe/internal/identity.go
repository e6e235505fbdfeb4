package internal

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity <recipe-dir>",
	Short: "Print the identity and cache key of a recipe",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentity,
}

func init() {
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	recipes, err := loadRecipes(args)
	if err != nil {
		return err
	}
	r := recipes[0]
	dgst, err := r.PatchDigest()
	if err != nil {
		return fmt.Errorf("failed to read patch %s: %w", r.PatchName(), err)
	}
	builder, err := newBuilder(false, 1)
	if err != nil {
		return err
	}
	key, err := builder.Key(r)
	if err != nil {
		return err
	}
	id := r.Identity()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
	fmt.Fprintf(w, "name:\t%s\n", id.Name)
	fmt.Fprintf(w, "revision:\t%s\n", id.Revision)
	fmt.Fprintf(w, "version:\t%s\n", id.Version)
	fmt.Fprintf(w, "patch:\t%s\n", dgst)
	fmt.Fprintf(w, "key:\t%s\n", key)
	fmt.Fprintf(w, "matrix:\t%s\n", cfg.Settings.Matrix())
	return w.Flush()
}
