package internal

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/llrecipe/internal/build"
	"github.com/goplus/llrecipe/internal/descriptor"
)

var (
	makeForce    bool
	makeOutput   string
	makeParallel int
)

var makeCmd = &cobra.Command{
	Use:   "make <recipe-dir>...",
	Short: "Build recipes and publish their artifacts",
	Long: `Make fetches, patches, configures, builds, installs and describes each recipe,
then prints the package metadata of the published artifacts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMake,
}

func init() {
	makeCmd.Flags().BoolVarP(&makeForce, "force", "f", false, "Rebuild even when a valid artifact is cached")
	makeCmd.Flags().StringVarP(&makeOutput, "output", "o", "", "Copy the artifact to a path (directory or .zip file)")
	makeCmd.Flags().IntVarP(&makeParallel, "parallel", "p", 1, "Recipes to build at once")
	rootCmd.AddCommand(makeCmd)
}

// artifact is the printed view of a build result.
type artifact struct {
	Name     string               `json:"name"`
	Revision string               `json:"revision"`
	Version  string               `json:"version"`
	Key      string               `json:"key"`
	Dir      string               `json:"dir"`
	Cached   bool                 `json:"cached"`
	Metadata *descriptor.Metadata `json:"metadata"`
	// BuildDirs holds the absolute paths of Metadata.BuildDirs.
	BuildDirs []string `json:"builddirs,omitempty"`
}

func newArtifact(res *build.Result) artifact {
	a := artifact{
		Name:     res.Identity.Name,
		Revision: res.Identity.Revision,
		Version:  res.Identity.Version,
		Key:      res.Key,
		Dir:      res.Dir,
		Cached:   res.Cached,
		Metadata: res.Metadata,
	}
	if res.Metadata != nil {
		a.BuildDirs = res.Metadata.Resolve(res.Dir)
	}
	return a
}

func newBuilder(force bool, parallel int) (*build.Builder, error) {
	opts := build.Options{Config: cfg, Force: force, Parallel: parallel}
	if cfg.Verbose {
		opts.Stdout = os.Stderr
		opts.Stderr = os.Stderr
	}
	b, err := build.NewBuilder(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create builder: %w", err)
	}
	return b, nil
}

func runMake(cmd *cobra.Command, args []string) error {
	if makeOutput != "" && len(args) != 1 {
		return fmt.Errorf("-o needs exactly one recipe, got %d", len(args))
	}
	recipes, err := loadRecipes(args)
	if err != nil {
		return err
	}
	builder, err := newBuilder(makeForce, makeParallel)
	if err != nil {
		return err
	}

	results, err := builder.RunAll(cmd.Context(), recipes)
	if err != nil {
		return fmt.Errorf("failed to build: %w", err)
	}

	artifacts := make([]artifact, len(results))
	for i, res := range results {
		artifacts[i] = newArtifact(res)
	}
	if err := printJSON(cmd.OutOrStdout(), artifacts); err != nil {
		return err
	}

	if makeOutput != "" {
		if err := outputResult(results[0].Dir, makeOutput); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputResult writes the artifact to dest.
// If dest ends with ".zip", creates a zip archive; otherwise copies the directory.
func outputResult(srcDir, dest string) error {
	if strings.HasSuffix(dest, ".zip") {
		return zipDir(srcDir, dest)
	}
	return os.CopyFS(dest, os.DirFS(srcDir))
}

// zipDir creates a zip archive at dest from the contents of srcDir.
func zipDir(srcDir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	err = writeZip(f, srcDir)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// writeZip writes the contents of srcDir to w as a zip archive.
func writeZip(dst io.Writer, srcDir string) error {
	w := zip.NewWriter(dst)
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}
