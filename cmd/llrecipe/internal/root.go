package internal

import (
	"context"
	"os"
	"os/signal"

	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goplus/llrecipe/internal/env"
	"github.com/goplus/llrecipe/recipe"
)

// cfg is the configuration of the running command, loaded before it runs.
var cfg *env.Config

var configFile string

var rootCmd = &cobra.Command{
	Use:   "llrecipe",
	Short: "llrecipe builds patched native dependencies from recipes",
	Long: `llrecipe fetches a pinned upstream revision, applies the recipe's bundled patch,
builds and installs it with CMake and publishes the package metadata consumers need.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/llrecipe/config.yaml)")
	flags.String("workspace", "", "Workspace directory (default $XDG_CACHE_HOME/llrecipe)")
	flags.String("os", "", "Target operating system")
	flags.String("arch", "", "Target architecture")
	flags.String("compiler", "", "C compiler")
	flags.String("build-type", "", "CMake build type")
	flags.String("generator", "", "CMake generator")
	flags.String("toolchain", "", "CMake toolchain file")
	flags.IntP("jobs", "j", 0, "Parallel build jobs")
	flags.BoolP("verbose", "v", false, "Enable verbose output")
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"workspace":  env.KeyWorkspace,
	"os":         env.KeyOS,
	"arch":       env.KeyArch,
	"compiler":   env.KeyCompiler,
	"build-type": env.KeyBuildType,
	"generator":  env.KeyGenerator,
	"toolchain":  env.KeyToolchain,
	"jobs":       env.KeyJobs,
	"verbose":    env.KeyVerbose,
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v := env.NewViper()
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	c, err := env.Load(v, configFile)
	if err != nil {
		return err
	}
	if c.Verbose {
		log.SetOutputLevel(log.Ldebug)
	}
	cfg = c
	return nil
}

// bindFlags binds the flags set on the command line, so that unset flags do
// not shadow the config file and environment.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadRecipes loads the recipe of every directory in dirs.
func loadRecipes(dirs []string) ([]*recipe.Recipe, error) {
	recipes := make([]*recipe.Recipe, 0, len(dirs))
	for _, dir := range dirs {
		r, err := recipe.Load(dir)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}
