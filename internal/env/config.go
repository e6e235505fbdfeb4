package env

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"go.trai.ch/zerr"
)

// Configuration keys.
const (
	KeyWorkspace = "workspace"
	KeyOS        = "os"
	KeyArch      = "arch"
	KeyCompiler  = "compiler"
	KeyBuildType = "build_type"
	KeyGenerator = "generator"
	KeyToolchain = "toolchain"
	KeyJobs      = "jobs"
	KeyGit       = "git"
	KeyPatch     = "patch"
	KeyCMake     = "cmake"
	KeyVerbose   = "verbose"
)

const DefaultBuildType = "Release"

// Settings is the build context supplied by the host: target platform,
// toolchain and build type. It is passed explicitly to every stage.
type Settings struct {
	OS        string
	Arch      string
	Compiler  string // C compiler, empty for the build tool's default
	BuildType string
	Generator string
	Toolchain string // toolchain file
}

// Matrix returns the string naming this build variant, used in directory
// names and cache keys.
func (s Settings) Matrix() string {
	parts := []string{s.OS, s.Arch}
	if s.Compiler != "" {
		parts = append(parts, filepath.Base(s.Compiler))
	}
	parts = append(parts, strings.ToLower(s.BuildType))
	return strings.Join(parts, "-")
}

// Cross reports whether s targets a platform other than the host.
func (s Settings) Cross() bool {
	return s.OS != runtime.GOOS || s.Arch != runtime.GOARCH
}

// Config is the complete runner configuration.
type Config struct {
	Workspace string
	Git       string
	Patch     string
	CMake     string
	Jobs      int
	Verbose   bool
	Settings  Settings
}

// NewViper returns a viper instance with defaults and LLRECIPE_* environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyOS, runtime.GOOS)
	v.SetDefault(KeyArch, runtime.GOARCH)
	v.SetDefault(KeyBuildType, DefaultBuildType)
	v.SetDefault(KeyGit, "git")
	v.SetDefault(KeyPatch, "patch")
	v.SetDefault(KeyCMake, "cmake")
	v.SetDefault(KeyJobs, runtime.NumCPU())
	v.SetDefault(KeyVerbose, false)

	v.SetEnvPrefix("LLRECIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (or the user configuration file when file is empty) into
// v and returns the resulting Config. A missing default file is not an
// error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	explicit := file != ""
	if !explicit {
		file = ConfigFile()
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
			return nil, zerr.With(zerr.Wrap(err, "failed to read config"), "path", file)
		}
	}

	workspace := v.GetString(KeyWorkspace)
	if workspace == "" {
		dir, err := WorkDir()
		if err != nil {
			return nil, zerr.Wrap(err, "failed to create workspace")
		}
		workspace = dir
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve workspace")
	}

	cfg := &Config{
		Workspace: abs,
		Git:       v.GetString(KeyGit),
		Patch:     v.GetString(KeyPatch),
		CMake:     v.GetString(KeyCMake),
		Jobs:      v.GetInt(KeyJobs),
		Verbose:   v.GetBool(KeyVerbose),
		Settings: Settings{
			OS:        v.GetString(KeyOS),
			Arch:      v.GetString(KeyArch),
			Compiler:  v.GetString(KeyCompiler),
			BuildType: v.GetString(KeyBuildType),
			Generator: v.GetString(KeyGenerator),
			Toolchain: v.GetString(KeyToolchain),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no stage could use.
func (c *Config) Validate() error {
	if c.Settings.OS == "" || c.Settings.Arch == "" {
		return zerr.New("os and arch must be set")
	}
	if c.Settings.BuildType == "" {
		return zerr.New("build type must be set")
	}
	if c.Jobs < 0 {
		return zerr.With(zerr.New("jobs must not be negative"), "jobs", c.Jobs)
	}
	if strings.ContainsAny(c.Settings.Matrix(), `/\`) {
		return fmt.Errorf("settings %q cannot name a directory", c.Settings.Matrix())
	}
	return nil
}
