package cmake

import (
	"maps"
	"sort"
	"strconv"

	"github.com/goplus/llrecipe/internal/env"
)

type defineValue struct {
	value    string
	typeName string
}

// Plan is a concrete invocation plan for configuring, building and
// installing one CMake project. It is built once per run and not mutated
// afterwards.
type Plan struct {
	SourceDir  string // build script root, always explicit
	BuildDir   string
	InstallDir string
	Generator  string
	BuildType  string
	Jobs       int

	defines map[string]defineValue
}

var systemNames = map[string]string{
	"linux":   "Linux",
	"darwin":  "Darwin",
	"windows": "Windows",
	"freebsd": "FreeBSD",
	"android": "Android",
	"ios":     "iOS",
}

var processors = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"arm":     "armv7",
	"riscv64": "riscv64",
}

// NewPlan translates the host build context and the recipe options into a
// plan. Options are passed to CMake verbatim as -D<key>=<value>; they are
// copied, the caller keeps ownership of the map.
func NewPlan(s env.Settings, sourceDir, buildDir, installDir string, options map[string]string) *Plan {
	p := &Plan{
		SourceDir:  sourceDir,
		BuildDir:   buildDir,
		InstallDir: installDir,
		Generator:  s.Generator,
		BuildType:  s.BuildType,
		defines:    make(map[string]defineValue, len(options)+6),
	}
	for k, v := range options {
		p.defines[k] = defineValue{value: v}
	}
	if installDir != "" {
		p.define("CMAKE_INSTALL_PREFIX", installDir)
	}
	if s.BuildType != "" {
		p.define("CMAKE_BUILD_TYPE", s.BuildType)
	}
	if s.Toolchain != "" {
		p.define("CMAKE_TOOLCHAIN_FILE", s.Toolchain)
	}
	if s.Compiler != "" {
		p.define("CMAKE_C_COMPILER", s.Compiler)
	}
	if s.Cross() && s.Toolchain == "" {
		if name, ok := systemNames[s.OS]; ok {
			p.define("CMAKE_SYSTEM_NAME", name)
		}
		if proc, ok := processors[s.Arch]; ok {
			p.define("CMAKE_SYSTEM_PROCESSOR", proc)
		}
	}
	return p
}

func (p *Plan) define(key, value string) {
	p.defines[key] = defineValue{value: value, typeName: "STRING"}
}

// Defines returns the plan's definitions as key to value.
func (p *Plan) Defines() map[string]string {
	out := make(map[string]string, len(p.defines))
	for k, d := range p.defines {
		out[k] = d.value
	}
	return out
}

// WithJobs returns a copy of p building with n parallel jobs.
func (p *Plan) WithJobs(n int) *Plan {
	q := *p
	q.defines = maps.Clone(p.defines)
	q.Jobs = n
	return &q
}

// ConfigureArgs returns the arguments of "cmake -S <source> -B <build> ...".
func (p *Plan) ConfigureArgs() []string {
	args := []string{"-S", p.SourceDir, "-B", p.BuildDir}
	if p.Generator != "" {
		args = append(args, "-G", p.Generator)
	}
	return append(args, p.definesArgs()...)
}

// BuildArgs returns the arguments of "cmake --build <build> ...".
func (p *Plan) BuildArgs() []string {
	args := []string{"--build", p.BuildDir}
	if p.BuildType != "" {
		args = append(args, "--config", p.BuildType)
	}
	if p.Jobs > 0 {
		args = append(args, "--parallel", strconv.Itoa(p.Jobs))
	}
	return args
}

// InstallArgs returns the arguments of "cmake --install <build> ...".
func (p *Plan) InstallArgs() []string {
	args := []string{"--install", p.BuildDir}
	if p.BuildType != "" {
		args = append(args, "--config", p.BuildType)
	}
	if p.InstallDir != "" {
		args = append(args, "--prefix", p.InstallDir)
	}
	return args
}

func (p *Plan) definesArgs() []string {
	if len(p.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p.defines))
	for k := range p.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		def := p.defines[k]
		if def.typeName != "" {
			args = append(args, "-D"+k+":"+def.typeName+"="+def.value)
			continue
		}
		args = append(args, "-D"+k+"="+def.value)
	}
	return args
}
