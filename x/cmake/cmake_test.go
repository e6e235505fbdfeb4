package cmake

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/goplus/llrecipe/internal/env"
)

func hostSettings() env.Settings {
	return env.Settings{OS: runtime.GOOS, Arch: runtime.GOARCH, BuildType: "Release"}
}

func TestNewPlanOptions(t *testing.T) {
	options := map[string]string{"ENABLE_TESTING": "OFF", "ENABLE_PROGRAMS": "OFF"}
	p := NewPlan(hostSettings(), "/src/mbedtls", "/work/build", "/work/install", options)

	want := []string{
		"-S", "/src/mbedtls", "-B", "/work/build",
		"-DCMAKE_BUILD_TYPE:STRING=Release",
		"-DCMAKE_INSTALL_PREFIX:STRING=/work/install",
		"-DENABLE_PROGRAMS=OFF",
		"-DENABLE_TESTING=OFF",
	}
	if got := p.ConfigureArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("ConfigureArgs =\n%v\nwant\n%v", got, want)
	}

	// The plan owns its options.
	options["ENABLE_TESTING"] = "ON"
	if got := p.Defines()["ENABLE_TESTING"]; got != "OFF" {
		t.Errorf("plan shares the caller's option map: ENABLE_TESTING = %q", got)
	}
}

func TestNewPlanSettings(t *testing.T) {
	s := hostSettings()
	s.Generator = "Ninja"
	s.Toolchain = "/toolchains/arm.cmake"
	s.Compiler = "/usr/bin/clang"
	p := NewPlan(s, "src", "build", "", nil)

	args := strings.Join(p.ConfigureArgs(), " ")
	for _, want := range []string{
		"-G Ninja",
		"-DCMAKE_TOOLCHAIN_FILE:STRING=/toolchains/arm.cmake",
		"-DCMAKE_C_COMPILER:STRING=/usr/bin/clang",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("ConfigureArgs missing %q: %s", want, args)
		}
	}
	if strings.Contains(args, "CMAKE_INSTALL_PREFIX") {
		t.Errorf("no install dir should not define a prefix: %s", args)
	}
}

func TestNewPlanCross(t *testing.T) {
	s := env.Settings{OS: "linux", Arch: "arm64", BuildType: "Release"}
	if !s.Cross() {
		s.Arch = "riscv64"
	}
	p := NewPlan(s, "src", "build", "inst", nil)
	d := p.Defines()
	if d["CMAKE_SYSTEM_NAME"] != "Linux" {
		t.Errorf("CMAKE_SYSTEM_NAME = %q, want Linux", d["CMAKE_SYSTEM_NAME"])
	}
	if d["CMAKE_SYSTEM_PROCESSOR"] != processors[s.Arch] {
		t.Errorf("CMAKE_SYSTEM_PROCESSOR = %q, want %q", d["CMAKE_SYSTEM_PROCESSOR"], processors[s.Arch])
	}

	// A toolchain file owns the target description.
	s.Toolchain = "/tc.cmake"
	d = NewPlan(s, "src", "build", "inst", nil).Defines()
	if _, ok := d["CMAKE_SYSTEM_NAME"]; ok {
		t.Error("CMAKE_SYSTEM_NAME set although a toolchain file is used")
	}
}

func TestPlanDeterministic(t *testing.T) {
	options := map[string]string{"B": "2", "A": "1", "C": "3", "ENABLE_TESTING": "OFF"}
	first := NewPlan(hostSettings(), "s", "b", "i", options).ConfigureArgs()
	for i := 0; i < 10; i++ {
		if got := NewPlan(hostSettings(), "s", "b", "i", options).ConfigureArgs(); !reflect.DeepEqual(got, first) {
			t.Fatalf("ConfigureArgs not deterministic:\n%v\n%v", got, first)
		}
	}
}

func TestBuildInstallArgs(t *testing.T) {
	p := NewPlan(hostSettings(), "s", "b", "i", nil)
	if got, want := p.BuildArgs(), []string{"--build", "b", "--config", "Release"}; !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs = %v, want %v", got, want)
	}
	if got, want := p.WithJobs(4).BuildArgs(), []string{"--build", "b", "--config", "Release", "--parallel", "4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs with jobs = %v, want %v", got, want)
	}
	if p.Jobs != 0 {
		t.Error("WithJobs modified the original plan")
	}
	if got, want := p.InstallArgs(), []string{"--install", "b", "--config", "Release", "--prefix", "i"}; !reflect.DeepEqual(got, want) {
		t.Errorf("InstallArgs = %v, want %v", got, want)
	}
}

func TestDefinesArgsEmpty(t *testing.T) {
	p := NewPlan(env.Settings{}, "", "", "", nil)
	if args := p.definesArgs(); args != nil {
		t.Errorf("definesArgs on empty = %v, want nil", args)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	tb.Write([]byte("hello "))
	tb.Write([]byte("world"))
	if got := tb.String(); got != "lo world" {
		t.Errorf("tail = %q, want %q", got, "lo world")
	}
	tb.Write([]byte("0123456789"))
	if got := tb.String(); got != "23456789" {
		t.Errorf("tail = %q, want %q", got, "23456789")
	}
}

func TestRunErrorExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the build tool")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "cmake")
	script := "#!/bin/sh\necho 'CMake Error: toolchain mismatch' >&2\nexit 3\n"
	if err := os.WriteFile(fake, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	e := NewExecutor(WithCMakePath(fake))
	p := NewPlan(hostSettings(), dir, filepath.Join(dir, "build"), "", nil)
	err := e.Configure(context.Background(), p)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Configure: got %v, want *RunError", err)
	}
	if runErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", runErr.ExitCode)
	}
	if !strings.Contains(runErr.Error(), "CMake Error: toolchain mismatch") {
		t.Errorf("diagnostic not surfaced verbatim: %v", runErr)
	}
}

func TestConfigureBuildInstallE2E(t *testing.T) {
	if _, err := exec.LookPath("cmake"); err != nil {
		t.Skip("cmake not found in PATH")
	}

	tmp := t.TempDir()
	installDir := filepath.Join(tmp, "install")
	buildDir := filepath.Join(tmp, "build")
	source, err := filepath.Abs(filepath.Join("testdata", "project"))
	if err != nil {
		t.Fatal(err)
	}

	options := map[string]string{"ENABLE_TESTING": "OFF", "ENABLE_PROGRAMS": "OFF", "FOO": "BAR"}
	p := NewPlan(hostSettings(), source, buildDir, installDir, options)
	e := NewExecutor()
	ctx := context.Background()

	if err := e.Configure(ctx, p); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := e.Build(ctx, p); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := e.Install(ctx, p); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, path := range []string{
		filepath.Join(installDir, "include", "dummy.h"),
		filepath.Join(installDir, "lib", "cmake", "Dummy", "DummyConfig.cmake"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s", path)
		}
	}
	if _, err := os.Stat(filepath.Join(installDir, "bin")); err == nil {
		t.Error("programs or tests installed although disabled")
	}

	data, err := os.ReadFile(filepath.Join(buildDir, "CMakeCache.txt"))
	if err != nil {
		t.Fatalf("read CMakeCache.txt: %v", err)
	}
	cache := string(data)
	for _, want := range []string{
		"FOO:UNINITIALIZED=BAR",
		"ENABLE_TESTING:BOOL=OFF",
		"ENABLE_PROGRAMS:BOOL=OFF",
		"CMAKE_BUILD_TYPE:STRING=Release",
		"CMAKE_INSTALL_PREFIX",
	} {
		if !strings.Contains(cache, want) {
			t.Errorf("cache missing %q", want)
		}
	}
}
