// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recipe defines the declarative description of how to fetch, patch,
// build and publish one native dependency.
package recipe

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// Lookup modes a host package manager may use to find a dependency.
const (
	FindModeConfig = "config" // use the exported <Pkg>Config.cmake files only
	FindModeModule = "module" // use host generated Find<Pkg>.cmake modules only
	FindModeBoth   = "both"
	FindModeNone   = "none" // host lookup disabled, defer to the artifact's exported files
)

// versionPrefix marks a version as locally patched.
const versionPrefix = "patched-"

// defaultStrip is the number of leading path components removed from
// file names in the patch (patch -p1).
const defaultStrip = 1

var (
	ErrNoName       = errors.New("recipe: name is required")
	ErrNoRepository = errors.New("recipe: repository is required")
	ErrNotPinned    = errors.New("recipe: revision is not pinned")
)

// Identity identifies one recipe build.
type Identity struct {
	Name     string
	Revision string // pinned upstream revision
	Version  string // derived version, never equal to Revision
}

// String returns "name@version".
func (id Identity) String() string {
	return id.Name + "@" + id.Version
}

// Key returns the persisted cache key of the identity combined with the
// digest of the applied patch and the digest of every other build input
// (options, descriptor, build settings). Changing the revision, the patch
// bytes or any input yields a different key.
func (id Identity) Key(patchDigest, inputsDigest string) string {
	return id.Version + "+" + shortHex(patchDigest) + "." + shortHex(inputsDigest)
}

// shortHex returns the first 12 hex chars of the encoded part of a digest.
func shortHex(d string) string {
	if _, hex, ok := strings.Cut(d, ":"); ok {
		d = hex
	}
	if len(d) > 12 {
		d = d[:12]
	}
	return d
}

// Descriptor holds the facts published to downstream consumers once the
// artifact is installed.
type Descriptor struct {
	// BuildDirs lists directories, relative to the install root, that hold
	// the library's own exported discovery files.
	BuildDirs []string `yaml:"builddirs"`
	// FindMode tells the host package manager how to look the package up.
	FindMode string `yaml:"find_mode"`
}

// Recipe describes a single dependency.
type Recipe struct {
	Name       string            `yaml:"name"`
	Repository string            `yaml:"repository"`
	Revision   string            `yaml:"revision"`
	Patch      string            `yaml:"patch"`
	PatchStrip *int              `yaml:"patch_strip"`
	BasePath   string            `yaml:"base_path"`
	Options    map[string]string `yaml:"options"`
	Descriptor Descriptor        `yaml:"package"`

	// Dir is the directory holding the recipe's bundled inputs.
	Dir string `yaml:"-"`
	// DirFS overrides Dir for reading bundled inputs.
	DirFS fs.FS `yaml:"-"`
}

// Identity returns the identity of r.
func (r *Recipe) Identity() Identity {
	return Identity{
		Name:     r.Name,
		Revision: r.Revision,
		Version:  versionPrefix + r.Revision,
	}
}

// PatchName returns the name of the bundled patch file. It defaults to
// "<name>-<revision>.patch".
func (r *Recipe) PatchName() string {
	if r.Patch != "" {
		return r.Patch
	}
	return fmt.Sprintf("%s-%s.patch", r.Name, r.Revision)
}

// PatchPath returns the patch file path on disk.
func (r *Recipe) PatchPath() string {
	return filepath.Join(r.Dir, r.PatchName())
}

// Strip returns the patch strip level. An unset level defaults to 1.
func (r *Recipe) Strip() int {
	if r.PatchStrip != nil {
		return *r.PatchStrip
	}
	return defaultStrip
}

// Root returns the subdirectory of the source tree the patch and the build
// script are rooted at. The fetched tree is the directory named after the
// recipe, so Root is that directory or one below it.
func (r *Recipe) Root() string {
	if r.BasePath != "" {
		return r.BasePath
	}
	return r.Name
}

// BuildOptions returns a copy of the option map passed to the build tool.
func (r *Recipe) BuildOptions() map[string]string {
	return maps.Clone(r.Options)
}

// ReadFile reads a bundled input of the recipe.
func (r *Recipe) ReadFile(name string) ([]byte, error) {
	fsys := r.DirFS
	if fsys == nil {
		dir := r.Dir
		if dir == "" {
			dir = "."
		}
		fsys = os.DirFS(dir)
	}
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// Validate reports whether r is complete and pinned.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return ErrNoName
	}
	if r.Repository == "" {
		return ErrNoRepository
	}
	if !Pinned(r.Revision) {
		return fmt.Errorf("%w: %q", ErrNotPinned, r.Revision)
	}
	switch r.Descriptor.FindMode {
	case "", FindModeConfig, FindModeModule, FindModeBoth, FindModeNone:
	default:
		return fmt.Errorf("recipe %s: unknown find mode %q", r.Name, r.Descriptor.FindMode)
	}
	if r.PatchStrip != nil && *r.PatchStrip < 0 {
		return fmt.Errorf("recipe %s: negative patch strip %d", r.Name, *r.PatchStrip)
	}
	if r.BasePath != "" {
		base := path.Clean(filepath.ToSlash(r.BasePath))
		if base != r.Name && !strings.HasPrefix(base, r.Name+"/") || !filepath.IsLocal(r.BasePath) {
			return fmt.Errorf("recipe %s: base path %q is not inside the fetched tree %s", r.Name, r.BasePath, r.Name)
		}
	}
	for _, dir := range r.Descriptor.BuildDirs {
		if path.IsAbs(dir) || slices.Contains(strings.Split(dir, "/"), "..") {
			return fmt.Errorf("recipe %s: build dir %q escapes the install root", r.Name, dir)
		}
	}
	return nil
}

// Pinned reports whether rev names an immutable upstream snapshot: a full
// semantic version tag or a full commit hash.
func Pinned(rev string) bool {
	if semver.IsValid(rev) && semver.Canonical(rev) == rev {
		return true
	}
	if len(rev) != 40 {
		return false
	}
	for _, c := range rev {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

