// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package descriptor derives the package metadata downstream consumers use
// to wire an installed artifact into their own builds.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/goplus/llrecipe/recipe"
)

// ErrIncomplete is returned when the install tree lacks a declared directory.
var ErrIncomplete = errors.New("artifact is incomplete")

// Metadata is the read-only view of an installed artifact.
type Metadata struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Key         string   `json:"key,omitempty"` // cache key the artifact was published under
	BuildDirs   []string `json:"builddirs"`
	FindMode    string   `json:"find_mode"`
	IncludeDirs []string `json:"includedirs,omitempty"`
	LibDirs     []string `json:"libdirs,omitempty"`
	BinDirs     []string `json:"bindirs,omitempty"`
	Fingerprint string   `json:"fingerprint"`
}

// DeferToExported reports whether the host's own lookup is disabled in favor
// of the artifact's exported discovery files.
func (m *Metadata) DeferToExported() bool {
	return m.FindMode == recipe.FindModeNone
}

// Describe reads the layout of the install tree at dir and returns the
// metadata of id. Every declared build directory must exist.
func Describe(dir string, id recipe.Identity, d recipe.Descriptor) (*Metadata, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIncomplete, dir)
	}

	m := &Metadata{
		Name:      id.Name,
		Version:   id.Version,
		BuildDirs: make([]string, 0, len(d.BuildDirs)),
		FindMode:  d.FindMode,
	}
	if m.FindMode == "" {
		m.FindMode = recipe.FindModeConfig
	}
	for _, rel := range d.BuildDirs {
		if !isDir(filepath.Join(dir, filepath.FromSlash(rel))) {
			return nil, fmt.Errorf("%w: build dir %s not found in %s", ErrIncomplete, rel, dir)
		}
		m.BuildDirs = append(m.BuildDirs, rel)
	}
	for _, probe := range []struct {
		rel string
		to  *[]string
	}{
		{"include", &m.IncludeDirs},
		{"lib", &m.LibDirs},
		{"bin", &m.BinDirs},
	} {
		if isDir(filepath.Join(dir, probe.rel)) {
			*probe.to = append(*probe.to, probe.rel)
		}
	}

	m.Fingerprint, err = Fingerprint(dir)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Resolve returns the absolute build directories of m under root.
func (m *Metadata) Resolve(root string) []string {
	dirs := make([]string, len(m.BuildDirs))
	for i, rel := range m.BuildDirs {
		dirs[i] = filepath.Join(root, filepath.FromSlash(path.Clean(rel)))
	}
	return dirs
}

func isDir(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.IsDir()
}
