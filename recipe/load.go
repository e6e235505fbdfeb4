// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recipe

import (
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// File is the name of the recipe file inside a recipe directory.
const File = "recipe.yaml"

// Load reads the recipe in dir. Bundled inputs such as the patch file are
// resolved relative to dir.
func Load(dir string) (*Recipe, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve recipe directory")
	}
	path := filepath.Join(abs, File)
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read recipe"), "path", path)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}
	r.Dir = abs
	return r, nil
}

// Parse decodes and validates a recipe file.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, zerr.Wrap(err, "failed to parse recipe")
	}
	if err := r.Validate(); err != nil {
		return nil, zerr.Wrap(err, "invalid recipe")
	}
	return &r, nil
}

// PatchDigest reads the bundled patch and returns its content digest.
func (r *Recipe) PatchDigest() (digest.Digest, error) {
	data, err := r.ReadFile(r.PatchName())
	if err != nil {
		return "", err
	}
	return digest.FromBytes(data), nil
}

// MbedTLS returns the recipe of Mbed TLS v3.5.0 with the local patch
// "mbedtls-v3.5.0.patch" bundled in dir.
func MbedTLS(dir string) *Recipe {
	return &Recipe{
		Name:       "mbedtls",
		Repository: "https://github.com/Mbed-TLS/mbedtls.git",
		Revision:   "v3.5.0",
		Options: map[string]string{
			"ENABLE_TESTING":  "OFF",
			"ENABLE_PROGRAMS": "OFF",
		},
		Descriptor: Descriptor{
			BuildDirs: []string{"lib/cmake/MbedTLS/"},
			FindMode:  FindModeNone,
		},
		Dir: dir,
	}
}
