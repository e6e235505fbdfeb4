// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package build

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goplus/llrecipe/internal/descriptor"
	"github.com/goplus/llrecipe/mod/module"
)

// Workspace directory layout:
//
//	workspaceDir/
//	  .work/
//	    <escaped>@<version>-<matrix>/   # work dir, discarded on every run
//	      .stamps/                      # one file per reached state
//	      src/<name>/                   # fetched and patched tree
//	      build/                        # build tool's tree
//	      install/                      # staging install tree
//	  <escaped>/                        # recipe-level dir (cacheDir)
//	    .lock
//	    .cache.json                     # maps "version-matrix" to buildEntry
//	  <escaped>@<key>-<matrix>/         # published artifact (installDir)
//	    include/
//	    lib/
//	    ...
const (
	cacheFile = ".cache.json"
	lockFile  = ".lock"
	workDir   = ".work"
)

// buildEntry contains metadata about a single successful build.
type buildEntry struct {
	Key         string               `json:"key"`
	Dir         string               `json:"dir"` // published dir, relative to workspaceDir
	Revision    string               `json:"revision"`
	Commit      string               `json:"commit,omitempty"`
	PatchDigest string               `json:"patch_digest"`
	Metadata    *descriptor.Metadata `json:"metadata"`
	BuildTime   time.Time            `json:"build_time"`
}

// buildCache maps "version-matrix" keys to their build entries.
type buildCache struct {
	Cache map[string]*buildEntry `json:"cache"`
}

func cacheKey(version, matrix string) string {
	return version + "-" + matrix
}

func (c *buildCache) get(version, matrix string) (*buildEntry, bool) {
	entry, ok := c.Cache[cacheKey(version, matrix)]
	return entry, ok
}

func (c *buildCache) set(version, matrix string, entry *buildEntry) {
	if c.Cache == nil {
		c.Cache = make(map[string]*buildEntry)
	}
	c.Cache[cacheKey(version, matrix)] = entry
}

func (c *buildCache) remove(version, matrix string) bool {
	key := cacheKey(version, matrix)
	_, ok := c.Cache[key]
	delete(c.Cache, key)
	return ok
}

// cacheDir returns the recipe-level directory: workspaceDir/<escapedName>.
func (b *Builder) cacheDir(name string) (string, error) {
	escaped, err := module.EscapePath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.workspaceDir, escaped), nil
}

// installDir returns the published artifact directory:
// workspaceDir/<escapedName>@<key>-<matrix>. The key carries the version,
// so a changed patch or input never reuses the directory of another build.
func (b *Builder) installDir(name, key string) (string, error) {
	dir, err := module.Dir(module.Version{Path: name, Version: key}, b.matrix)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.workspaceDir, dir), nil
}

// workDir returns the fixed work directory of v. The path does not change
// between runs so that nothing path dependent differs across rebuilds.
func (b *Builder) workDir(v module.Version) (string, error) {
	dir, err := module.Dir(v, b.matrix)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.workspaceDir, workDir, dir), nil
}

// loadCache reads the cache file of a recipe. A missing file yields an
// empty cache.
func (b *Builder) loadCache(name string) (*buildCache, error) {
	dir, err := b.cacheDir(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, cacheFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &buildCache{}, nil
		}
		return nil, err
	}
	var cache buildCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

// saveCache writes the cache file of a recipe, replacing it atomically.
func (b *Builder) saveCache(name string, cache *buildCache) error {
	dir, err := b.cacheDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, cacheFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, cacheFile))
}
