// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package build drives a recipe through its lifecycle: fetch the pinned
// source, apply the bundled patch, configure, build and install with CMake,
// then describe and publish the installed artifact.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/qiniu/x/log"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/goplus/llrecipe/internal/descriptor"
	"github.com/goplus/llrecipe/internal/env"
	"github.com/goplus/llrecipe/internal/patch"
	"github.com/goplus/llrecipe/internal/vcs"
	"github.com/goplus/llrecipe/mod/module"
	"github.com/goplus/llrecipe/recipe"
	"github.com/goplus/llrecipe/x/cmake"
)

// ErrNotBuilt is returned by Describe when no valid artifact is published.
var ErrNotBuilt = errors.New("artifact is not built")

// Patcher applies a patch to a source tree.
type Patcher interface {
	Apply(ctx context.Context, p patch.Patch) error
}

// Tool runs the steps of a build plan.
type Tool interface {
	Configure(ctx context.Context, p *cmake.Plan) error
	Build(ctx context.Context, p *cmake.Plan) error
	Install(ctx context.Context, p *cmake.Plan) error
}

// Options configures a Builder. Nil collaborators default to the git,
// patch and cmake executables named by Config.
type Options struct {
	Config  *env.Config
	VCS     vcs.VCS
	Patcher Patcher
	Tool    Tool

	// Force ignores cached artifacts.
	Force bool
	// Parallel bounds the recipes RunAll builds at once. Default 1.
	Parallel int

	// Stdout and Stderr receive the output of the external tools.
	Stdout io.Writer
	Stderr io.Writer
}

// Builder runs recipes in a workspace.
type Builder struct {
	workspaceDir string
	settings     env.Settings
	matrix       string
	jobs         int
	parallel     int
	force        bool

	vcs     vcs.VCS
	patcher Patcher
	tool    Tool
}

// Result is the outcome of a successful run.
type Result struct {
	Identity recipe.Identity
	Key      string // cache key: version, patch digest and inputs digest
	State    State
	Dir      string // published artifact directory
	Metadata *descriptor.Metadata
	Cached   bool
}

// NewBuilder returns a Builder for the workspace and build context of
// opts.Config.
func NewBuilder(opts Options) (*Builder, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("build: no configuration")
	}
	if cfg.Workspace == "" {
		return nil, errors.New("build: no workspace")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	b := &Builder{
		workspaceDir: cfg.Workspace,
		settings:     cfg.Settings,
		matrix:       cfg.Settings.Matrix(),
		jobs:         cfg.Jobs,
		parallel:     max(opts.Parallel, 1),
		force:        opts.Force,
		vcs:          opts.VCS,
		patcher:      opts.Patcher,
		tool:         opts.Tool,
	}
	if b.vcs == nil {
		b.vcs = vcs.NewGitVCS(vcs.WithGitPath(cfg.Git))
	}
	if b.patcher == nil {
		b.patcher = patch.New(patch.WithPatchPath(cfg.Patch), patch.WithOutput(stdout))
	}
	if b.tool == nil {
		b.tool = cmake.NewExecutor(cmake.WithCMakePath(cfg.CMake), cmake.WithOutput(stdout, stderr))
	}
	return b, nil
}

// Matrix returns the build context string artifacts are published under.
func (b *Builder) Matrix() string {
	return b.matrix
}

// run is one pass of a recipe through the pipeline.
type run struct {
	recipe *recipe.Recipe
	id     recipe.Identity
	work   string
	stamps stamps
	state  State

	commit   string
	digest   digest.Digest
	key      string
	plan     *cmake.Plan
	metadata *descriptor.Metadata
}

func (r *run) srcDir() string     { return filepath.Join(r.work, "src") }
func (r *run) cloneDir() string   { return filepath.Join(r.srcDir(), r.recipe.Name) }
func (r *run) rootDir() string    { return filepath.Join(r.srcDir(), r.recipe.Root()) }
func (r *run) buildDir() string   { return filepath.Join(r.work, "build") }
func (r *run) stagingDir() string { return filepath.Join(r.work, "install") }

// step moves a run from target-1 to target. The returned note is written
// into the target's stamp.
type step struct {
	target State
	kind   Kind
	do     func(ctx context.Context, r *run) (note string, err error)
}

func (b *Builder) steps() []step {
	return []step{
		{Sourced, KindRetrieval, b.source},
		{Patched, KindPatch, b.applyPatch},
		{Configured, KindConfiguration, b.configure},
		{Built, KindBuild, b.build},
		{Installed, KindInstall, b.install},
		{Described, KindDescribe, b.describe},
	}
}

// advance executes steps in order. A step runs only when the run is in the
// state right before its target and that state's stamp exists. The first
// failure halts the run in its current state.
func (r *run) advance(ctx context.Context, steps []step) error {
	for _, s := range steps {
		fail := func(err error) error {
			return &StageError{Recipe: r.id.String(), State: r.state, Target: s.target, Kind: s.kind, Err: err}
		}
		if s.target != r.state+1 {
			return fail(fmt.Errorf("%w: %v cannot follow %v", errOutOfOrder, s.target, r.state))
		}
		ok, err := r.stamps.has(r.state)
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(fmt.Errorf("%w: no stamp for %v", errOutOfOrder, r.state))
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		note, err := s.do(ctx, r)
		if err != nil {
			return fail(err)
		}
		if err := r.stamps.mark(s.target, note); err != nil {
			return fail(err)
		}
		r.state = s.target
		log.Infof("%s: %v", r.id, r.state)
	}
	return nil
}

func (b *Builder) source(ctx context.Context, r *run) (string, error) {
	dir := r.cloneDir()
	if err := b.vcs.Clone(ctx, r.recipe.Repository, r.recipe.Revision, dir); err != nil {
		return "", err
	}
	commit, err := b.vcs.Head(ctx, dir)
	if err != nil {
		return "", err
	}
	r.commit = commit
	log.Debugf("%s: fetched %s at %s", r.id, r.recipe.Revision, commit)
	return commit, nil
}

func (b *Builder) applyPatch(ctx context.Context, r *run) (string, error) {
	clean, err := b.vcs.Clean(ctx, r.cloneDir())
	if err != nil {
		return "", err
	}
	if !clean {
		return "", errors.New("source tree was modified after the fetch")
	}

	name := r.recipe.PatchName()
	data, err := r.recipe.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, patch.ErrNoPatch)
		}
		return "", err
	}
	// Apply a private copy so the digest always matches the applied bytes.
	file := filepath.Join(r.work, filepath.Base(name))
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", err
	}
	r.digest = digest.FromBytes(data)
	if r.key, err = b.key(r.recipe, r.digest); err != nil {
		return "", err
	}

	err = b.patcher.Apply(ctx, patch.Patch{
		File:     file,
		Tree:     r.srcDir(),
		BasePath: r.recipe.Root(),
		Strip:    r.recipe.Strip(),
	})
	if err != nil {
		return "", err
	}
	return r.digest.String(), nil
}

func (b *Builder) configure(ctx context.Context, r *run) (string, error) {
	r.plan = cmake.NewPlan(b.settings, r.rootDir(), r.buildDir(), r.stagingDir(), r.recipe.BuildOptions()).WithJobs(b.jobs)
	if err := b.tool.Configure(ctx, r.plan); err != nil {
		return "", err
	}
	return b.matrix, nil
}

func (b *Builder) build(ctx context.Context, r *run) (string, error) {
	return "", b.tool.Build(ctx, r.plan)
}

func (b *Builder) install(ctx context.Context, r *run) (string, error) {
	if err := b.tool.Install(ctx, r.plan); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(r.stagingDir())
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("install produced no files")
	}
	return "", nil
}

func (b *Builder) describe(ctx context.Context, r *run) (string, error) {
	m, err := descriptor.Describe(r.stagingDir(), r.id, r.recipe.Descriptor)
	if err != nil {
		return "", err
	}
	m.Key = r.key
	r.metadata = m
	return m.Fingerprint, nil
}

// Run drives rcp from a fresh work dir to the described state and
// publishes the artifact. A valid cached artifact is returned as is unless
// the Builder forces rebuilds.
func (b *Builder) Run(ctx context.Context, rcp *recipe.Recipe) (*Result, error) {
	if err := rcp.Validate(); err != nil {
		return nil, err
	}
	id := rcp.Identity()
	v := module.Version{Path: id.Name, Version: id.Version}

	unlock, err := b.lock(id.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !b.force {
		if res, ok := b.lookup(rcp); ok {
			log.Infof("%s: up to date (%s)", id, res.Key)
			return res, nil
		}
	}

	work, err := b.workDir(v)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(work); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, err
	}

	r := &run{recipe: rcp, id: id, work: work, stamps: stamps{dir: work}}
	if err := r.advance(ctx, b.steps()); err != nil {
		return nil, err
	}

	dir, err := b.installDir(id.Name, r.key)
	if err != nil {
		return nil, err
	}
	if err := publish(r.stagingDir(), dir); err != nil {
		return nil, fmt.Errorf("%s: publish: %w", id, err)
	}

	cache, err := b.loadCache(id.Name)
	if err != nil {
		log.Warnf("%s: discarding unreadable cache: %v", id, err)
		cache = &buildCache{}
	}
	if prev, ok := cache.get(id.Version, b.matrix); ok {
		b.removeStale(prev, filepath.Base(dir))
	}
	cache.set(id.Version, b.matrix, &buildEntry{
		Key:         r.key,
		Dir:         filepath.Base(dir),
		Revision:    id.Revision,
		Commit:      r.commit,
		PatchDigest: r.digest.String(),
		Metadata:    r.metadata,
		BuildTime:   time.Now(),
	})
	if err := b.saveCache(id.Name, cache); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(work); err != nil {
		log.Warnf("%s: remove work dir: %v", id, err)
	}

	log.Infof("%s: published %s", id, dir)
	return &Result{
		Identity: id,
		Key:      r.key,
		State:    Described,
		Dir:      dir,
		Metadata: r.metadata,
	}, nil
}

// Describe returns the published artifact of rcp without building it.
func (b *Builder) Describe(rcp *recipe.Recipe) (*Result, error) {
	if err := rcp.Validate(); err != nil {
		return nil, err
	}
	unlock, err := b.lock(rcp.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, ok := b.lookup(rcp)
	if !ok {
		return nil, fmt.Errorf("%s: %w", rcp.Identity(), ErrNotBuilt)
	}
	return res, nil
}

// Clean removes the work dir, the published artifact and the cache entry
// of rcp for the Builder's matrix.
func (b *Builder) Clean(rcp *recipe.Recipe) error {
	if err := rcp.Validate(); err != nil {
		return err
	}
	id := rcp.Identity()
	v := module.Version{Path: id.Name, Version: id.Version}

	unlock, err := b.lock(id.Name)
	if err != nil {
		return err
	}
	defer unlock()

	work, err := b.workDir(v)
	if err != nil {
		return err
	}
	dirs := []string{work}
	// The patch may be gone already; the cache entry still names the
	// published dir.
	if key, err := b.Key(rcp); err == nil {
		dir, err := b.installDir(id.Name, key)
		if err != nil {
			return err
		}
		dirs = append(dirs, dir)
	}
	cache, err := b.loadCache(id.Name)
	if err != nil {
		return err
	}
	entry, ok := cache.get(id.Version, b.matrix)
	if ok && filepath.IsLocal(entry.Dir) {
		dirs = append(dirs, filepath.Join(b.workspaceDir, entry.Dir))
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	if cache.remove(id.Version, b.matrix) {
		return b.saveCache(id.Name, cache)
	}
	return nil
}

// lookup returns the cached artifact of rcp when its key matches the
// recipe's current revision, patch and build inputs and the published tree
// is intact.
func (b *Builder) lookup(rcp *recipe.Recipe) (*Result, bool) {
	id := rcp.Identity()
	key, err := b.Key(rcp)
	if err != nil {
		log.Debugf("%s: %v", id, err)
		return nil, false
	}
	cache, err := b.loadCache(id.Name)
	if err != nil {
		log.Debugf("%s: load cache: %v", id, err)
		return nil, false
	}
	entry, ok := cache.get(id.Version, b.matrix)
	if !ok || entry.Metadata == nil {
		return nil, false
	}
	if entry.Key != key {
		log.Debugf("%s: cache key %s is stale, want %s", id, entry.Key, key)
		return nil, false
	}
	dir, err := b.installDir(id.Name, key)
	if err != nil {
		return nil, false
	}
	fp, err := descriptor.Fingerprint(dir)
	if err != nil || fp != entry.Metadata.Fingerprint {
		log.Debugf("%s: published tree %s does not match its fingerprint", id, dir)
		return nil, false
	}
	return &Result{
		Identity: id,
		Key:      key,
		State:    Described,
		Dir:      dir,
		Metadata: entry.Metadata,
		Cached:   true,
	}, true
}

// inputs lists everything besides the revision and the patch that shapes
// the installed tree.
type inputs struct {
	Repository string            `json:"repository"`
	Root       string            `json:"root"`
	Strip      int               `json:"strip"`
	Options    map[string]string `json:"options"`
	Descriptor recipe.Descriptor `json:"package"`
	Settings   env.Settings      `json:"settings"`
}

// Key returns the cache key rcp would be published under by b. It fails
// when the bundled patch cannot be read.
func (b *Builder) Key(rcp *recipe.Recipe) (string, error) {
	dgst, err := rcp.PatchDigest()
	if err != nil {
		return "", err
	}
	return b.key(rcp, dgst)
}

func (b *Builder) key(rcp *recipe.Recipe, patchDigest digest.Digest) (string, error) {
	data, err := json.Marshal(inputs{
		Repository: rcp.Repository,
		Root:       rcp.Root(),
		Strip:      rcp.Strip(),
		Options:    rcp.Options,
		Descriptor: rcp.Descriptor,
		Settings:   b.settings,
	})
	if err != nil {
		return "", err
	}
	return rcp.Identity().Key(patchDigest.String(), digest.FromBytes(data).String()), nil
}

// removeStale removes the artifact a previous build of the same version
// published under another key.
func (b *Builder) removeStale(prev *buildEntry, current string) {
	if prev.Dir == "" || prev.Dir == current || !filepath.IsLocal(prev.Dir) {
		return
	}
	if err := os.RemoveAll(filepath.Join(b.workspaceDir, prev.Dir)); err != nil {
		log.Warnf("remove stale artifact %s: %v", prev.Dir, err)
	}
}

func (b *Builder) lock(name string) (unlock func(), err error) {
	dir, err := b.cacheDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return lockedfile.MutexAt(filepath.Join(dir, lockFile)).Lock()
}

// publish moves the staging tree to dir, replacing a previous artifact.
func publish(staging, dir string) error {
	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if err := os.Rename(dir, old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(staging, dir); err != nil {
		os.Rename(old, dir)
		return err
	}
	return os.RemoveAll(old)
}
