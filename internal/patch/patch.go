// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package patch applies a recipe bundled patch on top of a fetched source
// tree. Application is all or nothing: the patch is checked with a dry run
// first and the tree is only touched when every hunk applies.
package patch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoPatch is returned when the patch file does not exist.
var ErrNoPatch = errors.New("patch file not found")

// Hunk identifies a hunk that failed to apply.
type Hunk struct {
	File   string
	Number int
	Line   int
}

func (h Hunk) String() string {
	if h.Number == 0 {
		return h.File
	}
	return fmt.Sprintf("%s: hunk #%d at line %d", h.File, h.Number, h.Line)
}

// HunkError reports a patch that does not apply cleanly.
type HunkError struct {
	Patch  string
	Hunks  []Hunk
	Output string // verbatim patch tool output
	Err    error
}

func (e *HunkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "patch %s does not apply", filepath.Base(e.Patch))
	if len(e.Hunks) > 0 {
		hunks := make([]string, len(e.Hunks))
		for i, h := range e.Hunks {
			hunks[i] = h.String()
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(hunks, "; "))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(":\n")
		b.WriteString(out)
	}
	return b.String()
}

func (e *HunkError) Unwrap() error {
	return e.Err
}

// Patch describes one patch application.
type Patch struct {
	File     string // patch file
	Tree     string // root of the source tree
	BasePath string // subdirectory of Tree the patch is rooted at
	Strip    int    // leading path components to strip
}

// Applier applies patches with the patch(1) tool.
type Applier struct {
	patch  string
	stdout io.Writer
}

// Option configures an Applier.
type Option func(*Applier)

// WithPatchPath sets a custom patch executable path.
func WithPatchPath(path string) Option {
	return func(a *Applier) {
		if path != "" {
			a.patch = path
		}
	}
}

// WithOutput sets where the output of a successful application is written.
func WithOutput(w io.Writer) Option {
	return func(a *Applier) {
		a.stdout = w
	}
}

// New returns an Applier.
func New(opts ...Option) *Applier {
	a := &Applier{patch: "patch", stdout: io.Discard}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply applies p to its tree in place. On failure the tree is left as it
// was before the call.
func (a *Applier) Apply(ctx context.Context, p Patch) error {
	file, err := filepath.Abs(p.File)
	if err != nil {
		return err
	}
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", p.File, ErrNoPatch)
		}
		return err
	}

	dir := filepath.Join(p.Tree, p.BasePath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("patch base %s is not a directory", dir)
	}

	strip := p.Strip
	if strip < 0 {
		strip = 0
	}
	args := []string{
		"-p" + strconv.Itoa(strip),
		"--batch",
		"--forward",
		"--no-backup-if-mismatch",
		"-d", dir,
		"-i", file,
	}

	if out, err := a.run(ctx, append([]string{"--dry-run"}, args...)); err != nil {
		return &HunkError{Patch: file, Hunks: parseFailures(out), Output: out, Err: err}
	}
	out, err := a.run(ctx, args)
	if err != nil {
		return &HunkError{Patch: file, Hunks: parseFailures(out), Output: out, Err: err}
	}
	_, err = io.WriteString(a.stdout, out)
	return err
}

func (a *Applier) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, a.patch, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

var (
	fileRE = regexp.MustCompile(`^(?:patching|checking) file '?([^']+?)'?$`)
	hunkRE = regexp.MustCompile(`^Hunk #(\d+) FAILED at (\d+)`)
)

// parseFailures extracts the failing hunks from patch(1) output. Files the
// tool could not find are reported as a Hunk with Number 0.
func parseFailures(out string) []Hunk {
	var (
		hunks   []Hunk
		current string
	)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if m := fileRE.FindStringSubmatch(line); m != nil {
			current = m[1]
			continue
		}
		if m := hunkRE.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			l, _ := strconv.Atoi(m[2])
			hunks = append(hunks, Hunk{File: current, Number: n, Line: l})
			continue
		}
		if strings.HasPrefix(line, "can't find file to patch") {
			hunks = append(hunks, Hunk{File: line})
		}
	}
	return hunks
}
