// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// State is a point in a recipe's lifecycle. States are totally ordered and
// a run only moves forward.
type State int

const (
	Uninitialized State = iota
	Sourced
	Patched
	Configured
	Built
	Installed
	Described
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Sourced:       "sourced",
	Patched:       "patched",
	Configured:    "configured",
	Built:         "built",
	Installed:     "installed",
	Described:     "described",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// errOutOfOrder is returned when a step runs before its predecessor's stamp
// was written.
var errOutOfOrder = errors.New("previous state was not reached")

const stampDir = ".stamps"

// stamps records reached states as files under <work>/.stamps.
type stamps struct {
	dir string
}

func (s stamps) path(state State) string {
	return filepath.Join(s.dir, stampDir, state.String())
}

// has reports whether state was reached in this work dir. Uninitialized is
// reached by every fresh work dir.
func (s stamps) has(state State) (bool, error) {
	if state == Uninitialized {
		return true, nil
	}
	_, err := os.Stat(s.path(state))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// mark writes the stamp of state with an optional note, such as the fetched
// commit or the applied patch digest.
func (s stamps) mark(state State, note string) error {
	if err := os.MkdirAll(filepath.Join(s.dir, stampDir), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path(state), []byte(note+"\n"), 0o644)
}
