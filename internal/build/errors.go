// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package build

import (
	"errors"
	"fmt"
)

// Kind classifies the stage a run failed in.
type Kind int

const (
	KindRetrieval Kind = iota + 1
	KindPatch
	KindConfiguration
	KindBuild
	KindInstall
	KindDescribe
)

func (k Kind) String() string {
	switch k {
	case KindRetrieval:
		return "retrieval error"
	case KindPatch:
		return "patch error"
	case KindConfiguration:
		return "configuration error"
	case KindBuild:
		return "build error"
	case KindInstall:
		return "install error"
	case KindDescribe:
		return "describe error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// StageError reports a run that halted. State is the last state reached;
// Target is the state the failing step tried to reach.
type StageError struct {
	Recipe string
	State  State
	Target State
	Kind   Kind
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: cannot reach %v (stopped at %v): %v", e.Recipe, e.Kind, e.Target, e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the StageError in err's chain, or 0.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
