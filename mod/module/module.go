// Package module defines the module.Version type along with support code.
package module

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// A Version represents a specific version of a recipe identified by its
// name.
type Version struct {
	Path    string // Recipe name, e.g. "mbedtls"
	Version string // Derived version, e.g. "patched-v3.5.0"
}

func (v Version) String() string {
	return v.Path + "@" + v.Version
}

// EscapePath returns the escaped form of the given path as a valid local
// file system path. It fails if the path is invalid.
func EscapePath(path string) (escaped string, err error) {
	if strings.Contains(path, "@") {
		return "", fmt.Errorf("invalid path %q: contains '@'", path)
	}
	return filepath.Localize(path)
}

// Dir returns the directory name of v built for matrix:
// "<escaped path>@<version>-<matrix>".
func Dir(v Version, matrix string) (string, error) {
	escaped, err := EscapePath(v.Path)
	if err != nil {
		return "", err
	}
	if v.Version == "" || strings.ContainsAny(v.Version, `/\`) {
		return "", errors.New("invalid version " + v.Version)
	}
	return fmt.Sprintf("%s@%s-%s", escaped, v.Version, matrix), nil
}
