package patch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const original = `line 1
line 2
line 3
`

const goodPatch = `--- a/lib/file.txt
+++ b/lib/file.txt
@@ -1,3 +1,3 @@
 line 1
-line 2
+line two
 line 3
`

const driftedPatch = `--- a/lib/file.txt
+++ b/lib/file.txt
@@ -1,3 +1,3 @@
 line 1
-line 2
+line two
 line 3
--- a/lib/other.txt
+++ b/lib/other.txt
@@ -1,3 +1,3 @@
 alpha
-beta
+BETA
 gamma
`

func setupTree(t *testing.T) (tree, patchDir string) {
	t.Helper()
	if _, err := exec.LookPath("patch"); err != nil {
		t.Skip("patch not found in PATH")
	}
	tree = t.TempDir()
	base := filepath.Join(tree, "mbedtls", "lib")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "file.txt"), []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "other.txt"), []byte("alpha\nbravo\ngamma\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return tree, t.TempDir()
}

func writePatch(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "mbedtls-v3.5.0.patch")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApply(t *testing.T) {
	tree, dir := setupTree(t)
	file := writePatch(t, dir, goodPatch)

	err := New().Apply(context.Background(), Patch{File: file, Tree: tree, BasePath: "mbedtls", Strip: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(tree, "mbedtls", "lib", "file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "line 1\nline two\nline 3\n"; string(got) != want {
		t.Errorf("file.txt = %q, want %q", got, want)
	}
}

func TestApplyDriftLeavesTreeUntouched(t *testing.T) {
	tree, dir := setupTree(t)
	file := writePatch(t, dir, driftedPatch)

	err := New().Apply(context.Background(), Patch{File: file, Tree: tree, BasePath: "mbedtls", Strip: 1})
	var hunkErr *HunkError
	if !errors.As(err, &hunkErr) {
		t.Fatalf("Apply: got %v, want *HunkError", err)
	}
	if len(hunkErr.Hunks) == 0 {
		t.Fatalf("expected failing hunks, output:\n%s", hunkErr.Output)
	}
	h := hunkErr.Hunks[0]
	if !strings.HasSuffix(h.File, "other.txt") || h.Number != 1 {
		t.Errorf("failing hunk = %+v, want hunk #1 of lib/other.txt", h)
	}

	// The first file's hunk applies on its own, but nothing may be written.
	got, err := os.ReadFile(filepath.Join(tree, "mbedtls", "lib", "file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != original {
		t.Errorf("tree was modified by a failed patch: %q", got)
	}
	if _, err := os.Stat(filepath.Join(tree, "mbedtls", "lib", "other.txt.rej")); err == nil {
		t.Error("reject file left behind")
	}
}

func TestApplyMissingPatch(t *testing.T) {
	tree := t.TempDir()
	err := New().Apply(context.Background(), Patch{File: filepath.Join(tree, "missing.patch"), Tree: tree})
	if !errors.Is(err, ErrNoPatch) {
		t.Fatalf("Apply: got %v, want ErrNoPatch", err)
	}
}

func TestApplyMissingBase(t *testing.T) {
	tree := t.TempDir()
	file := writePatch(t, t.TempDir(), goodPatch)
	err := New().Apply(context.Background(), Patch{File: file, Tree: tree, BasePath: "mbedtls", Strip: 1})
	if err == nil {
		t.Fatal("expected error for missing base path")
	}
}

func TestParseFailures(t *testing.T) {
	out := `checking file library/ssl_tls.c
Hunk #1 FAILED at 123.
Hunk #2 succeeded at 200 (offset 3 lines).
Hunk #3 FAILED at 410 (different line endings).
2 out of 3 hunks FAILED
patching file 'include/mbedtls/build_info.h'
Hunk #1 FAILED at 7.
can't find file to patch at input line 42
`
	want := []Hunk{
		{File: "library/ssl_tls.c", Number: 1, Line: 123},
		{File: "library/ssl_tls.c", Number: 3, Line: 410},
		{File: "include/mbedtls/build_info.h", Number: 1, Line: 7},
		{File: "can't find file to patch at input line 42"},
	}
	if got := parseFailures(out); !reflect.DeepEqual(got, want) {
		t.Errorf("parseFailures =\n%+v\nwant\n%+v", got, want)
	}
}

func TestHunkErrorMessage(t *testing.T) {
	err := &HunkError{
		Patch:  "/recipes/mbedtls/mbedtls-v3.5.0.patch",
		Hunks:  []Hunk{{File: "library/ssl_tls.c", Number: 1, Line: 123}},
		Output: "Hunk #1 FAILED at 123.\n",
	}
	msg := err.Error()
	for _, want := range []string{
		"mbedtls-v3.5.0.patch does not apply",
		"library/ssl_tls.c: hunk #1 at line 123",
		"Hunk #1 FAILED at 123.",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestWithPatchPath(t *testing.T) {
	if a := New(WithPatchPath("/usr/local/bin/gpatch")); a.patch != "/usr/local/bin/gpatch" {
		t.Errorf("patch = %q", a.patch)
	}
	if a := New(WithPatchPath("")); a.patch != "patch" {
		t.Errorf("empty path should keep default, got %q", a.patch)
	}
}
