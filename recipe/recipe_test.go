package recipe

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	r := MbedTLS("")
	id := r.Identity()

	assert.Equal(t, "mbedtls", id.Name)
	assert.Equal(t, "v3.5.0", id.Revision)
	assert.Equal(t, "patched-v3.5.0", id.Version)
	assert.NotEqual(t, id.Revision, id.Version)
	assert.Equal(t, "mbedtls@patched-v3.5.0", id.String())
}

func TestIdentityKey(t *testing.T) {
	id := MbedTLS("").Identity()

	d1 := digest.FromString("patch one")
	d2 := digest.FromString("patch two")

	inputs := digest.FromString("options")

	k1 := id.Key(d1.String(), inputs.String())
	assert.Equal(t, "patched-v3.5.0+"+d1.Encoded()[:12]+"."+inputs.Encoded()[:12], k1)
	assert.NotEqual(t, k1, id.Key(d2.String(), inputs.String()))
	assert.NotEqual(t, k1, id.Key(d1.String(), digest.FromString("other options").String()))

	other := &Recipe{Name: "mbedtls", Revision: "v3.6.0"}
	assert.NotEqual(t, k1, other.Identity().Key(d1.String(), inputs.String()))

	assert.Equal(t, "patched-v3.5.0+abc.def", id.Key("abc", "def"))
}

func TestPatchName(t *testing.T) {
	r := MbedTLS("/recipes/mbedtls")
	assert.Equal(t, "mbedtls-v3.5.0.patch", r.PatchName())
	assert.Equal(t, filepath.Join("/recipes/mbedtls", "mbedtls-v3.5.0.patch"), r.PatchPath())

	r.Patch = "custom.diff"
	assert.Equal(t, "custom.diff", r.PatchName())
}

func TestDefaults(t *testing.T) {
	r := MbedTLS("")
	assert.Equal(t, 1, r.Strip())
	assert.Equal(t, "mbedtls", r.Root())

	strip := 2
	r.PatchStrip = &strip
	r.BasePath = "mbedtls/library"
	assert.Equal(t, 2, r.Strip())
	assert.Equal(t, "mbedtls/library", r.Root())
	assert.NoError(t, r.Validate())

	// -p0 patches stay expressible.
	strip = 0
	assert.Equal(t, 0, r.Strip())
}

func TestBuildOptionsIsCopy(t *testing.T) {
	r := MbedTLS("")
	opts := r.BuildOptions()
	assert.Equal(t, map[string]string{"ENABLE_TESTING": "OFF", "ENABLE_PROGRAMS": "OFF"}, opts)

	opts["ENABLE_TESTING"] = "ON"
	assert.Equal(t, "OFF", r.Options["ENABLE_TESTING"])
}

func TestPinned(t *testing.T) {
	tests := []struct {
		rev  string
		want bool
	}{
		{"v3.5.0", true},
		{"v3.5.0-rc1", true},
		{"v3.5", false},
		{"main", false},
		{"development", false},
		{"", false},
		{"0123456789abcdef0123456789abcdef01234567", true},
		{"0123456789ABCDEF0123456789abcdef01234567", false},
		{"0123456", false},
	}
	for _, tt := range tests {
		t.Run(tt.rev, func(t *testing.T) {
			assert.Equal(t, tt.want, Pinned(tt.rev))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Recipe)
		wantErr error
	}{
		{"ok", func(r *Recipe) {}, nil},
		{"no name", func(r *Recipe) { r.Name = "" }, ErrNoName},
		{"no repository", func(r *Recipe) { r.Repository = "" }, ErrNoRepository},
		{"branch", func(r *Recipe) { r.Revision = "development" }, ErrNotPinned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MbedTLS("")
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	r := MbedTLS("")
	r.Descriptor.FindMode = "guess"
	assert.Error(t, r.Validate())

	r = MbedTLS("")
	r.Descriptor.BuildDirs = []string{"../outside"}
	assert.Error(t, r.Validate())

	for _, base := range []string{"../mbedtls", ".", "library", "mbedtls-other", "/mbedtls"} {
		r = MbedTLS("")
		r.BasePath = base
		assert.Error(t, r.Validate(), "base path %q", base)
	}

	r = MbedTLS("")
	strip := -1
	r.PatchStrip = &strip
	assert.Error(t, r.Validate())
}

func TestParse(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "recipes", "mbedtls", File))
	require.NoError(t, err)

	r, err := Parse(data)
	require.NoError(t, err)

	want := MbedTLS("")
	assert.Equal(t, want.Name, r.Name)
	assert.Equal(t, want.Repository, r.Repository)
	assert.Equal(t, want.Revision, r.Revision)
	assert.Equal(t, want.Options, r.Options)
	assert.Equal(t, want.Descriptor, r.Descriptor)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("name: [broken"))
	assert.Error(t, err)

	_, err = Parse([]byte("name: zlib\nrepository: https://github.com/madler/zlib\nrevision: develop\n"))
	assert.ErrorContains(t, err, ErrNotPinned.Error())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := `name: zlib
repository: https://github.com/madler/zlib.git
revision: v1.3.1
patch: zlib.patch
patch_strip: 0
base_path: zlib/contrib/minizip
options:
  ZLIB_BUILD_EXAMPLES: "OFF"
package:
  builddirs: [lib/cmake/zlib]
  find_mode: config
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, File), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zlib.patch"), []byte("--- a\n+++ b\n"), 0o644))

	r, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, r.Dir)
	assert.Equal(t, "zlib/contrib/minizip", r.Root())
	assert.Equal(t, 0, r.Strip())
	assert.Equal(t, filepath.Join(dir, "zlib.patch"), r.PatchPath())

	d, err := r.PatchDigest()
	require.NoError(t, err)
	assert.Equal(t, digest.FromString("--- a\n+++ b\n"), d)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestPatchDigestFS(t *testing.T) {
	r := MbedTLS("")
	r.DirFS = fstest.MapFS{
		"mbedtls-v3.5.0.patch": {Data: []byte("diff")},
	}
	d, err := r.PatchDigest()
	require.NoError(t, err)
	assert.Equal(t, digest.FromString("diff"), d)

	r.DirFS = fstest.MapFS{}
	_, err = r.PatchDigest()
	assert.Error(t, err)
}
