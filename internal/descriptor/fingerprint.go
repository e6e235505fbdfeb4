package descriptor

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the tree at dir: relative paths, file modes, symlink
// targets and contents, in lexical order. Timestamps are ignored, so two
// byte-identical trees have the same fingerprint.
func Fingerprint(dir string) (string, error) {
	h := xxhash.New()
	var buf [8]byte

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		h.WriteString(filepath.ToSlash(rel))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint32(buf[:4], uint32(info.Mode()))
		h.Write(buf[:4])

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			h.WriteString(target)
		case info.Mode().IsRegular():
			binary.LittleEndian.PutUint64(buf[:], uint64(info.Size()))
			h.Write(buf[:])
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", dir, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
