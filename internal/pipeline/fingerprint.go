package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/smallbiznis/booksight/internal/ingest"
)

// Fingerprint signs the current input source set: every file's relative
// path, size and modification time, walked in lexical order. An
// unchanged fingerprint means reprocessing would produce the same
// output.
func Fingerprint(dirs []string) (string, error) {
	h := sha256.New()
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: %s", ingest.ErrSourceUnavailable, dir)
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "%s|%s|%d|%d\n", filepath.Base(dir), rel, fi.Size(), fi.ModTime().UnixNano())
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ingest.ErrSourceUnavailable, dir, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
