// Package source finds the documents to ingest: a one-shot directory scan
// and a watcher that reports new or changed files.
package source

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"lukechampine.com/blake3"
)

// DefaultPatterns match every format the parser registry understands.
var DefaultPatterns = []string{"**/*.pdf", "**/*.txt", "**/*.md", "**/*.tex", "**/*.xlsx"}

// Match reports whether rel, a slash-separated path relative to the scanned
// root, matches any of patterns. Invalid patterns never match.
func Match(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Scan walks dir and returns the regular files matching patterns, sorted.
// Hidden files and directories are skipped. Nil patterns means
// DefaultPatterns.
func Scan(dir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("source: invalid pattern %q", p)
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		if Match(patterns, rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walking %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

func hidden(name string) bool {
	return len(name) > 1 && name[0] == '.'
}

// Fingerprint returns the hex BLAKE3-256 digest of the file's content.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("source: opening %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("source: hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes is Fingerprint for in-memory content.
func FingerprintBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
