package source

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "b.pdf", "x")
	touch(t, root, "a.tex", "x")
	touch(t, root, "notes/groups.md", "x")
	touch(t, root, "notes/deep/rings.txt", "x")
	touch(t, root, "image.png", "x")
	touch(t, root, ".cache/hidden.md", "x")

	files, err := Scan(root, nil)
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "a.tex"),
		filepath.Join(root, "b.pdf"),
		filepath.Join(root, "notes", "deep", "rings.txt"),
		filepath.Join(root, "notes", "groups.md"),
	}
	assert.Equal(t, want, files)
}

func TestScanCustomPatterns(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "algebra/ch1.tex", "x")
	touch(t, root, "analysis/ch1.tex", "x")

	files, err := Scan(root, []string{"algebra/**/*.tex"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "algebra", "ch1.tex")}, files)
}

func TestScanErrors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := touch(t, t.TempDir(), "a.txt", "x")
	_, err = Scan(file, nil)
	assert.Error(t, err)

	_, err = Scan(t.TempDir(), []string{"[unclosed"})
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	assert.True(t, Match(DefaultPatterns, "x/y/z.pdf"))
	assert.True(t, Match(DefaultPatterns, "top.md"))
	assert.False(t, Match(DefaultPatterns, "top.docx"))
	assert.False(t, Match([]string{"[bad"}, "top.md"))
}

func TestFingerprint(t *testing.T) {
	root := t.TempDir()
	a := touch(t, root, "a.txt", "Lagrange")
	b := touch(t, root, "b.txt", "Lagrange")
	c := touch(t, root, "c.txt", "Sylow")

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	fc, err := Fingerprint(c)
	require.NoError(t, err)

	assert.Len(t, fa, 64)
	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
	assert.Equal(t, fa, FingerprintBytes([]byte("Lagrange")))

	_, err = Fingerprint(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestWatcherReportsSettledFiles(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, nil, 50*time.Millisecond)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]int)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(_ context.Context, path string) {
			mu.Lock()
			seen[path]++
			mu.Unlock()
		})
	}()

	doc := filepath.Join(root, "groups.md")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(doc, []byte("Theorem."), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.png"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[doc] == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, seen[doc], "bursts of writes must be reported once")
}
