package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyIsCurrent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "logo.png")
	dst := filepath.Join(dir, "dist", "logo.png")
	write := func(path, content string) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	touch := func(path string, at time.Time) {
		t.Helper()
		require.NoError(t, os.Chtimes(path, at, at))
	}
	now := time.Now()

	write(src, "abc")
	assert.False(t, CopyIsCurrent(src, dst), "missing copy")

	write(dst, "abc")
	touch(src, now.Add(-time.Hour))
	touch(dst, now)
	assert.True(t, CopyIsCurrent(src, dst), "copy newer than source")

	touch(src, now.Add(time.Hour))
	assert.True(t, CopyIsCurrent(src, dst), "touched source with identical bytes")

	write(src, "abd")
	touch(src, now.Add(time.Hour))
	assert.False(t, CopyIsCurrent(src, dst), "same size, different bytes")

	write(src, "abcd")
	assert.False(t, CopyIsCurrent(src, dst), "size changed")

	assert.False(t, CopyIsCurrent(filepath.Join(dir, "gone.png"), dst), "missing source")
	assert.False(t, CopyIsCurrent(src, filepath.Join(dir, "dist")), "directory in the way")
}
