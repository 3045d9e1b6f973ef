package process

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// CopyAsset copies a non-document file byte-for-byte, creating parent directories as needed.
// The destination keeps the source file's permission bits.
func CopyAsset(srcPath, dstPath string) (written int64, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("%w: opening asset '%s': %w", utils.ErrFilesystem, srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat asset '%s': %w", utils.ErrFilesystem, srcPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return 0, fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, dstPath, err)
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("%w: creating asset '%s': %w", utils.ErrFilesystem, dstPath, err)
	}

	written, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("%w: copying asset '%s': %w", utils.ErrFilesystem, srcPath, err)
	}
	return written, nil
}

// WriteOutput writes a built page, creating parent directories as needed.
func WriteOutput(dstPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, dstPath, err)
	}
	if err := os.WriteFile(dstPath, content, 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, dstPath, err)
	}
	return nil
}
