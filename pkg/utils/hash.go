package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// CalculateFileSHA256 returns the hex SHA-256 of a file's content.
func CalculateFileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: open '%s': %w", ErrFilesystem, filePath, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("%w: read '%s': %w", ErrFilesystem, filePath, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// CalculateBytesSHA256 returns the hex SHA-256 of a document's source bytes.
// It is the content hash stored for incremental builds.
func CalculateBytesSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CopyIsCurrent reports whether dst already holds the content of src.
// A size mismatch means stale; a dst written after src is trusted without hashing.
func CopyIsCurrent(src, dst string) bool {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false
	}
	dstInfo, err := os.Stat(dst)
	if err != nil || dstInfo.IsDir() {
		return false
	}
	if srcInfo.Size() != dstInfo.Size() {
		return false
	}
	if !dstInfo.ModTime().Before(srcInfo.ModTime()) {
		return true
	}

	srcHash, err := CalculateFileSHA256(src)
	if err != nil {
		return false
	}
	dstHash, err := CalculateFileSHA256(dst)
	return err == nil && srcHash == dstHash
}
