package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// treeCounts tallies what the walk wrote.
type treeCounts struct {
	dirs  int
	files int
}

// GenerateAndSaveTreeStructure walks targetDir and writes a text directory tree of the
// built site to outputFilePath. Entries named in skipNames (at any depth) are left out,
// which keeps generated bookkeeping files such as the metadata file out of the listing.
func GenerateAndSaveTreeStructure(targetDir, outputFilePath string, log *logrus.Entry, skipNames ...string) error {
	log.Debugf("Starting tree generation for target: %s", targetDir)
	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		return fmt.Errorf("%w: target directory '%s' does not exist: %w", ErrFilesystem, targetDir, err)
	} else if err != nil {
		return fmt.Errorf("%w: checking target directory '%s': %w", ErrFilesystem, targetDir, err)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create output file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	header := fmt.Sprintf("Site Structure for: %s", targetDir)
	if _, err = fmt.Fprintf(writer, "%s\n%s\n\n", header, strings.Repeat("=", len([]rune(header)))); err != nil {
		return err
	}
	if _, err = fmt.Fprintf(writer, "%s/\n", filepath.Base(targetDir)); err != nil {
		return err
	}

	skip := make(map[string]bool, len(skipNames)+1)
	for _, n := range skipNames {
		skip[n] = true
	}
	// Never list the structure file itself when it is written inside the tree
	skip[filepath.Base(outputFilePath)] = true

	var counts treeCounts
	if err = walkDirRecursive(writer, targetDir, "", skip, &counts, log); err != nil {
		log.Errorf("Error occurred during recursive walk for '%s': %v", targetDir, err)
		return fmt.Errorf("error generating tree structure for '%s': %w", targetDir, err)
	}

	if _, err = fmt.Fprintf(writer, "\n%d directories, %d files\n", counts.dirs, counts.files); err != nil {
		return err
	}
	log.Debugf("Tree for %s: %d directories, %d files", targetDir, counts.dirs, counts.files)
	return nil
}

// walkDirRecursive writes one directory level, directories first, then recurses.
func walkDirRecursive(writer io.Writer, dirPath, currentIndent string, skip map[string]bool, counts *treeCounts, log *logrus.Entry) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dirPath, err)
		return fmt.Errorf("%w: read directory '%s': %w", ErrFilesystem, dirPath, err)
	}

	entries = slices.DeleteFunc(entries, func(e os.DirEntry) bool { return skip[e.Name()] })

	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		isLast := i == len(entries)-1

		connector := entryPrefix
		nextIndent := currentIndent + verticalLine
		if isLast {
			connector = lastEntryPrefix
			nextIndent = currentIndent + indentPrefix
		}

		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		if _, writeErr := fmt.Fprintf(writer, "%s%s%s\n", currentIndent, connector, name); writeErr != nil {
			return writeErr
		}

		if !entry.IsDir() {
			counts.files++
			continue
		}
		counts.dirs++
		if err := walkDirRecursive(writer, filepath.Join(dirPath, entry.Name()), nextIndent, skip, counts, log); err != nil {
			return err
		}
	}
	return nil
}
