package utils

import (
	"path/filepath"
	"regexp"
)

// PathPatterns matches source paths, relative to a site's source dir, against exclude patterns.
type PathPatterns []*regexp.Regexp

// CompilePathPatterns compiles exclude_patterns. Empty entries are skipped.
func CompilePathPatterns(patterns []string) (PathPatterns, error) {
	compiled := make(PathPatterns, 0, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, WrapErrorf(ErrConfigValidation, "invalid exclude pattern #%d ('%s'): %v", i+1, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Match reports whether relPath matches any pattern. Paths are matched in slash form;
// directories are also tested with a trailing slash so "^drafts/" excludes the directory itself.
func (p PathPatterns) Match(relPath string, isDir bool) bool {
	rel := filepath.ToSlash(relPath)
	for _, re := range p {
		if re.MatchString(rel) || (isDir && re.MatchString(rel+"/")) {
			return true
		}
	}
	return false
}
