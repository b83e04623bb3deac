package rag

import (
	"fmt"
	"path/filepath"
	"strings"
)

// UploadFilePrefix names temp files written for uploads. A file under TempDir
// with this prefix is owned by the pipeline and deleted with its cache entry.
const UploadFilePrefix = "upload-"

// sourceGuard confines source reads to a set of root directories.
// A guard without roots allows every path.
type sourceGuard struct {
	roots []string
}

func newSourceGuard(dirs ...string) *sourceGuard {
	g := &sourceGuard{}
	seen := make(map[string]bool)
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		forms := []string{abs}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
			forms = append(forms, resolved)
		}
		for _, f := range forms {
			if !seen[f] {
				seen[f] = true
				g.roots = append(g.roots, f)
			}
		}
	}
	return g
}

// check returns the absolute path when it lies under a root. Symlinks are
// resolved so a link inside a root cannot point outside of it.
func (g *sourceGuard) check(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if len(g.roots) == 0 {
		return abs, nil
	}
	if !g.contains(abs) {
		return "", fmt.Errorf("%w: %w", ErrSourceUnreadable, ErrPathNotAllowed)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// missing files fail later with the parser's error
		return abs, nil
	}
	if !g.contains(resolved) {
		return "", fmt.Errorf("%w: %w", ErrSourceUnreadable, ErrPathNotAllowed)
	}
	return abs, nil
}

func (g *sourceGuard) contains(path string) bool {
	for _, root := range g.roots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// isUploadTemp reports whether path is an upload temp file inside tempDir.
func isUploadTemp(tempDir, path string) bool {
	if tempDir == "" || !strings.HasPrefix(filepath.Base(path), UploadFilePrefix) {
		return false
	}
	dir, err := filepath.Abs(tempDir)
	if err != nil {
		return false
	}
	return within(dir, path)
}
