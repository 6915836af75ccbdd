// Package security keeps generated output paths inside the directories
// the operator chose for them.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a path resolves outside its base directory.
var ErrPathTraversal = errors.New("path escapes base directory")

const maxFilenameLen = 128

// ValidatePathWithinDirectory checks that filePath resolves inside baseDir.
// Symlinks are resolved for whichever prefix of each path already exists,
// so a link under baseDir pointing elsewhere is rejected.
func ValidatePathWithinDirectory(filePath, baseDir string) error {
	canonicalPath, err := canonical(filePath)
	if err != nil {
		return err
	}
	canonicalBase, err := canonical(baseDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(canonicalBase, canonicalPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathTraversal, filePath, baseDir)
	}
	return nil
}

// canonical returns the absolute path of p with symlinks in its longest
// existing prefix resolved.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	existing, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

// SanitizeFilename maps s to a file name of ASCII letters, digits, dot,
// underscore and dash. Runs of other characters become one underscore.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// RunDirectory names a per-run output directory under baseDir from the
// sanitised parts joined with dashes, e.g. plots/tof-20250301-120000.
func RunDirectory(baseDir string, parts ...string) (string, error) {
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, SanitizeFilename(p))
	}
	dir := filepath.Join(baseDir, strings.Join(names, "-"))
	if err := ValidatePathWithinDirectory(dir, baseDir); err != nil {
		return "", err
	}
	return dir, nil
}
