package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotUnderBase is returned by RelativeTo when the full path does not live below the base path.
var ErrNotUnderBase = errors.New("path is not under base path")

const pathSeparators = "/\\"

// AddTrailingSeparator strips any trailing slash or backslash and appends exactly one
// platform path separator.
func AddTrailingSeparator(p string) string {
	return strings.TrimRight(p, pathSeparators) + string(os.PathSeparator)
}

// AddTrailingSlash is AddTrailingSeparator for backend paths, which always use "/".
func AddTrailingSlash(p string) string {
	return strings.TrimRight(p, pathSeparators) + "/"
}

// RelativeTo returns fullPath relative to basePath. Leading and trailing slashes on both
// inputs are ignored, so "a/b/" and "/a/b" name the same base.
func RelativeTo(fullPath, basePath string) (string, error) {
	full := strings.Trim(filepath.ToSlash(fullPath), "/")
	base := strings.Trim(filepath.ToSlash(basePath), "/")

	if base == "" {
		return full, nil
	}
	if full == base {
		return "", nil
	}
	if !strings.HasPrefix(full, base+"/") {
		return "", fmt.Errorf("%w: %q is outside %q", ErrNotUnderBase, fullPath, basePath)
	}
	return strings.TrimLeft(full[len(base):], "/"), nil
}

// PathID returns a stable identifier for a path. The same cleaned path always yields the
// same identifier across runs and processes.
func PathID(p string) string {
	cleaned := filepath.ToSlash(filepath.Clean(p))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+cleaned)).String()
}

// WithinRoot reports whether target, once cleaned, stays inside root.
func WithinRoot(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
