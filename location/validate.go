package location

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/limits"
)

// ErrFileNotFound indicates the path of a local location does not exist.
var ErrFileNotFound = errors.New("file not found")

// ErrWrongLocalLocation indicates the path exists but does not match the
// registered location (not a regular file, wrong size, too large).
var ErrWrongLocalLocation = errors.New("wrong local location")

// ErrDirectoryTraversal indicates a path containing directory traversal.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// CleanPath normalizes p and rejects directory traversal attempts.
func CleanPath(p string) (string, error) {
	cleaned := filepath.Clean(p)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return cleaned, nil
}

// CheckFullLocal validates a full local location against the filesystem.
// On success it returns the location with Path cleaned, Size filled in from
// the file when the caller passed 0, and MTime stamped from the file.
// expectedSize of 0 means "take whatever is on disk".
func CheckFullLocal(loc FullLocal, expectedSize int64) (FullLocal, error) {
	path, err := CleanPath(loc.Path)
	if err != nil {
		return loc, err
	}
	loc.Path = path

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return loc, fmt.Errorf("%w: %q", ErrFileNotFound, path)
		}
		return loc, fmt.Errorf("%w: stat %q: %v", ErrWrongLocalLocation, path, err)
	}
	if !info.Mode().IsRegular() {
		return loc, fmt.Errorf("%w: %q is not a regular file", ErrWrongLocalLocation, path)
	}
	size := info.Size()
	if size > limits.MaxFileSize {
		return loc, fmt.Errorf("%w: size %d exceeds limit %d", ErrWrongLocalLocation, size, limits.MaxFileSize)
	}
	if expectedSize != 0 && expectedSize != size {
		logrus.WithFields(logrus.Fields{
			"function": "CheckFullLocal",
			"path":     path,
			"expected": expectedSize,
			"actual":   size,
		}).Warn("Local file size mismatch")
		return loc, fmt.Errorf("%w: size %d does not match expected %d", ErrWrongLocalLocation, size, expectedSize)
	}
	loc.Size = size
	loc.MTime = info.ModTime().UnixNano()
	return loc, nil
}
