// Package limits provides centralized size limits for managed files.
// This ensures consistent validation across registration, transfer and
// generation paths.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFileSize is the largest file the manager will register or
	// transfer (2000 MiB, matching the content servers' hard limit).
	MaxFileSize = 2000 * 1024 * 1024

	// MaxFileNameLength is the maximum allowed file name length in bytes.
	// The value (255) matches typical filesystem limits.
	MaxFileNameLength = 255

	// MaxPartSize is the largest transfer part the engines may report.
	MaxPartSize = 512 * 1024

	// MaxSetContentSize is the largest payload accepted by direct content
	// writes; bigger payloads must go through the transfer engine.
	MaxSetContentSize = 64 * 1024 * 1024

	// MaxConversionLength bounds generate conversion recipes, which are
	// persisted verbatim in every metadata record.
	MaxConversionLength = 1024
)

var (
	// ErrFileTooLarge indicates a file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNameTooLong indicates a file name exceeds MaxFileNameLength.
	ErrNameTooLong = errors.New("file name too long")
)

// ValidateFileSize validates a file size against MaxFileSize. Negative
// sizes are rejected as well.
func ValidateFileSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrFileTooLarge, size)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, size, int64(MaxFileSize))
	}
	return nil
}

// ValidateFileName validates a file name length.
func ValidateFileName(name string) error {
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrNameTooLong, len(name), MaxFileNameLength)
	}
	return nil
}
