package filecore

import (
	"errors"

	"github.com/opd-ai/filecore/location"
)

// Error kinds returned by the public API and delivered to per-handle
// callbacks. Invalid-argument kinds are returned synchronously at the call
// site; transfer and generation kinds arrive through callbacks.
var (
	// ErrInvalidFileID indicates a handle that does not address a live node.
	ErrInvalidFileID = errors.New("invalid file id")

	// ErrWrongFileType indicates a file type that does not match the
	// operation (for example a plain type where an encrypted one is needed).
	ErrWrongFileType = errors.New("wrong file type")

	// ErrWrongLocalLocation indicates a local location that failed
	// validation against the filesystem.
	ErrWrongLocalLocation = location.ErrWrongLocalLocation

	// ErrFileNotFound indicates a local path that does not exist, or a
	// content read on a node with no full local location.
	ErrFileNotFound = location.ErrFileNotFound

	// ErrCantShareOwnership indicates a merge between nodes holding
	// conflicting full locations of the same kind.
	ErrCantShareOwnership = errors.New("can't share ownership")

	// ErrWrongRemoteLocation indicates a malformed remote location.
	ErrWrongRemoteLocation = errors.New("wrong remote location")

	// ErrWrongPersistentID indicates a persistent id that failed to decode.
	ErrWrongPersistentID = errors.New("wrong persistent id")

	// ErrUnsupportedVersion indicates a persistent id carrying a version
	// this build does not understand.
	ErrUnsupportedVersion = errors.New("unsupported persistent id version")

	// ErrCancelled indicates an operation interrupted by cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrIO indicates a local input/output failure.
	ErrIO = errors.New("io error")

	// ErrTransfer indicates a failure reported by the transfer engine.
	ErrTransfer = errors.New("transfer error")

	// ErrGenerationFailed indicates a failure reported by the generate
	// engine.
	ErrGenerationFailed = errors.New("generation failed")
)

// temporary is the classic net-style marker for errors worth retrying.
type temporary interface {
	Temporary() bool
}

// isTransientError reports whether err may succeed on retry. Engines mark
// network-level failures with a Temporary() method; everything else
// (wrong key, not found, local I/O) is terminal.
func isTransientError(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}
