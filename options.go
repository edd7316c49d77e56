package filecore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/opd-ai/filecore/metastore"
)

// Options configures a Manager.
type Options struct {
	// Context receives outward notifications. May be nil.
	Context Context

	// Store persists file metadata between sessions. May be nil, in which
	// case the manager runs purely in memory.
	Store metastore.Store

	// LoadEngine executes downloads and uploads. Required.
	LoadEngine LoadEngine

	// GenerateEngine produces files from generate locations. May be nil
	// when no generate locations are registered.
	GenerateEngine GenerateEngine

	// GenerateDir is where generated files are written.
	GenerateDir string

	// RetryInitialInterval is the first delay after a transient transfer
	// error.
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps the delay between retries.
	RetryMaxInterval time.Duration

	// RetryMaxElapsed bounds the total time spent retrying one operation
	// before the error is surfaced as terminal.
	RetryMaxElapsed time.Duration
}

// DefaultOptions returns the baseline configuration. The caller still has
// to wire the engines.
func DefaultOptions() *Options {
	return &Options{
		GenerateDir:          filepath.Join(os.TempDir(), "filecore-generate"),
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     30 * time.Second,
		RetryMaxElapsed:      5 * time.Minute,
	}
}
