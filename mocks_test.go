package filecore

import (
	"sync"

	"github.com/opd-ai/filecore/location"
)

// engineCall records one invocation of a mock engine.
type engineCall struct {
	kind     string
	queryID  QueryID
	snap     NodeSnapshot
	badParts []int32
	content  []byte
	gen      location.FullGenerate
	destPath string
}

// mockLoadEngine records every call so tests can drive the manager's
// callbacks by hand.
type mockLoadEngine struct {
	mu    sync.Mutex
	calls []engineCall
}

func newMockLoadEngine() *mockLoadEngine { return &mockLoadEngine{} }

func (e *mockLoadEngine) record(c engineCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
}

func (e *mockLoadEngine) StartDownload(q QueryID, snap NodeSnapshot) {
	e.record(engineCall{kind: "download", queryID: q, snap: snap})
}

func (e *mockLoadEngine) StartUpload(q QueryID, snap NodeSnapshot, badParts []int32) {
	kind := "upload"
	if snap.ByHash {
		kind = "upload_by_hash"
	}
	e.record(engineCall{kind: kind, queryID: q, snap: snap, badParts: badParts})
}

func (e *mockLoadEngine) FromBytes(q QueryID, fileType location.FileType, name string, content []byte) {
	e.record(engineCall{kind: "from_bytes", queryID: q, content: content})
}

func (e *mockLoadEngine) Cancel(q QueryID) {
	e.record(engineCall{kind: "cancel", queryID: q})
}

func (e *mockLoadEngine) callsOf(kind string) []engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engineCall
	for _, c := range e.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (e *mockLoadEngine) lastOf(kind string) (engineCall, bool) {
	calls := e.callsOf(kind)
	if len(calls) == 0 {
		return engineCall{}, false
	}
	return calls[len(calls)-1], true
}

// mockGenerateEngine mirrors mockLoadEngine for generations.
type mockGenerateEngine struct {
	mu    sync.Mutex
	calls []engineCall
}

func newMockGenerateEngine() *mockGenerateEngine { return &mockGenerateEngine{} }

func (e *mockGenerateEngine) StartGenerate(q QueryID, gen location.FullGenerate, destPath string, expectedSize int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{kind: "generate", queryID: q, gen: gen, destPath: destPath})
}

func (e *mockGenerateEngine) Cancel(q QueryID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{kind: "cancel", queryID: q})
}

func (e *mockGenerateEngine) callsOf(kind string) []engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engineCall
	for _, c := range e.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// recordingDownloadCallback collects per-handle download events.
type recordingDownloadCallback struct {
	mu       sync.Mutex
	progress []FileID
	ok       []FileID
	errs     []error
}

func (c *recordingDownloadCallback) OnProgress(id FileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, id)
}

func (c *recordingDownloadCallback) OnDownloadOK(id FileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ok = append(c.ok, id)
}

func (c *recordingDownloadCallback) OnDownloadError(id FileID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recordingDownloadCallback) okCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ok)
}

func (c *recordingDownloadCallback) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// recordingUploadCallback collects per-handle upload events.
type recordingUploadCallback struct {
	mu        sync.Mutex
	progress  []FileID
	tokens    []InputFileToken
	encTokens []EncryptedInputFileToken
	errs      []error
}

func (c *recordingUploadCallback) OnProgress(id FileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, id)
}

func (c *recordingUploadCallback) OnUploadOK(id FileID, token InputFileToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
}

func (c *recordingUploadCallback) OnUploadEncryptedOK(id FileID, token EncryptedInputFileToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encTokens = append(c.encTokens, token)
}

func (c *recordingUploadCallback) OnUploadError(id FileID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recordingUploadCallback) tokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func (c *recordingUploadCallback) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// mockContext counts outward notifications.
type mockContext struct {
	mu       sync.Mutex
	newFiles int
	updates  []FileID
}

func (c *mockContext) OnNewFile(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newFiles++
}

func (c *mockContext) OnFileUpdated(id FileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, id)
}

func (c *mockContext) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

// transientErr marks an error as retryable the way engines mark network
// failures.
type transientErr struct{ msg string }

func (e transientErr) Error() string   { return e.msg }
func (e transientErr) Temporary() bool { return true }
