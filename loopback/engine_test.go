package loopback

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/filecore"
	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

type doneDownloadCallback struct {
	mu       sync.Mutex
	progress int
	done     chan struct{}
	errs     []error
}

func newDoneDownloadCallback() *doneDownloadCallback {
	return &doneDownloadCallback{done: make(chan struct{}, 1)}
}

func (c *doneDownloadCallback) OnProgress(filecore.FileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress++
}

func (c *doneDownloadCallback) OnDownloadOK(filecore.FileID) { c.done <- struct{}{} }

func (c *doneDownloadCallback) OnDownloadError(_ filecore.FileID, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.done <- struct{}{}
}

type doneUploadCallback struct {
	mu     sync.Mutex
	tokens []filecore.InputFileToken
	errs   []error
	done   chan struct{}
}

func newDoneUploadCallback() *doneUploadCallback {
	return &doneUploadCallback{done: make(chan struct{}, 1)}
}

func (c *doneUploadCallback) OnProgress(filecore.FileID) {}

func (c *doneUploadCallback) OnUploadOK(_ filecore.FileID, token filecore.InputFileToken) {
	c.mu.Lock()
	c.tokens = append(c.tokens, token)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *doneUploadCallback) OnUploadEncryptedOK(filecore.FileID, filecore.EncryptedInputFileToken) {
}

func (c *doneUploadCallback) OnUploadError(_ filecore.FileID, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func newManager(t *testing.T) (*filecore.Manager, *Engine) {
	t.Helper()
	engine := NewEngine(t.TempDir())
	opts := filecore.DefaultOptions()
	opts.LoadEngine = engine
	opts.GenerateEngine = engine
	opts.Store = metastore.NewMemoryStore()
	opts.GenerateDir = t.TempDir()
	mgr, err := filecore.New(opts)
	require.NoError(t, err)
	engine.Bind(mgr, mgr)
	t.Cleanup(func() { mgr.Close() })
	return mgr, engine
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not finish")
	}
}

// End to end: upload a local file, then download it back through the
// confirmed remote identity on a second manager.
func TestUploadThenDownloadRoundTrip(t *testing.T) {
	mgr, engine := newManager(t)

	payload := make([]byte, 3*ChunkSize+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	id, err := mgr.RegisterLocal(location.FullLocal{
		FileType: location.FileTypeDocument,
		Path:     src,
	}, 1, 0, false, false)
	require.NoError(t, err)

	upload := newDoneUploadCallback()
	require.NoError(t, mgr.Upload(id, upload, 5, 1))
	waitDone(t, upload.done)
	engine.Wait()

	view, err := mgr.GetFileView(id)
	require.NoError(t, err)
	require.True(t, view.HasRemoteLocation(), "the loopback server confirms immediately")
	remote := view.RemoteLocation()

	// A second manager sharing the same "server" downloads by identity.
	mgr2, engine2 := newManager(t)
	engine2.Seed(remote.Key(), remote.FileType, payload)

	id2, err := mgr2.RegisterRemote(remote, 1, int64(len(payload)), 0, "copy.bin")
	require.NoError(t, err)
	download := newDoneDownloadCallback()
	require.NoError(t, mgr2.Download(id2, download, 3))
	waitDone(t, download.done)
	engine2.Wait()

	assert.Empty(t, download.errs)
	got, err := mgr2.GetContent(id2)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	download.mu.Lock()
	progress := download.progress
	download.mu.Unlock()
	assert.Greater(t, progress, 1, "chunked download reports intermediate progress")
}

func TestDownloadMissingObjectFails(t *testing.T) {
	mgr, _ := newManager(t)
	id, err := mgr.RegisterRemote(location.FullRemote{
		FileType: location.FileTypeDocument,
		DC:       1,
		ID:       424242,
	}, 1, 0, 0, "")
	require.NoError(t, err)

	download := newDoneDownloadCallback()
	require.NoError(t, mgr.Download(id, download, 3))
	waitDone(t, download.done)

	download.mu.Lock()
	defer download.mu.Unlock()
	assert.NotEmpty(t, download.errs)
}

func TestGenerateProducesLocal(t *testing.T) {
	mgr, engine := newManager(t)

	original := filepath.Join(t.TempDir(), "original.txt")
	content := []byte("generate me, chunk by chunk")
	require.NoError(t, os.WriteFile(original, content, 0o600))

	id, err := mgr.RegisterGenerate(location.FileTypeDocument, original, "copy", 1, 0)
	require.NoError(t, err)

	download := newDoneDownloadCallback()
	require.NoError(t, mgr.Download(id, download, 2))
	waitDone(t, download.done)
	engine.Wait()

	got, err := mgr.GetContent(id)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSetContentThroughEngine(t *testing.T) {
	mgr, engine := newManager(t)

	id, err := mgr.RegisterEmpty(location.FileTypeDocument)
	require.NoError(t, err)
	require.NoError(t, mgr.SetContent(id, []byte("written directly")))
	engine.Wait()

	got, err := mgr.GetContent(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("written directly"), got)
}
