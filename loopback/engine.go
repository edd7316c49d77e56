// Package loopback provides in-process engines for the file manager: a
// LoadEngine that "uploads" to an in-memory object table and "downloads"
// back from it chunk by chunk, and a GenerateEngine that copies the
// original path. They exist for demos and integration tests; production
// deployments supply engines backed by real transport.
package loopback

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore"
	"github.com/opd-ai/filecore/location"
)

// ChunkSize is the transfer granularity. Small enough that tests observe
// several progress callbacks on realistic payloads.
const ChunkSize = 1024

// storedObject is one uploaded blob on the pretend server.
type storedObject struct {
	content  []byte
	fileType location.FileType
}

// Engine implements filecore.LoadEngine and filecore.GenerateEngine
// against an in-memory object table.
type Engine struct {
	mu        sync.Mutex
	load      filecore.LoadCallback
	gen       filecore.GenerateCallback
	objects   map[location.RemoteKey]storedObject
	cancelled map[filecore.QueryID]bool
	nextID    int64
	dir       string
	wg        sync.WaitGroup
}

// NewEngine creates an engine writing downloaded files under dir.
func NewEngine(dir string) *Engine {
	return &Engine{
		objects:   make(map[location.RemoteKey]storedObject),
		cancelled: make(map[filecore.QueryID]bool),
		nextID:    1,
		dir:       dir,
	}
}

// Bind attaches the manager's callbacks. It must be called before the
// engine receives queries; the split exists because the manager and the
// engine reference each other.
func (e *Engine) Bind(load filecore.LoadCallback, gen filecore.GenerateCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load = load
	e.gen = gen
}

// Seed stores content under a remote key so downloads can find it.
func (e *Engine) Seed(key location.RemoteKey, fileType location.FileType, content []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objects[key] = storedObject{content: append([]byte(nil), content...), fileType: fileType}
}

// Wait blocks until all in-flight queries have finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) isCancelled(q filecore.QueryID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[q]
}

// Cancel implements both engine interfaces.
func (e *Engine) Cancel(q filecore.QueryID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[q] = true
}

// StartDownload implements filecore.LoadEngine.
func (e *Engine) StartDownload(q filecore.QueryID, snap filecore.NodeSnapshot) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mu.Lock()
		cb := e.load
		obj, ok := e.objects[snap.Remote.Full.Key()]
		e.mu.Unlock()

		if !ok {
			cb.OnError(q, filecore.ErrFileNotFound)
			return
		}
		cb.OnStartDownload(q)

		dest := filepath.Join(e.dir, "download_"+snap.Remote.Full.Key().String())
		f, err := os.Create(dest)
		if err != nil {
			cb.OnError(q, err)
			return
		}

		var written int64
		for written < int64(len(obj.content)) {
			if e.isCancelled(q) {
				f.Close()
				os.Remove(dest)
				return
			}
			end := min(written+ChunkSize, int64(len(obj.content)))
			if _, err := f.Write(obj.content[written:end]); err != nil {
				f.Close()
				cb.OnError(q, err)
				return
			}
			written = end
			cb.OnPartialDownload(q, location.PartialLocal{
				FileType:        obj.fileType,
				Path:            dest,
				PartSize:        ChunkSize,
				ReadyPartCount:  int32(written / ChunkSize),
				ReadyPrefixSize: written,
			}, written)
		}
		if err := f.Close(); err != nil {
			cb.OnError(q, err)
			return
		}
		info, err := os.Stat(dest)
		if err != nil {
			cb.OnError(q, err)
			return
		}
		cb.OnDownloadOK(q, location.FullLocal{
			FileType: obj.fileType,
			Path:     dest,
			Size:     info.Size(),
			MTime:    info.ModTime().UnixNano(),
		}, info.Size())
	}()
}

// StartUpload implements filecore.LoadEngine. The upload is confirmed
// immediately: OnUploadOK with the part table, then OnUploadFullOK with
// the permanent coordinates.
func (e *Engine) StartUpload(q filecore.QueryID, snap filecore.NodeSnapshot, badParts []int32) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mu.Lock()
		cb := e.load
		id := e.nextID
		e.nextID++
		e.mu.Unlock()

		content, err := os.ReadFile(snap.Local.Full.Path)
		if err != nil {
			cb.OnError(q, err)
			return
		}

		partCount := int32((int64(len(content)) + ChunkSize - 1) / ChunkSize)
		var sent int64
		for part := int32(1); part <= partCount; part++ {
			if e.isCancelled(q) {
				return
			}
			sent = min(int64(part)*ChunkSize, int64(len(content)))
			cb.OnPartialUpload(q, location.PartialRemote{
				ID:             id,
				PartCount:      partCount,
				PartSize:       ChunkSize,
				ReadyPartCount: part,
			}, sent)
		}

		remote := location.FullRemote{
			FileType:   snap.Local.Full.FileType,
			DC:         1,
			ID:         id,
			AccessHash: id * 31,
		}
		e.mu.Lock()
		e.objects[remote.Key()] = storedObject{content: content, fileType: remote.FileType}
		e.mu.Unlock()

		cb.OnUploadOK(q, remote.FileType, location.PartialRemote{
			ID:             id,
			PartCount:      partCount,
			PartSize:       ChunkSize,
			ReadyPartCount: partCount,
		}, int64(len(content)))
		cb.OnUploadFullOK(q, remote)
	}()
}

// FromBytes implements filecore.LoadEngine: the payload is written to
// disk and reported as a finished download.
func (e *Engine) FromBytes(q filecore.QueryID, fileType location.FileType, name string, content []byte) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mu.Lock()
		cb := e.load
		id := e.nextID
		e.nextID++
		e.mu.Unlock()

		if name == "" {
			name = "content"
		}
		dest := filepath.Join(e.dir, "bytes_"+name+"_"+location.RemoteKey{DC: 0, ID: id}.String())
		if err := os.WriteFile(dest, content, 0o600); err != nil {
			cb.OnError(q, err)
			return
		}
		info, err := os.Stat(dest)
		if err != nil {
			cb.OnError(q, err)
			return
		}
		cb.OnDownloadOK(q, location.FullLocal{
			FileType: fileType,
			Path:     dest,
			Size:     info.Size(),
			MTime:    info.ModTime().UnixNano(),
		}, info.Size())
	}()
}

// StartGenerate implements filecore.GenerateEngine by copying the
// original path to the destination chunk by chunk.
func (e *Engine) StartGenerate(q filecore.QueryID, gen location.FullGenerate, destPath string, expectedSize int64) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mu.Lock()
		cb := e.gen
		e.mu.Unlock()

		src, err := os.Open(gen.OriginalPath)
		if err != nil {
			cb.OnGenerateError(q, err)
			return
		}
		defer src.Close()
		if err := os.MkdirAll(filepath.Dir(destPath), 0o700); err != nil {
			cb.OnGenerateError(q, err)
			return
		}
		dst, err := os.Create(destPath)
		if err != nil {
			cb.OnGenerateError(q, err)
			return
		}

		var written int64
		buf := make([]byte, ChunkSize)
		for {
			if e.isCancelled(q) {
				dst.Close()
				os.Remove(destPath)
				return
			}
			n, readErr := src.Read(buf)
			if n > 0 {
				if _, err := dst.Write(buf[:n]); err != nil {
					dst.Close()
					cb.OnGenerateError(q, err)
					return
				}
				written += int64(n)
				cb.OnPartialGenerate(q, location.PartialLocal{
					FileType:        gen.FileType,
					Path:            destPath,
					PartSize:        ChunkSize,
					ReadyPartCount:  int32(written / ChunkSize),
					ReadyPrefixSize: written,
				}, max(expectedSize, written))
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				dst.Close()
				cb.OnGenerateError(q, readErr)
				return
			}
		}
		if err := dst.Close(); err != nil {
			cb.OnGenerateError(q, err)
			return
		}
		info, err := os.Stat(destPath)
		if err != nil {
			cb.OnGenerateError(q, err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "StartGenerate",
			"query_id": uint64(q),
			"dest":     destPath,
			"size":     info.Size(),
		}).Debug("Loopback generation finished")
		cb.OnGenerateOK(q, location.FullLocal{
			FileType: gen.FileType,
			Path:     destPath,
			Size:     info.Size(),
			MTime:    info.ModTime().UnixNano(),
		})
	}()
}
