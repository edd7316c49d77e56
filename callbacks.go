package filecore

import "github.com/opd-ai/filecore/location"

// InputFileToken is handed to the upload callback once the bytes are on the
// server but before the server has confirmed a permanent identity. The
// caller attaches it to an outgoing message; the confirming identity
// arrives later through the node's remote location.
type InputFileToken struct {
	ID        int64
	PartCount int32
	Name      string
}

// EncryptedInputFileToken is the encrypted-file variant of InputFileToken.
// KeyFingerprint is derived from the node's opaque encryption key.
type EncryptedInputFileToken struct {
	ID             int64
	PartCount      int32
	KeyFingerprint int32
}

// DownloadCallback receives per-handle download events. OnProgress may fire
// any number of times before exactly one of OnDownloadOK or OnDownloadError.
type DownloadCallback interface {
	OnProgress(fileID FileID)
	OnDownloadOK(fileID FileID)
	OnDownloadError(fileID FileID, err error)
}

// UploadCallback receives per-handle upload events.
//
// After OnUploadOK, uploads requested through the handle that started the
// upload are paused until OnUploadFullOK, a merge, a
// DeletePartialRemoteLocation, or a ResumeUpload through that handle. A
// plain Upload through the paused handle stays suppressed; an upload driven
// by a different handle proceeds.
type UploadCallback interface {
	OnProgress(fileID FileID)
	OnUploadOK(fileID FileID, token InputFileToken)
	OnUploadEncryptedOK(fileID FileID, token EncryptedInputFileToken)
	OnUploadError(fileID FileID, err error)
}

// Context is the manager's outward notification surface.
type Context interface {
	// OnNewFile fires when a node is created, with its best known size.
	OnNewFile(size int64)
	// OnFileUpdated fires when a node's user-observable summary changed.
	OnFileUpdated(fileID FileID)
}

// NodeSnapshot is the immutable view of a node handed to the engines when
// a query starts.
type NodeSnapshot struct {
	FileID        FileID
	Local         location.Local
	Remote        location.Remote
	Generate      location.Generate
	Size          int64
	ExpectedSize  int64
	Name          string
	EncryptionKey []byte
	Priority      int32
	UploadOrder   uint64
	ByHash        bool
	ContentHash   location.Hash
}

// QueryID identifies one outstanding query issued to an engine. Ids are
// never reused; a callback bearing an id no longer in the query table is
// stale and dropped.
type QueryID uint64

// LoadEngine is the byte-level transfer engine. It executes downloads and
// uploads asynchronously and reports through a LoadCallback, which Manager
// implements. New does not hand the callback to the engine; the engine's
// owner wires the two together (see loopback.Engine.Bind).
type LoadEngine interface {
	StartDownload(q QueryID, snap NodeSnapshot)
	StartUpload(q QueryID, snap NodeSnapshot, badParts []int32)
	FromBytes(q QueryID, fileType location.FileType, name string, content []byte)
	Cancel(q QueryID)
}

// LoadCallback is implemented by the manager; the engine delivers results
// through it. Calls may arrive on any goroutine.
type LoadCallback interface {
	OnStartDownload(q QueryID)
	OnPartialDownload(q QueryID, partial location.PartialLocal, readySize int64)
	OnPartialUpload(q QueryID, partial location.PartialRemote, readySize int64)
	OnDownloadOK(q QueryID, local location.FullLocal, size int64)
	OnUploadOK(q QueryID, fileType location.FileType, partial location.PartialRemote, size int64)
	OnUploadFullOK(q QueryID, remote location.FullRemote)
	OnError(q QueryID, err error)
}

// GenerateEngine produces a file's bytes from its generate location,
// writing into destPath and reporting through GenerateCallback.
type GenerateEngine interface {
	StartGenerate(q QueryID, gen location.FullGenerate, destPath string, expectedSize int64)
	Cancel(q QueryID)
}

// GenerateCallback is implemented by the manager for generation results.
type GenerateCallback interface {
	OnPartialGenerate(q QueryID, partial location.PartialLocal, expectedSize int64)
	OnGenerateOK(q QueryID, local location.FullLocal)
	OnGenerateError(q QueryID, err error)
}
