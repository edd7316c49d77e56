package filecore

import "github.com/opd-ai/filecore/location"

// FileView is a read-only snapshot of one node, taken under the manager's
// lock at the moment of the call. All accessors derive from the captured
// state and never touch the live node.
type FileView struct {
	valid bool

	fileID FileID

	local    location.Local
	remote   location.Remote
	generate location.Generate

	size            int64
	expectedSize    int64
	localReadySize  int64
	remoteReadySize int64

	name          string
	url           string
	ownerID       int64
	encryptionKey []byte
	getByHash     bool

	downloading bool
	uploading   bool
	generating  bool

	effType location.FileType
}

func newFileView(n *fileNode) FileView {
	key := make([]byte, len(n.encryptionKey))
	copy(key, n.encryptionKey)
	return FileView{
		valid:           true,
		fileID:          n.mainFileID,
		local:           n.local,
		remote:          n.remote,
		generate:        n.generate,
		size:            n.size,
		expectedSize:    n.expectedSize,
		localReadySize:  n.localReadySize,
		remoteReadySize: n.remoteReadySize,
		name:            n.name,
		url:             n.url,
		ownerID:         n.ownerID,
		encryptionKey:   key,
		getByHash:       n.getByHash,
		downloading:     n.downloadQueryID != 0,
		uploading:       n.uploadQueryID != 0,
		generating:      n.generateQueryID != 0,
		effType:         n.effectiveType(),
	}
}

// Empty reports whether the view is the zero view (invalid handle).
func (v FileView) Empty() bool { return !v.valid }

// FileID returns the node's main handle.
func (v FileView) FileID() FileID { return v.fileID }

// HasLocalLocation reports whether the node holds a full local location.
func (v FileView) HasLocalLocation() bool { return v.local.Kind == location.KindFull }

// LocalLocation returns the full local location; only meaningful when
// HasLocalLocation reports true.
func (v FileView) LocalLocation() location.FullLocal { return v.local.Full }

// HasRemoteLocation reports whether the node holds a full remote location.
func (v FileView) HasRemoteLocation() bool { return v.remote.Kind == location.KindFull }

// RemoteLocation returns the full remote location.
func (v FileView) RemoteLocation() location.FullRemote { return v.remote.Full }

// HasGenerateLocation reports whether the node holds a full generate
// location.
func (v FileView) HasGenerateLocation() bool { return v.generate.Kind == location.KindFull }

// GenerateLocation returns the full generate location.
func (v FileView) GenerateLocation() location.FullGenerate { return v.generate.Full }

// HasURL reports whether the file originated from a URL.
func (v FileView) HasURL() bool { return v.url != "" }

// URL returns the source URL, if any.
func (v FileView) URL() string { return v.url }

// Name returns the human-facing file name.
func (v FileView) Name() string { return v.name }

// OwnerDialogID returns the owning dialog.
func (v FileView) OwnerDialogID() int64 { return v.ownerID }

// GetByHash reports whether the file was registered for upload by hash.
func (v FileView) GetByHash() bool { return v.getByHash }

// Size returns the authoritative total size, or 0 when unknown.
func (v FileView) Size() int64 { return v.size }

// ExpectedSize returns the best size estimate.
func (v FileView) ExpectedSize() int64 {
	if v.size > 0 {
		return v.size
	}
	return v.expectedSize
}

// IsDownloading reports whether a download or generation is in flight.
func (v FileView) IsDownloading() bool { return v.downloading || v.generating }

// LocalSize returns the number of locally ready bytes.
func (v FileView) LocalSize() int64 {
	if v.local.Kind == location.KindFull {
		if v.size > 0 {
			return v.size
		}
		return v.local.Full.Size
	}
	return v.localReadySize
}

// IsUploading reports whether an upload is in flight.
func (v FileView) IsUploading() bool { return v.uploading }

// RemoteSize returns the number of remotely acknowledged bytes.
func (v FileView) RemoteSize() int64 {
	if v.remote.Kind == location.KindFull {
		return v.size
	}
	return v.remoteReadySize
}

// Path returns the local path when the file is fully on disk, else "".
func (v FileView) Path() string {
	if v.local.Kind == location.KindFull {
		return v.local.Full.Path
	}
	return ""
}

// CanDownloadFromServer reports whether the node has a server identity to
// download from.
func (v FileView) CanDownloadFromServer() bool { return v.remote.Kind == location.KindFull }

// CanGenerate reports whether the node can produce its bytes locally.
func (v FileView) CanGenerate() bool { return v.generate.Kind == location.KindFull }

// CanDelete reports whether DeleteFile would remove anything on disk.
func (v FileView) CanDelete() bool {
	return v.local.Kind == location.KindFull || v.local.Kind == location.KindPartial
}

// GetType resolves the effective file type with the precedence
// local, remote, generate, then the declared placeholder type (Temp by
// default).
func (v FileView) GetType() location.FileType { return v.effType }

// IsEncrypted reports whether the effective type is an encrypted variant.
func (v FileView) IsEncrypted() bool { return v.GetType().IsEncrypted() }

// EncryptionKey returns the opaque encryption key, empty when the file is
// not encrypted.
func (v FileView) EncryptionKey() []byte { return v.encryptionKey }
