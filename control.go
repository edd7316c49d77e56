package filecore

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/limits"
	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

// Download sets the handle's download priority and callback and
// re-evaluates the node. Priority 0 disables downloading through this
// handle; higher values preempt lower ones.
func (m *Manager) Download(id FileID, callback DownloadCallback, priority int32) error {
	return m.run(func() error {
		info := m.infoLocked(id)
		if info == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		if priority < 0 {
			priority = 0
		}
		info.downloadPriority = priority
		if callback != nil {
			info.downloadCallback = callback
		}
		if priority == 0 {
			info.downloadCallback = nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "Download",
			"file_id":  int32(id),
			"priority": priority,
		}).Debug("Download priority updated")
		m.runStateMachineLocked(m.nodeLocked(id))
		return nil
	})
}

// Upload sets the handle's upload priority, order and callback and
// re-evaluates the node. It does not lift the pause set by OnUploadOK: a
// request through the paused handle stays suppressed until ResumeUpload,
// a merge, DeletePartialRemoteLocation or OnUploadFullOK.
func (m *Manager) Upload(id FileID, callback UploadCallback, priority int32, uploadOrder uint64) error {
	return m.run(func() error {
		return m.uploadLocked(id, callback, priority, uploadOrder, nil, false)
	})
}

// ResumeUpload restarts an upload, telling the engine which parts the
// server reported bad so they are resent.
func (m *Manager) ResumeUpload(id FileID, badParts []int32, callback UploadCallback, priority int32, uploadOrder uint64) error {
	return m.run(func() error {
		return m.uploadLocked(id, callback, priority, uploadOrder, badParts, true)
	})
}

func (m *Manager) uploadLocked(id FileID, callback UploadCallback, priority int32, uploadOrder uint64, badParts []int32, restart bool) error {
	info := m.infoLocked(id)
	if info == nil {
		return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
	}
	if priority < 0 {
		priority = 0
	}
	info.uploadPriority = priority
	info.uploadOrder = uploadOrder
	if callback != nil {
		info.uploadCallback = callback
	}
	if priority == 0 {
		info.uploadCallback = nil
	}
	n := m.nodeLocked(id)
	if restart {
		// An explicit resumption lifts the post-OnUploadOK pause.
		if n.uploadPause == id {
			n.uploadPause = 0
		}
		m.cancelUploadLocked(n)
		m.recomputePrioritiesLocked(n)
		if n.uploadPriority > 0 && n.local.Kind == location.KindFull &&
			n.remote.Kind != location.KindFull && n.uploadPause == 0 {
			m.startUploadLocked(n, badParts)
			m.touchLocked(n)
			return nil
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "uploadLocked",
		"file_id":  int32(id),
		"priority": priority,
		"order":    uploadOrder,
	}).Debug("Upload priority updated")
	m.runStateMachineLocked(n)
	return nil
}

// SetEncryptionKey attaches the opaque content key to an encrypted file.
func (m *Manager) SetEncryptionKey(id FileID, key []byte) error {
	return m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		if !n.effectiveType().IsEncrypted() {
			return fmt.Errorf("%w: %v is not an encrypted type", ErrWrongFileType, n.effectiveType())
		}
		n.setEncryptionKey(key)
		m.runStateMachineLocked(n)
		return nil
	})
}

// SetContent writes bytes as the file's full local content through the
// load engine at FromBytesPriority. The write occupies the download
// direction; a previously known remote location is kept.
func (m *Manager) SetContent(id FileID, content []byte) error {
	return m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		if int64(len(content)) > limits.MaxSetContentSize {
			return fmt.Errorf("%w: content of %d bytes", ErrWrongLocalLocation, len(content))
		}
		m.cancelDownloadLocked(n)
		m.cancelGenerateLocked(n)
		q := m.newQueryLocked(n.mainFileID, querySetContent)
		n.downloadQueryID = q
		if info := m.infoLocked(n.mainFileID); info != nil {
			info.downloadPriority = FromBytesPriority
		}
		fileType := n.effectiveType()
		name := n.name
		payload := make([]byte, len(content))
		copy(payload, content)
		eng := m.loadEngine
		m.pending = append(m.pending, func() { eng.FromBytes(q, fileType, name, payload) })
		logrus.WithFields(logrus.Fields{
			"function": "SetContent",
			"file_id":  int32(id),
			"size":     len(content),
		}).Info("Direct content write started")
		m.touchLocked(n)
		return nil
	})
}

// GetContent returns the file's full local bytes. It fails with
// ErrFileNotFound when the file is not fully on disk.
func (m *Manager) GetContent(id FileID) ([]byte, error) {
	view, err := m.GetFileView(id)
	if err != nil {
		return nil, err
	}
	if !view.HasLocalLocation() {
		return nil, fmt.Errorf("%w: file %d has no local copy", ErrFileNotFound, int32(id))
	}
	content, err := os.ReadFile(view.LocalLocation().Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return content, nil
}

// DeleteFile removes the node behind id: in-flight operations are
// cancelled, local files are unlinked, the store record is erased and
// every handle is retired.
func (m *Manager) DeleteFile(id FileID) error {
	return m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		m.cancelDownloadLocked(n)
		m.cancelUploadLocked(n)
		m.cancelGenerateLocked(n)

		switch n.local.Kind {
		case location.KindFull:
			delete(m.localToFileID, n.local.Full.Key())
			removeFile(n.local.Full.Path)
		case location.KindPartial:
			removeFile(n.local.Partial.Path)
		}
		if n.remote.Kind == location.KindFull {
			delete(m.remoteToFileID, n.remote.Full.Key())
		}
		if n.generate.Kind == location.KindFull {
			delete(m.generateToFileID, n.generate.Full.Key())
		}
		retired := make(map[FileID]struct{}, len(n.fileIDs))
		for _, fid := range n.fileIDs {
			retired[fid] = struct{}{}
			m.infos[int(fid)-1] = fileIDInfo{}
			m.emptyFileIDs = append(m.emptyFileIDs, fid)
		}
		n.fileIDs = nil
		for q, entry := range m.queries {
			if _, ok := retired[entry.fileID]; ok {
				delete(m.queries, q)
			}
		}
		m.freeNodeLocked(n)
		logrus.WithFields(logrus.Fields{
			"function": "DeleteFile",
			"file_id":  int32(id),
		}).Info("File deleted")
		return nil
	})
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function": "removeFile",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to remove local file")
	}
}

// DeletePartialRemoteLocation drops a half-uploaded remote identity,
// cancels any active upload and re-evaluates the node, so a still-desired
// upload restarts from scratch.
func (m *Manager) DeletePartialRemoteLocation(id FileID) error {
	return m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		if n.remote.Kind == location.KindFull {
			return fmt.Errorf("%w: remote location is full", ErrWrongRemoteLocation)
		}
		m.cancelUploadLocked(n)
		n.setRemote(location.EmptyRemote(), metastore.SourceNone, 0)
		n.uploadPause = 0
		logrus.WithFields(logrus.Fields{
			"function": "DeletePartialRemoteLocation",
			"file_id":  int32(id),
		}).Info("Partial remote location deleted")
		m.runStateMachineLocked(n)
		return nil
	})
}

// OnFileUnlink records that the file behind a registered full local
// location disappeared from disk. The node drops the location and the
// state engine decides whether to re-acquire the bytes.
func (m *Manager) OnFileUnlink(loc location.FullLocal) {
	m.run(func() error {
		id, ok := m.localToFileID[loc.Key()]
		if !ok {
			return nil
		}
		n := m.nodeLocked(id)
		if n == nil {
			return nil
		}
		delete(m.localToFileID, loc.Key())
		m.cancelUploadLocked(n)
		n.setLocal(location.EmptyLocal(), 0)
		logrus.WithFields(logrus.Fields{
			"function": "OnFileUnlink",
			"file_id":  int32(id),
			"path":     loc.Path,
		}).Info("Local file unlinked")
		m.runStateMachineLocked(n)
		return nil
	})
}

// GetFileView returns a read-only snapshot of the node behind id.
func (m *Manager) GetFileView(id FileID) (FileView, error) {
	var view FileView
	err := m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		view = newFileView(n)
		return nil
	})
	return view, err
}

// GetSyncFileView is GetFileView preceded by the node's deferred store
// read, so locations persisted in an earlier session are visible.
func (m *Manager) GetSyncFileView(id FileID) (FileView, error) {
	var view FileView
	err := m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		if n.needLoadFromPMC {
			m.loadFromStoreLocked(n)
			n = m.nodeLocked(id)
			if n == nil {
				return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
			}
		}
		view = newFileView(n)
		return nil
	})
	return view, err
}
