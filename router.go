package filecore

import (
	"encoding/binary"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/zeebo/blake3"

	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

// The router owns the table of outstanding queries and translates engine
// callbacks into node mutations and per-handle notifications. Engine
// callbacks may arrive on any goroutine; each one is one mailbox message.

// notifyDownloadLocked schedules f against every handle of n that has a
// download callback bound.
func (m *Manager) notifyDownloadLocked(n *fileNode, f func(cb DownloadCallback, id FileID)) {
	for _, fid := range n.fileIDs {
		info := m.infoLocked(fid)
		if info == nil || info.downloadCallback == nil {
			continue
		}
		cb, id := info.downloadCallback, fid
		m.pending = append(m.pending, func() { f(cb, id) })
	}
}

func (m *Manager) notifyUploadLocked(n *fileNode, f func(cb UploadCallback, id FileID)) {
	for _, fid := range n.fileIDs {
		info := m.infoLocked(fid)
		if info == nil || info.uploadCallback == nil {
			continue
		}
		cb, id := info.uploadCallback, fid
		m.pending = append(m.pending, func() { f(cb, id) })
	}
}

// queryNodeLocked resolves an outstanding (not yet finished) query to its
// node without removing the table entry.
func (m *Manager) queryNodeLocked(q QueryID) *fileNode {
	entry, ok := m.queries[q]
	if !ok {
		return nil
	}
	return m.nodeLocked(entry.fileID)
}

// OnStartDownload implements LoadCallback.
func (m *Manager) OnStartDownload(q QueryID) {
	m.run(func() error {
		n := m.queryNodeLocked(q)
		if n == nil || n.downloadQueryID != q {
			return nil
		}
		n.isDownloadStarted = true
		n.onInfoChanged()
		m.touchLocked(n)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnProgress(id) })
		return nil
	})
}

// OnPartialDownload implements LoadCallback.
func (m *Manager) OnPartialDownload(q QueryID, partial location.PartialLocal, readySize int64) {
	m.run(func() error {
		n := m.queryNodeLocked(q)
		if n == nil || n.downloadQueryID != q {
			return nil
		}
		n.setLocal(location.NewPartialLocal(partial), max(readySize, n.localReadySize))
		m.touchLocked(n)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnProgress(id) })
		return nil
	})
}

// OnDownloadOK implements LoadCallback. It also completes SetContent
// writes, which occupy the download direction.
func (m *Manager) OnDownloadOK(q QueryID, local location.FullLocal, size int64) {
	m.run(func() error {
		entry, ok := m.finishQueryLocked(q)
		if !ok {
			return nil
		}
		n := m.nodeLocked(entry.fileID)
		if n == nil {
			return nil
		}
		if n.downloadQueryID == q {
			n.downloadQueryID = 0
		}
		n.downloadRetry = nil
		if entry.kind == querySetContent {
			if info := m.infoLocked(entry.fileID); info != nil && info.downloadPriority == FromBytesPriority {
				info.downloadPriority = 0
			}
		}
		n.setLocal(location.NewFullLocal(local), local.Size)
		n.setSize(local.Size)
		if size > 0 {
			n.setSize(size)
		}
		n = m.rebindLocalLocked(n)
		logrus.WithFields(logrus.Fields{
			"function": "OnDownloadOK",
			"file_id":  int32(n.mainFileID),
			"query_id": uint64(q),
			"kind":     entry.kind.String(),
			"path":     local.Path,
			"size":     local.Size,
		}).Info("Download complete")
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnDownloadOK(id) })
		m.runStateMachineLocked(n)
		return nil
	})
}

// OnPartialUpload implements LoadCallback.
func (m *Manager) OnPartialUpload(q QueryID, partial location.PartialRemote, readySize int64) {
	m.run(func() error {
		n := m.queryNodeLocked(q)
		if n == nil || n.uploadQueryID != q {
			return nil
		}
		n.setRemote(location.NewPartialRemote(partial), n.remoteSource, max(readySize, n.remoteReadySize))
		m.touchLocked(n)
		m.notifyUploadLocked(n, func(cb UploadCallback, id FileID) { cb.OnProgress(id) })
		return nil
	})
}

// keyFingerprint derives the 32-bit fingerprint handed out with encrypted
// upload tokens.
func keyFingerprint(key []byte) int32 {
	sum := blake3.Sum256(key)
	return int32(binary.LittleEndian.Uint32(sum[:4]))
}

// OnUploadOK implements LoadCallback. The upload is not finished: the
// bytes are on the server but the confirming identity arrives only after
// the containing message is sent, via OnUploadFullOK. Until then further
// uploads requested through the handle that started this one are paused.
func (m *Manager) OnUploadOK(q QueryID, fileType location.FileType, partial location.PartialRemote, size int64) {
	m.run(func() error {
		// The query is looked up but deliberately not finished: the same
		// id routes the later OnUploadFullOK confirmation.
		entry, ok := m.queries[q]
		if !ok {
			return nil
		}
		n := m.nodeLocked(entry.fileID)
		if n == nil {
			return nil
		}
		if n.uploadQueryID == q {
			n.uploadQueryID = 0
		}
		n.uploadRetry = nil
		n.setRemote(location.NewPartialRemote(partial), n.remoteSource, max(partial.ReadySize(), n.remoteReadySize))
		n.setSize(size)
		n.uploadPause = entry.fileID
		m.touchLocked(n)
		logrus.WithFields(logrus.Fields{
			"function": "OnUploadOK",
			"file_id":  int32(entry.fileID),
			"query_id": uint64(q),
			"size":     size,
		}).Info("Upload reached server, awaiting confirmation")

		if fileType.IsEncrypted() || len(n.encryptionKey) > 0 {
			token := EncryptedInputFileToken{
				ID:             partial.ID,
				PartCount:      partial.PartCount,
				KeyFingerprint: keyFingerprint(n.encryptionKey),
			}
			m.notifyUploadLocked(n, func(cb UploadCallback, id FileID) { cb.OnUploadEncryptedOK(id, token) })
		} else {
			token := InputFileToken{
				ID:        partial.ID,
				PartCount: partial.PartCount,
				Name:      n.name,
			}
			m.notifyUploadLocked(n, func(cb UploadCallback, id FileID) { cb.OnUploadOK(id, token) })
		}
		return nil
	})
}

// OnUploadFullOK implements LoadCallback: the server confirmed a permanent
// remote identity for the uploaded bytes.
func (m *Manager) OnUploadFullOK(q QueryID, remote location.FullRemote) {
	m.run(func() error {
		entry, ok := m.finishQueryLocked(q)
		if !ok {
			return nil
		}
		n := m.nodeLocked(entry.fileID)
		if n == nil {
			return nil
		}
		if n.uploadQueryID == q {
			n.uploadQueryID = 0
		}
		n.uploadRetry = nil
		n.uploadPause = 0
		n.setRemote(location.NewFullRemote(remote), metastore.SourceFromServer, n.size)
		n = m.rebindRemoteLocked(n)
		logrus.WithFields(logrus.Fields{
			"function": "OnUploadFullOK",
			"file_id":  int32(n.mainFileID),
			"query_id": uint64(q),
		}).Info("Upload confirmed by server")
		m.runStateMachineLocked(n)
		return nil
	})
}

// OnError implements LoadCallback. Transient errors are retried with
// exponential backoff; terminal errors surface to the direction's
// per-handle callbacks and drop the direction's priorities so the state
// engine does not immediately reissue the operation.
func (m *Manager) OnError(q QueryID, err error) {
	m.run(func() error {
		entry, ok := m.finishQueryLocked(q)
		if !ok {
			return nil
		}
		n := m.nodeLocked(entry.fileID)
		if n == nil {
			return nil
		}
		m.onQueryErrorLocked(n, entry, q, err)
		return nil
	})
}

func (m *Manager) onQueryErrorLocked(n *fileNode, entry query, q QueryID, err error) {
	var retry **backoff.ExponentialBackOff
	switch entry.kind {
	case queryDownload, querySetContent:
		if n.downloadQueryID == q {
			n.downloadQueryID = 0
		}
		retry = &n.downloadRetry
	case queryUpload, queryUploadByHash:
		if n.uploadQueryID == q {
			n.uploadQueryID = 0
		}
		retry = &n.uploadRetry
	case queryGenerate:
		if n.generateQueryID == q {
			n.generateQueryID = 0
		}
		retry = &n.generateRetry
	}

	if retry != nil && isTransientError(err) && entry.kind != querySetContent {
		if *retry == nil {
			*retry = m.newRetry()
		}
		if delay := (*retry).NextBackOff(); delay != backoff.Stop {
			logrus.WithFields(logrus.Fields{
				"function": "onQueryErrorLocked",
				"file_id":  int32(entry.fileID),
				"kind":     entry.kind.String(),
				"delay":    delay.String(),
				"error":    err.Error(),
			}).Warn("Transient transfer error, will retry")
			nid := n.id
			time.AfterFunc(delay, func() {
				m.run(func() error {
					if live := m.nodeByIDLocked(nid); live != nil {
						m.runStateMachineLocked(live)
					}
					return nil
				})
			})
			m.touchLocked(n)
			return
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "onQueryErrorLocked",
		"file_id":  int32(entry.fileID),
		"kind":     entry.kind.String(),
		"error":    err.Error(),
	}).Error("Transfer failed")

	switch entry.kind {
	case queryDownload, querySetContent:
		m.clearDirectionLocked(n, queryDownload)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnDownloadError(id, err) })
	case queryUpload, queryUploadByHash:
		m.clearDirectionLocked(n, queryUpload)
		m.notifyUploadLocked(n, func(cb UploadCallback, id FileID) { cb.OnUploadError(id, err) })
	case queryGenerate:
		// Generation served download or upload pressure; both learn that
		// the file cannot be produced.
		m.clearDirectionLocked(n, queryDownload)
		m.clearDirectionLocked(n, queryUpload)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnDownloadError(id, err) })
		m.notifyUploadLocked(n, func(cb UploadCallback, id FileID) { cb.OnUploadError(id, err) })
	}
	m.runStateMachineLocked(n)
}

// clearDirectionLocked zeroes the per-handle priorities of one direction
// after a terminal failure.
func (m *Manager) clearDirectionLocked(n *fileNode, dir queryKind) {
	for _, fid := range n.fileIDs {
		info := m.infoLocked(fid)
		if info == nil {
			continue
		}
		if dir == queryDownload {
			info.downloadPriority = 0
		} else {
			info.uploadPriority = 0
		}
	}
}

// OnPartialGenerate implements GenerateCallback: the generation produced
// more of the local prefix.
func (m *Manager) OnPartialGenerate(q QueryID, partial location.PartialLocal, expectedSize int64) {
	m.run(func() error {
		n := m.queryNodeLocked(q)
		if n == nil || n.generateQueryID != q {
			return nil
		}
		n.generateWasUpdate = true
		n.setLocal(location.NewPartialLocal(partial), max(partial.ReadyPrefixSize, n.localReadySize))
		n.setExpectedSize(expectedSize)
		m.touchLocked(n)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnProgress(id) })
		return nil
	})
}

// OnGenerateOK implements GenerateCallback: the file's bytes now exist
// locally. Downstream it is indistinguishable from a finished download.
func (m *Manager) OnGenerateOK(q QueryID, local location.FullLocal) {
	m.run(func() error {
		entry, ok := m.finishQueryLocked(q)
		if !ok {
			return nil
		}
		n := m.nodeLocked(entry.fileID)
		if n == nil {
			return nil
		}
		if n.generateQueryID == q {
			n.generateQueryID = 0
		}
		n.generateRetry = nil
		n.setLocal(location.NewFullLocal(local), local.Size)
		n.setSize(local.Size)
		n = m.rebindLocalLocked(n)
		logrus.WithFields(logrus.Fields{
			"function": "OnGenerateOK",
			"file_id":  int32(n.mainFileID),
			"query_id": uint64(q),
			"path":     local.Path,
		}).Info("Generation complete")
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnDownloadOK(id) })
		m.runStateMachineLocked(n)
		return nil
	})
}

// OnGenerateError implements GenerateCallback.
func (m *Manager) OnGenerateError(q QueryID, err error) {
	m.OnError(q, err)
}

// ExternalGenerateProgress forwards progress for a generation that is
// executed outside the generate engine.
func (m *Manager) ExternalGenerateProgress(q QueryID, expectedSize, localPrefixSize int64) {
	m.run(func() error {
		n := m.queryNodeLocked(q)
		if n == nil || n.generateQueryID != q {
			return nil
		}
		n.generateWasUpdate = true
		if n.local.Kind == location.KindPartial {
			partial := n.local.Partial
			partial.ReadyPrefixSize = localPrefixSize
			n.setLocal(location.NewPartialLocal(partial), max(localPrefixSize, n.localReadySize))
		} else {
			n.localReadySize = max(localPrefixSize, n.localReadySize)
			n.onInfoChanged()
		}
		n.setExpectedSize(expectedSize)
		m.touchLocked(n)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnProgress(id) })
		return nil
	})
}

// ExternalGenerateFinish completes an externally driven generation. With
// err == nil the partially written destination is validated and promoted
// to the node's full local location.
func (m *Manager) ExternalGenerateFinish(q QueryID, genErr error) error {
	return m.run(func() error {
		n := m.queryNodeLocked(q)
		if n == nil || n.generateQueryID != q {
			return ErrCancelled
		}
		if genErr != nil {
			entry, _ := m.finishQueryLocked(q)
			m.onQueryErrorLocked(n, entry, q, genErr)
			return nil
		}
		if n.local.Kind != location.KindPartial {
			entry, _ := m.finishQueryLocked(q)
			m.onQueryErrorLocked(n, entry, q, ErrGenerationFailed)
			return nil
		}
		partial := n.local.Partial
		checked, err := location.CheckFullLocal(location.FullLocal{
			FileType: n.effectiveType(),
			Path:     partial.Path,
		}, 0)
		if err != nil {
			entry, _ := m.finishQueryLocked(q)
			m.onQueryErrorLocked(n, entry, q, err)
			return nil
		}
		m.finishQueryLocked(q)
		if n.generateQueryID == q {
			n.generateQueryID = 0
		}
		n.setLocal(location.NewFullLocal(checked), checked.Size)
		n.setSize(checked.Size)
		n = m.rebindLocalLocked(n)
		m.notifyDownloadLocked(n, func(cb DownloadCallback, id FileID) { cb.OnDownloadOK(id) })
		m.runStateMachineLocked(n)
		return nil
	})
}

// rebindLocalLocked indexes n's freshly acquired full local location,
// merging implicitly when another node already owns it.
func (m *Manager) rebindLocalLocked(n *fileNode) *fileNode {
	if n.local.Kind != location.KindFull {
		return n
	}
	key := n.local.Full.Key()
	if other, ok := m.localToFileID[key]; ok {
		if otherNode := m.nodeLocked(other); otherNode != nil && otherNode != n {
			if merged, err := m.mergeLocked(n.mainFileID, other, true); err == nil {
				return m.nodeLocked(merged)
			}
		}
	}
	m.localToFileID[key] = n.mainFileID
	return n
}

// rebindRemoteLocked is rebindLocalLocked for the remote namespace.
func (m *Manager) rebindRemoteLocked(n *fileNode) *fileNode {
	if n.remote.Kind != location.KindFull {
		return n
	}
	key := n.remote.Full.Key()
	if other, ok := m.remoteToFileID[key]; ok {
		if otherNode := m.nodeLocked(other); otherNode != nil && otherNode != n {
			if merged, err := m.mergeLocked(n.mainFileID, other, true); err == nil {
				return m.nodeLocked(merged)
			}
		}
	}
	m.remoteToFileID[key] = n.mainFileID
	return n
}
