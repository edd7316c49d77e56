package filecore

import (
	"path/filepath"
	"strconv"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/location"
)

// recomputePrioritiesLocked folds per-handle priorities into the node's
// effective per-direction priorities. Generation inherits the downstream
// pressure of the directions it unblocks.
func (m *Manager) recomputePrioritiesLocked(n *fileNode) {
	var download, upload int32
	for _, fid := range n.fileIDs {
		info := m.infoLocked(fid)
		if info == nil {
			continue
		}
		download = max(download, info.downloadPriority)
		upload = max(upload, info.uploadPriority)
	}
	n.downloadPriority = download
	n.uploadPriority = upload

	n.generateDownloadPriority = 0
	n.generateUploadPriority = 0
	if n.generate.Kind == location.KindFull && n.local.Kind != location.KindFull {
		n.generateDownloadPriority = download
		if n.remote.Kind != location.KindFull {
			n.generateUploadPriority = upload
		}
	}
	n.generatePriority = max(n.generateDownloadPriority, n.generateUploadPriority)
}

// encryptionConsistent reports whether transfers may run: an encrypted
// file type must have its key before bytes move.
func (n *fileNode) encryptionConsistent() bool {
	if n.effectiveType().IsEncrypted() {
		return len(n.encryptionKey) > 0
	}
	return true
}

// runStateMachineLocked recomputes the desired operation for n and
// reconciles the in-flight queries with it: stale operations are
// cancelled, missing ones are issued. It is idempotent; one call after
// each mutation is sufficient.
func (m *Manager) runStateMachineLocked(n *fileNode) {
	if n == nil || m.closed {
		return
	}
	m.recomputePrioritiesLocked(n)
	m.touchLocked(n)

	wantDownload := n.downloadPriority > 0 &&
		n.remote.Kind == location.KindFull &&
		n.local.Kind != location.KindFull &&
		n.encryptionConsistent()
	wantGenerate := n.generatePriority > 0 &&
		n.generate.Kind == location.KindFull &&
		n.local.Kind != location.KindFull
	requester, _ := m.uploadRequesterLocked(n)
	wantUpload := n.uploadPriority > 0 &&
		n.local.Kind == location.KindFull &&
		n.remote.Kind != location.KindFull &&
		(n.uploadPause == 0 || requester != n.uploadPause) &&
		n.encryptionConsistent()

	// Only one of generate and download may run; generate wins when its
	// priority is at least the download's.
	if wantDownload && wantGenerate {
		if n.generatePriority >= n.downloadPriority {
			wantDownload = false
		} else {
			wantGenerate = false
		}
	}

	// A SetContent write occupies the download direction and is never
	// cancelled by a priority change.
	settingContent := n.downloadQueryID != 0 && m.queries[n.downloadQueryID].kind == querySetContent
	if settingContent {
		wantDownload = false
		wantGenerate = false
	}

	if !wantDownload && !settingContent {
		m.cancelDownloadLocked(n)
	}
	if !wantGenerate {
		m.cancelGenerateLocked(n)
	}
	if !wantUpload {
		m.cancelUploadLocked(n)
	}

	if n.needLoadFromPMC && (wantDownload || wantGenerate || wantUpload) {
		m.loadFromStoreLocked(n)
		// The store read may have merged this node away or completed a
		// location; re-evaluate from scratch exactly once.
		if live := m.nodeByIDLocked(n.id); live == n {
			m.runStateMachineOnceLocked(n, wantDownload, wantGenerate, wantUpload)
		}
		return
	}
	m.runStateMachineOnceLocked(n, wantDownload, wantGenerate, wantUpload)
}

func (m *Manager) runStateMachineOnceLocked(n *fileNode, wantDownload, wantGenerate, wantUpload bool) {
	switch {
	case wantGenerate && n.generateQueryID == 0:
		m.startGenerateLocked(n)
	case wantDownload && n.downloadQueryID == 0:
		m.startDownloadLocked(n)
	case wantUpload && n.uploadQueryID == 0:
		m.startUploadLocked(n, nil)
	}
}

// ---- query bookkeeping ----

func (m *Manager) newQueryLocked(fileID FileID, kind queryKind) QueryID {
	m.nextQueryID++
	q := m.nextQueryID
	m.queries[q] = query{fileID: fileID, kind: kind}
	return q
}

// finishQueryLocked resolves a query id to its entry and removes it.
// Late callbacks bearing stale ids return ok=false and are dropped.
func (m *Manager) finishQueryLocked(q QueryID) (query, bool) {
	entry, ok := m.queries[q]
	if ok {
		delete(m.queries, q)
	}
	return entry, ok
}

func (m *Manager) snapshotLocked(n *fileNode, priority int32) NodeSnapshot {
	key := make([]byte, len(n.encryptionKey))
	copy(key, n.encryptionKey)
	return NodeSnapshot{
		FileID:        n.mainFileID,
		Local:         n.local,
		Remote:        n.remote,
		Generate:      n.generate,
		Size:          n.size,
		ExpectedSize:  n.expectedSize,
		Name:          n.name,
		EncryptionKey: key,
		Priority:      priority,
		ByHash:        n.getByHash && !n.contentHash.IsZero(),
		ContentHash:   n.contentHash,
	}
}

func (m *Manager) startDownloadLocked(n *fileNode) {
	q := m.newQueryLocked(n.mainFileID, queryDownload)
	n.downloadQueryID = q
	n.isDownloadStarted = false
	snap := m.snapshotLocked(n, n.downloadPriority)
	eng := m.loadEngine
	m.pending = append(m.pending, func() { eng.StartDownload(q, snap) })
	logrus.WithFields(logrus.Fields{
		"function": "startDownloadLocked",
		"file_id":  int32(n.mainFileID),
		"query_id": uint64(q),
		"priority": n.downloadPriority,
	}).Info("Download started")
}

// uploadRequesterLocked picks the handle whose request drives the upload:
// highest priority, FIFO by upload order on ties.
func (m *Manager) uploadRequesterLocked(n *fileNode) (FileID, uint64) {
	var best FileID
	var bestOrder uint64
	var bestPriority int32
	for _, fid := range n.fileIDs {
		info := m.infoLocked(fid)
		if info == nil || info.uploadPriority == 0 {
			continue
		}
		if best == 0 || info.uploadPriority > bestPriority ||
			(info.uploadPriority == bestPriority && info.uploadOrder < bestOrder) {
			best, bestOrder, bestPriority = fid, info.uploadOrder, info.uploadPriority
		}
	}
	return best, bestOrder
}

func (m *Manager) startUploadLocked(n *fileNode, badParts []int32) {
	kind := queryUpload
	if n.getByHash && !n.contentHash.IsZero() {
		kind = queryUploadByHash
	}
	requester, order := m.uploadRequesterLocked(n)
	if requester == 0 {
		requester = n.mainFileID
	}
	q := m.newQueryLocked(requester, kind)
	n.uploadQueryID = q
	snap := m.snapshotLocked(n, n.uploadPriority)
	snap.UploadOrder = order
	eng := m.loadEngine
	m.pending = append(m.pending, func() { eng.StartUpload(q, snap, badParts) })
	logrus.WithFields(logrus.Fields{
		"function": "startUploadLocked",
		"file_id":  int32(requester),
		"query_id": uint64(q),
		"kind":     kind.String(),
		"priority": n.uploadPriority,
	}).Info("Upload started")
}

func (m *Manager) startGenerateLocked(n *fileNode) {
	if m.generateEngine == nil {
		logrus.WithFields(logrus.Fields{
			"function": "startGenerateLocked",
			"file_id":  int32(n.mainFileID),
		}).Warn("Generate desired but no generate engine configured")
		return
	}
	q := m.newQueryLocked(n.mainFileID, queryGenerate)
	n.generateQueryID = q
	n.generateWasUpdate = false
	dest := filepath.Join(m.opts.GenerateDir, "gen_"+strconv.FormatUint(uint64(q), 10))
	gen := n.generate.Full
	expected := n.bestSize()
	eng := m.generateEngine
	m.pending = append(m.pending, func() { eng.StartGenerate(q, gen, dest, expected) })
	logrus.WithFields(logrus.Fields{
		"function":   "startGenerateLocked",
		"file_id":    int32(n.mainFileID),
		"query_id":   uint64(q),
		"conversion": gen.Conversion,
	}).Info("Generation started")
}

// ---- cancellation ----

func (m *Manager) cancelQueryLocked(q QueryID, cancel func(QueryID)) {
	if _, ok := m.finishQueryLocked(q); ok {
		m.pending = append(m.pending, func() { cancel(q) })
	}
}

func (m *Manager) cancelDownloadLocked(n *fileNode) {
	if n.downloadQueryID == 0 {
		return
	}
	m.cancelQueryLocked(n.downloadQueryID, m.loadEngine.Cancel)
	n.downloadQueryID = 0
	n.isDownloadStarted = false
	n.downloadRetry = nil
	// Ready size is only monotonic within one operation.
	if n.local.Kind == location.KindPartial {
		n.localReadySize = n.local.Partial.ReadyPrefixSize
	} else if n.local.Kind != location.KindFull {
		n.localReadySize = 0
	}
	m.touchLocked(n)
}

func (m *Manager) cancelUploadLocked(n *fileNode) {
	if n.uploadQueryID == 0 {
		return
	}
	m.cancelQueryLocked(n.uploadQueryID, m.loadEngine.Cancel)
	n.uploadQueryID = 0
	n.uploadRetry = nil
	if n.remote.Kind == location.KindPartial {
		n.remoteReadySize = n.remote.Partial.ReadySize()
	} else if n.remote.Kind != location.KindFull {
		n.remoteReadySize = 0
	}
	m.touchLocked(n)
}

func (m *Manager) cancelGenerateLocked(n *fileNode) {
	if n.generateQueryID == 0 {
		return
	}
	if m.generateEngine != nil {
		m.cancelQueryLocked(n.generateQueryID, m.generateEngine.Cancel)
	} else {
		m.finishQueryLocked(n.generateQueryID)
	}
	n.generateQueryID = 0
	n.generateRetry = nil
	if n.local.Kind == location.KindPartial {
		n.localReadySize = n.local.Partial.ReadyPrefixSize
	} else if n.local.Kind != location.KindFull {
		n.localReadySize = 0
	}
	m.touchLocked(n)
}

// newRetry builds the backoff policy for transient engine errors.
func (m *Manager) newRetry() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.RetryInitialInterval
	b.MaxInterval = m.opts.RetryMaxInterval
	b.MaxElapsedTime = m.opts.RetryMaxElapsed
	b.Reset()
	return b
}
