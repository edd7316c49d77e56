package filecore

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/location"
)

// Merge collapses the nodes behind x and y into one. The survivor is the
// node with the higher main-handle priority (ties broken by the lower
// numeric main handle); every handle of the victim is re-pointed at the
// survivor. Conflicting full locations fail with ErrCantShareOwnership
// unless noSync is set, in which case the survivor's location wins.
// Merging is the only way distinct handles converge.
func (m *Manager) Merge(x, y FileID, noSync bool) (FileID, error) {
	var result FileID
	err := m.run(func() error {
		var err error
		result, err = m.mergeLocked(x, y, noSync)
		if err != nil {
			return err
		}
		n := m.nodeLocked(result)
		m.runStateMachineLocked(n)
		return nil
	})
	return result, err
}

func (m *Manager) mergeLocked(x, y FileID, noSync bool) (FileID, error) {
	nodeX := m.nodeLocked(x)
	nodeY := m.nodeLocked(y)
	if nodeX == nil || nodeY == nil {
		return 0, fmt.Errorf("%w: merge(%d, %d)", ErrInvalidFileID, int32(x), int32(y))
	}
	if nodeX == nodeY {
		return x, nil
	}

	s, v := nodeX, nodeY
	if v.mainFileIDPriority > s.mainFileIDPriority ||
		(v.mainFileIDPriority == s.mainFileIDPriority && v.mainFileID < s.mainFileID) {
		s, v = v, s
	}

	// Conflicting full locations abort the merge before anything moves.
	if !noSync {
		if s.local.Kind == location.KindFull && v.local.Kind == location.KindFull &&
			s.local.Full.Key() != v.local.Full.Key() {
			return 0, fmt.Errorf("%w: local %q vs %q", ErrCantShareOwnership, s.local.Full.Path, v.local.Full.Path)
		}
		if s.remote.Kind == location.KindFull && v.remote.Kind == location.KindFull &&
			s.remote.Full.Key() != v.remote.Full.Key() {
			return 0, fmt.Errorf("%w: conflicting remote locations", ErrCantShareOwnership)
		}
		if s.generate.Kind == location.KindFull && v.generate.Kind == location.KindFull &&
			s.generate.Full.Key() != v.generate.Full.Key() {
			return 0, fmt.Errorf("%w: conflicting generate locations", ErrCantShareOwnership)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "mergeLocked",
		"survivor": int32(s.mainFileID),
		"victim":   int32(v.mainFileID),
		"no_sync":  noSync,
	}).Debug("Merging file nodes")

	// The victim's in-flight work is superseded by the merge.
	m.cancelDownloadLocked(v)
	m.cancelUploadLocked(v)
	m.cancelGenerateLocked(v)

	// Unbind the victim's full locations; the survivor's bindings are
	// refreshed below, after location adoption.
	if v.local.Kind == location.KindFull {
		delete(m.localToFileID, v.local.Full.Key())
	}
	if v.remote.Kind == location.KindFull {
		delete(m.remoteToFileID, v.remote.Full.Key())
	}
	if v.generate.Kind == location.KindFull {
		delete(m.generateToFileID, v.generate.Full.Key())
	}

	// Adopt locations the survivor is missing. When both are full and
	// disagree (noSync), the survivor keeps its own.
	if s.local.Kind != location.KindFull && v.local.Kind > s.local.Kind {
		readySize := v.localReadySize
		s.setLocal(v.local, readySize)
	}
	if s.remote.Kind != location.KindFull && v.remote.Kind > s.remote.Kind {
		s.setRemote(v.remote, v.remoteSource, v.remoteReadySize)
	} else if s.remote.Kind == location.KindFull && v.remote.Kind == location.KindFull &&
		v.remoteSource > s.remoteSource {
		// Same coordinates, better provenance.
		s.remoteSource = v.remoteSource
	}
	if s.generate.Kind != location.KindFull && v.generate.Kind == location.KindFull {
		s.setGenerate(v.generate)
	}

	s.setSize(v.size)
	s.setExpectedSize(v.expectedSize)
	s.setName(v.name)
	s.setURL(v.url)
	s.setOwnerID(v.ownerID)
	if len(s.encryptionKey) == 0 && len(v.encryptionKey) > 0 {
		s.setEncryptionKey(v.encryptionKey)
	}
	if v.getByHash && !s.getByHash {
		s.getByHash = true
		s.contentHash = v.contentHash
	}
	s.isDownloadStarted = s.isDownloadStarted || v.isDownloadStarted
	s.generateWasUpdate = s.generateWasUpdate || v.generateWasUpdate
	s.needLoadFromPMC = s.needLoadFromPMC || v.needLoadFromPMC

	// A merge resumes uploads paused by a completed-but-unconfirmed epoch.
	s.uploadPause = 0

	// Move every victim handle onto the survivor.
	for _, fid := range v.fileIDs {
		m.infos[int(fid)-1].nodeID = s.id
		s.fileIDs = append(s.fileIDs, fid)
	}
	v.fileIDs = nil

	// The record id is monotonic per node: the survivor keeps its own and
	// the victim's record is erased; a survivor without one inherits.
	if s.recordID == "" && v.recordID != "" {
		s.recordID = v.recordID
		m.recordToNodeID[s.recordID] = s.id
		v.recordID = ""
	}

	m.bindLocationsLocked(s)
	s.onPMCChanged()
	m.touchLocked(s)
	m.freeNodeLocked(v)
	return s.mainFileID, nil
}
