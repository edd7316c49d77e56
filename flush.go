package filecore

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

// The flush coordinator tracks dirty nodes and writes them out once per
// mailbox message, so a merge followed by state-engine churn produces a
// single store write. Flushes never run inside the state engine.

// touchLocked schedules n for the end-of-message flush pass.
func (m *Manager) touchLocked(n *fileNode) {
	if n != nil {
		m.touched[n.id] = struct{}{}
	}
}

// persistable reports whether n has anything a store record could help
// rebuild. Placeholder nodes with no location are not written.
func persistable(n *fileNode) bool {
	return n.local.Kind != location.KindEmpty ||
		n.remote.Kind != location.KindEmpty ||
		n.generate.Kind != location.KindEmpty
}

// flushTouchedLocked runs the deferred flush pass: a persistent flush for
// nodes whose record diverged, an info flush for nodes whose
// user-observable summary changed. The pass drains the touched set until
// empty, since a store-driven merge inside it can dirty further nodes.
func (m *Manager) flushTouchedLocked() {
	for len(m.touched) > 0 {
		var nid nodeID
		for k := range m.touched {
			nid = k
			break
		}
		delete(m.touched, nid)
		n := m.nodeByIDLocked(nid)
		if n == nil {
			continue
		}
		if n.needPMCFlush() && m.store != nil && persistable(n) {
			if n.recordID == "" && n.needLoadFromPMC {
				// Writing before the deferred store read could shadow an
				// existing record's index entries; resolve the read first.
				m.loadFromStoreLocked(n)
				n = m.nodeByIDLocked(nid)
				if n == nil {
					// Merged away; the survivor is in the touched set.
					continue
				}
			}
			if n.recordID == "" {
				n.recordID = metastore.NewRecordID()
				m.recordToNodeID[n.recordID] = n.id
			}
			if err := m.store.Put(n.recordID, n.data()); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "flushTouchedLocked",
					"record_id": string(n.recordID),
					"error":     err.Error(),
				}).Error("Persistent flush failed")
			} else {
				n.onPMCFlushed()
			}
		}
		if n.needInfoFlush() {
			if info := m.infoLocked(n.mainFileID); m.context != nil && info != nil && info.sendUpdates {
				fid := n.mainFileID
				m.pending = append(m.pending, func() { m.context.OnFileUpdated(fid) })
			}
			n.onInfoFlushed()
		}
	}
}

// loadFromStoreLocked resolves the node's deferred store read: every full
// location the node owns is looked up, and any record found is rehydrated
// and merged in through the standard registration path.
func (m *Manager) loadFromStoreLocked(n *fileNode) {
	if !n.needLoadFromPMC || m.store == nil {
		return
	}
	n.needLoadFromPMC = false

	type hit struct {
		id   metastore.RecordID
		data metastore.FileData
	}
	var hits []hit
	if n.local.Kind == location.KindFull {
		if id, data, err := m.store.GetByLocal(n.local.Full.Key()); err == nil {
			hits = append(hits, hit{id, data})
		} else if !errors.Is(err, metastore.ErrRecordNotFound) {
			logrus.WithFields(logrus.Fields{"function": "loadFromStoreLocked", "error": err.Error()}).Warn("Store read failed")
		}
	}
	if n.remote.Kind == location.KindFull {
		if id, data, err := m.store.GetByRemote(n.remote.Full.Key()); err == nil {
			hits = append(hits, hit{id, data})
		}
	}
	if n.generate.Kind == location.KindFull {
		if id, data, err := m.store.GetByGenerate(n.generate.Full.Key()); err == nil {
			hits = append(hits, hit{id, data})
		}
	}

	for _, h := range hits {
		if h.id == n.recordID {
			continue
		}
		if otherID, ok := m.recordToNodeID[h.id]; ok {
			// The record is already realized as a node; converge on it.
			if other := m.nodeByIDLocked(otherID); other != nil && other != n {
				if _, err := m.mergeLocked(n.mainFileID, other.mainFileID, false); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "loadFromStoreLocked",
						"error":    err.Error(),
					}).Warn("Rehydration merge failed")
				}
			}
			continue
		}
		m.applyRecordLocked(n, h.id, h.data)
		// The node may have been merged away; follow the handle.
		if live := m.nodeLocked(n.mainFileID); live != nil {
			n = live
		}
	}
}

// applyRecordLocked folds one store record into node n.
func (m *Manager) applyRecordLocked(n *fileNode, id metastore.RecordID, data metastore.FileData) {
	other, otherID := m.createNodeLocked(data, 0)
	other.recordID = id
	other.needLoadFromPMC = false
	m.recordToNodeID[id] = other.id
	if _, err := m.mergeLocked(n.mainFileID, otherID, false); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "applyRecordLocked",
			"record_id": string(id),
			"error":     err.Error(),
		}).Warn("Stored record conflicts with live node, dropping record")
		// Unwind the staging node; the store row stays for manual repair.
		other.recordID = ""
		delete(m.recordToNodeID, id)
		for _, fid := range other.fileIDs {
			m.infos[int(fid)-1] = fileIDInfo{}
			m.emptyFileIDs = append(m.emptyFileIDs, fid)
		}
		other.fileIDs = nil
		m.freeNodeLocked(other)
	}
}
