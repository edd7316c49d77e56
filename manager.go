package filecore

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/limits"
	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

// FromBytesPriority is the download priority used for direct content
// writes via SetContent.
const FromBytesPriority = 10

// Manager unifies every notion of a file into nodes with stable identity
// and drives the download, upload and generate state machines over them.
//
// The manager serializes all mutations behind one lock, preserving the
// single-mailbox ordering the callback contracts depend on. Engine calls
// and caller callbacks are dispatched after the lock is released, so
// callbacks may safely call back into the manager.
type Manager struct {
	mu sync.Mutex

	opts           Options
	context        Context
	store          metastore.Store
	loadEngine     LoadEngine
	generateEngine GenerateEngine

	infos        []fileIDInfo
	emptyFileIDs []FileID
	nodes        []*fileNode

	localToFileID    map[location.LocalKey]FileID
	remoteToFileID   map[location.RemoteKey]FileID
	generateToFileID map[location.GenerateKey]FileID
	recordToNodeID   map[metastore.RecordID]nodeID

	queries     map[QueryID]query
	nextQueryID QueryID

	badPaths map[string]struct{}

	touched map[nodeID]struct{}
	pending []func()

	closed bool
}

// New creates a Manager. LoadEngine is required; Store, Context and
// GenerateEngine are optional.
func New(opts *Options) (*Manager, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.LoadEngine == nil {
		return nil, fmt.Errorf("%w: load engine is required", ErrIO)
	}
	m := &Manager{
		opts:             *opts,
		context:          opts.Context,
		store:            opts.Store,
		loadEngine:       opts.LoadEngine,
		generateEngine:   opts.GenerateEngine,
		localToFileID:    make(map[location.LocalKey]FileID),
		remoteToFileID:   make(map[location.RemoteKey]FileID),
		generateToFileID: make(map[location.GenerateKey]FileID),
		recordToNodeID:   make(map[metastore.RecordID]nodeID),
		queries:          make(map[QueryID]query),
		badPaths:         make(map[string]struct{}),
		touched:          make(map[nodeID]struct{}),
	}
	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"has_store":    opts.Store != nil,
		"has_generate": opts.GenerateEngine != nil,
	}).Info("File manager created")
	return m, nil
}

// run executes fn under the manager lock, then performs the deferred
// flush pass and dispatches engine calls and caller callbacks outside the
// lock. Every public entry point goes through it; it is the Go rendering
// of one mailbox message.
func (m *Manager) run(fn func() error) error {
	m.mu.Lock()
	err := fn()
	m.flushTouchedLocked()
	calls := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, call := range calls {
		call()
	}
	return err
}

// Close cancels every outstanding query and performs a final flush.
func (m *Manager) Close() error {
	return m.run(func() error {
		if m.closed {
			return nil
		}
		m.closed = true
		for _, n := range m.nodes {
			if n == nil {
				continue
			}
			m.cancelDownloadLocked(n)
			m.cancelUploadLocked(n)
			m.cancelGenerateLocked(n)
			m.touchLocked(n)
		}
		logrus.WithFields(logrus.Fields{"function": "Close"}).Info("File manager closed")
		return nil
	})
}

// ---- identity table ----

func (m *Manager) infoLocked(id FileID) *fileIDInfo {
	if id <= 0 || int(id) > len(m.infos) {
		return nil
	}
	info := &m.infos[int(id)-1]
	if info.nodeID == 0 {
		return nil
	}
	return info
}

func (m *Manager) nodeByIDLocked(nid nodeID) *fileNode {
	if nid <= 0 || int(nid) > len(m.nodes) {
		return nil
	}
	return m.nodes[int(nid)-1]
}

func (m *Manager) nodeLocked(id FileID) *fileNode {
	info := m.infoLocked(id)
	if info == nil {
		return nil
	}
	return m.nodeByIDLocked(info.nodeID)
}

// createFileIDLocked mints a handle bound to node n, reusing a retired
// slot when one is available.
func (m *Manager) createFileIDLocked(n *fileNode) FileID {
	var id FileID
	if len(m.emptyFileIDs) > 0 {
		id = m.emptyFileIDs[len(m.emptyFileIDs)-1]
		m.emptyFileIDs = m.emptyFileIDs[:len(m.emptyFileIDs)-1]
		m.infos[int(id)-1] = fileIDInfo{}
	} else {
		m.infos = append(m.infos, fileIDInfo{})
		id = FileID(len(m.infos))
	}
	m.infos[int(id)-1].nodeID = n.id
	m.infos[int(id)-1].sendUpdates = true
	n.fileIDs = append(n.fileIDs, id)
	return id
}

// createNodeLocked builds a fresh node around data and mints its main
// handle.
func (m *Manager) createNodeLocked(data metastore.FileData, mainPriority int8) (*fileNode, FileID) {
	n := &fileNode{
		id:                 nodeID(len(m.nodes) + 1),
		local:              data.Local,
		remote:             data.Remote,
		generate:           data.Generate,
		size:               data.Size,
		expectedSize:       data.ExpectedSize,
		name:               data.Name,
		url:                data.URL,
		ownerID:            data.OwnerID,
		encryptionKey:      data.EncryptionKey,
		remoteSource:       data.RemoteSource,
		emptyType:          location.FileTypeTemp,
		mainFileIDPriority: mainPriority,
	}
	if n.local.Kind == location.KindFull {
		n.localReadySize = n.local.Full.Size
	}
	if n.remote.Kind == location.KindFull {
		n.remoteReadySize = n.size
	}
	m.nodes = append(m.nodes, n)
	id := m.createFileIDLocked(n)
	n.mainFileID = id
	n.onChanged()
	m.touchLocked(n)
	if m.context != nil {
		size := n.bestSize()
		m.pending = append(m.pending, func() { m.context.OnNewFile(size) })
	}
	return n, id
}

// freeNodeLocked retires a node whose handles have all been moved away.
func (m *Manager) freeNodeLocked(n *fileNode) {
	if n.recordID != "" {
		delete(m.recordToNodeID, n.recordID)
		if m.store != nil {
			if err := m.store.Erase(n.recordID); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "freeNodeLocked",
					"record_id": string(n.recordID),
					"error":     err.Error(),
				}).Warn("Failed to erase metadata record")
			}
		}
	}
	delete(m.touched, n.id)
	m.nodes[int(n.id)-1] = nil
}

// ---- registration ----

// RegisterEmpty creates a placeholder node that only knows its file type.
func (m *Manager) RegisterEmpty(fileType location.FileType) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		if !fileType.IsValid() {
			return fmt.Errorf("%w: %v", ErrWrongFileType, fileType)
		}
		var err error
		id, err = m.registerDataLocked(metastore.FileData{}, metastore.SourceNone, false)
		if err != nil {
			return err
		}
		if n := m.nodeLocked(id); n != nil {
			n.emptyType = fileType
			n.needLoadFromPMC = false
		}
		return nil
	})
	return id, err
}

// RegisterLocal ensures a node holding the given full local location,
// merging into an existing node that already owns it. The location is
// validated against the filesystem before being accepted. With getByHash
// the file's content hash is computed so uploads can be deduplicated by
// the server. force bypasses the bad-path cache, re-validates, and cancels
// an in-flight upload of the pre-existing node (fresh bytes invalidate
// parts already sent).
func (m *Manager) RegisterLocal(loc location.FullLocal, ownerID int64, size int64, getByHash, force bool) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		if !loc.FileType.IsValid() {
			return fmt.Errorf("%w: %v", ErrWrongFileType, loc.FileType)
		}
		if err := limits.ValidateFileSize(size); err != nil {
			return fmt.Errorf("%w: %v", ErrWrongLocalLocation, err)
		}
		if _, bad := m.badPaths[loc.Path]; bad && !force {
			return fmt.Errorf("%w: path %q failed validation before", ErrWrongLocalLocation, loc.Path)
		}
		checked, err := location.CheckFullLocal(loc, size)
		if err != nil {
			m.badPaths[loc.Path] = struct{}{}
			logrus.WithFields(logrus.Fields{
				"function": "RegisterLocal",
				"path":     loc.Path,
				"error":    err.Error(),
			}).Warn("Local location rejected")
			return err
		}
		delete(m.badPaths, checked.Path)

		var hash location.Hash
		if getByHash {
			hash, err = location.HashFile(checked.Path)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "RegisterLocal",
					"path":     checked.Path,
					"error":    err.Error(),
				}).Warn("Content hash unavailable, registering without it")
				getByHash = false
			}
		}

		if force {
			if prev, ok := m.localToFileID[checked.Key()]; ok {
				if n := m.nodeLocked(prev); n != nil && n.uploadQueryID != 0 {
					m.cancelUploadLocked(n)
					m.runStateMachineLocked(n)
				}
			}
		}

		data := metastore.FileData{
			Local:   location.NewFullLocal(checked),
			Size:    checked.Size,
			OwnerID: ownerID,
		}
		id, err = m.registerDataLocked(data, metastore.SourceNone, force)
		if err != nil {
			return err
		}
		if n := m.nodeLocked(id); n != nil {
			n.getByHash = n.getByHash || getByHash
			if !hash.IsZero() {
				n.contentHash = hash
			}
		}
		return nil
	})
	return id, err
}

// RegisterRemote ensures a node holding the given full remote location.
func (m *Manager) RegisterRemote(loc location.FullRemote, ownerID int64, size, expectedSize int64, name string) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		var err error
		id, err = m.registerRemoteLocked(loc, metastore.SourceFromUser, ownerID, size, expectedSize, name)
		return err
	})
	return id, err
}

func (m *Manager) registerRemoteLocked(loc location.FullRemote, source metastore.RemoteSource, ownerID int64, size, expectedSize int64, name string) (FileID, error) {
	if !loc.FileType.IsValid() {
		return 0, fmt.Errorf("%w: %v", ErrWrongFileType, loc.FileType)
	}
	if loc.ID == 0 {
		return 0, fmt.Errorf("%w: zero file id", ErrWrongRemoteLocation)
	}
	if err := limits.ValidateFileSize(size); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrongRemoteLocation, err)
	}
	if err := limits.ValidateFileName(name); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrongRemoteLocation, err)
	}
	data := metastore.FileData{
		Remote:       location.NewFullRemote(loc),
		Size:         size,
		ExpectedSize: expectedSize,
		Name:         name,
		OwnerID:      ownerID,
		RemoteSource: source,
	}
	return m.registerDataLocked(data, source, false)
}

// RegisterGenerate ensures a node holding the given generate location.
// (originalPath, conversion) is the natural key.
func (m *Manager) RegisterGenerate(fileType location.FileType, originalPath, conversion string, ownerID int64, expectedSize int64) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		if !fileType.IsValid() {
			return fmt.Errorf("%w: %v", ErrWrongFileType, fileType)
		}
		if conversion == "" || len(conversion) > limits.MaxConversionLength {
			return fmt.Errorf("%w: bad conversion recipe", ErrWrongLocalLocation)
		}
		data := metastore.FileData{
			Generate: location.NewFullGenerate(location.FullGenerate{
				FileType:     fileType,
				OriginalPath: originalPath,
				Conversion:   conversion,
			}),
			ExpectedSize: expectedSize,
			OwnerID:      ownerID,
		}
		var err error
		id, err = m.registerDataLocked(data, metastore.SourceNone, false)
		return err
	})
	return id, err
}

// RegisterURL registers a file that is produced by downloading url. The
// URL is wrapped in a generate location with the #url# conversion.
func (m *Manager) RegisterURL(url string, fileType location.FileType, ownerID int64) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		if url == "" {
			return fmt.Errorf("%w: empty url", ErrWrongLocalLocation)
		}
		data := metastore.FileData{
			Generate: location.NewFullGenerate(location.FullGenerate{
				FileType:     fileType,
				OriginalPath: url,
				Conversion:   location.URLConversion,
			}),
			URL:     url,
			OwnerID: ownerID,
		}
		var err error
		id, err = m.registerDataLocked(data, metastore.SourceNone, false)
		return err
	})
	return id, err
}

// RegisterFile rehydrates a node from a persistent record, cross-populating
// every location index and merging into any node already holding one of the
// record's locations.
func (m *Manager) RegisterFile(data metastore.FileData, source metastore.RemoteSource, force bool) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		var err error
		id, err = m.registerDataLocked(data, source, force)
		return err
	})
	return id, err
}

// registerDataLocked is the shared registration path: create a node from
// data, then fold it into any nodes already owning one of its full
// locations.
func (m *Manager) registerDataLocked(data metastore.FileData, source metastore.RemoteSource, force bool) (FileID, error) {
	n, id := m.createNodeLocked(data, 0)
	if m.store != nil && source != metastore.SourceFromDB {
		n.needLoadFromPMC = true
	}

	// Collect handles of nodes that already own one of our full locations.
	var others []FileID
	if data.Local.Kind == location.KindFull {
		if other, ok := m.localToFileID[data.Local.Full.Key()]; ok {
			others = append(others, other)
		}
	}
	if data.Remote.Kind == location.KindFull {
		if other, ok := m.remoteToFileID[data.Remote.Full.Key()]; ok {
			others = append(others, other)
		}
	}
	if data.Generate.Kind == location.KindFull {
		if other, ok := m.generateToFileID[data.Generate.Full.Key()]; ok {
			others = append(others, other)
		}
	}

	for _, other := range others {
		merged, err := m.mergeLocked(id, other, false)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "registerDataLocked",
				"file_id":  int32(id),
				"other":    int32(other),
				"error":    err.Error(),
			}).Error("Registration merge failed")
			if fresh := m.nodeLocked(id); fresh == n {
				// Unwind the node this registration created.
				for _, fid := range n.fileIDs {
					m.infos[int(fid)-1] = fileIDInfo{}
					m.emptyFileIDs = append(m.emptyFileIDs, fid)
				}
				n.fileIDs = nil
				m.freeNodeLocked(n)
			}
			return 0, err
		}
		id = merged
	}

	n = m.nodeLocked(id)
	m.bindLocationsLocked(n)
	m.runStateMachineLocked(n)
	logrus.WithFields(logrus.Fields{
		"function": "registerDataLocked",
		"file_id":  int32(id),
		"node_id":  int32(n.id),
		"source":   source.String(),
	}).Debug("File registered")
	return id, nil
}

// bindLocationsLocked points the location indexes at n's main handle for
// every full location it owns.
func (m *Manager) bindLocationsLocked(n *fileNode) {
	if n.local.Kind == location.KindFull {
		m.localToFileID[n.local.Full.Key()] = n.mainFileID
	}
	if n.remote.Kind == location.KindFull {
		m.remoteToFileID[n.remote.Full.Key()] = n.mainFileID
	}
	if n.generate.Kind == location.KindFull {
		m.generateToFileID[n.generate.Full.Key()] = n.mainFileID
	}
}

// DupFileID mints a fresh handle aliased to the same node, with its own
// priorities and callbacks.
func (m *Manager) DupFileID(id FileID) (FileID, error) {
	var dup FileID
	err := m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		dup = m.createFileIDLocked(n)
		return nil
	})
	return dup, err
}
