package metastore

import (
	"sync"

	"github.com/opd-ai/filecore/location"
)

// MemoryStore is an in-process Store backed by maps. It is the baseline
// implementation and the substrate of DirStore.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[RecordID]FileData
	localIndex    map[location.LocalKey]RecordID
	remoteIndex   map[location.RemoteKey]RecordID
	generateIndex map[location.GenerateKey]RecordID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[RecordID]FileData),
		localIndex:    make(map[location.LocalKey]RecordID),
		remoteIndex:   make(map[location.RemoteKey]RecordID),
		generateIndex: make(map[location.GenerateKey]RecordID),
	}
}

// GetByLocal looks up a record by its full local key.
func (s *MemoryStore) GetByLocal(key location.LocalKey) (RecordID, FileData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.localIndex[key]
	if !ok {
		return "", FileData{}, ErrRecordNotFound
	}
	return id, s.records[id], nil
}

// GetByRemote looks up a record by its full remote key.
func (s *MemoryStore) GetByRemote(key location.RemoteKey) (RecordID, FileData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.remoteIndex[key]
	if !ok {
		return "", FileData{}, ErrRecordNotFound
	}
	return id, s.records[id], nil
}

// GetByGenerate looks up a record by its full generate key.
func (s *MemoryStore) GetByGenerate(key location.GenerateKey) (RecordID, FileData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.generateIndex[key]
	if !ok {
		return "", FileData{}, ErrRecordNotFound
	}
	return id, s.records[id], nil
}

// GetByRecordID looks up a record by primary key.
func (s *MemoryStore) GetByRecordID(id RecordID) (FileData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[id]
	if !ok {
		return FileData{}, ErrRecordNotFound
	}
	return data, nil
}

// Put writes data under id, replacing any previous record and re-pointing
// the location indexes at the new state.
func (s *MemoryStore) Put(id RecordID, data FileData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unindexLocked(id)
	s.records[id] = data
	s.indexLocked(id, data)
	return nil
}

// Erase removes the record stored under id. Erasing an absent id is not an
// error.
func (s *MemoryStore) Erase(id RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unindexLocked(id)
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) indexLocked(id RecordID, data FileData) {
	if data.Local.Kind == location.KindFull {
		s.localIndex[data.Local.Full.Key()] = id
	}
	if data.Remote.Kind == location.KindFull {
		s.remoteIndex[data.Remote.Full.Key()] = id
	}
	if data.Generate.Kind == location.KindFull {
		s.generateIndex[data.Generate.Full.Key()] = id
	}
}

func (s *MemoryStore) unindexLocked(id RecordID) {
	old, ok := s.records[id]
	if !ok {
		return
	}
	if old.Local.Kind == location.KindFull {
		if s.localIndex[old.Local.Full.Key()] == id {
			delete(s.localIndex, old.Local.Full.Key())
		}
	}
	if old.Remote.Kind == location.KindFull {
		if s.remoteIndex[old.Remote.Full.Key()] == id {
			delete(s.remoteIndex, old.Remote.Full.Key())
		}
	}
	if old.Generate.Kind == location.KindFull {
		if s.generateIndex[old.Generate.Full.Key()] == id {
			delete(s.generateIndex, old.Generate.Full.Key())
		}
	}
}
