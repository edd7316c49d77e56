package metastore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filecore/location"
)

const recordExt = ".meta"

// DirStore persists records as one CBOR file per record under a directory.
// Lookups are served from an in-memory MemoryStore rebuilt on Open; writes
// go to disk first and to the indexes second. Corrupt records found during
// the scan are logged and skipped, never fatal.
type DirStore struct {
	dir string
	mem *MemoryStore
}

// OpenDirStore opens (creating if needed) the record directory and loads
// every readable record into the in-memory indexes.
func OpenDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("metastore: create %q: %w", dir, err)
	}
	s := &DirStore{dir: dir, mem: NewMemoryStore()}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("metastore: scan %q: %w", dir, err)
	}
	loaded, skipped := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		id := RecordID(strings.TrimSuffix(entry.Name(), recordExt))
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err == nil {
			var data FileData
			data, err = DecodeFileData(raw)
			if err == nil {
				s.mem.Put(id, data)
				loaded++
				continue
			}
		}
		logrus.WithFields(logrus.Fields{
			"function":  "OpenDirStore",
			"record_id": string(id),
			"error":     err.Error(),
		}).Warn("Skipping unreadable metadata record")
		skipped++
	}
	logrus.WithFields(logrus.Fields{
		"function": "OpenDirStore",
		"dir":      dir,
		"loaded":   loaded,
		"skipped":  skipped,
	}).Info("Metadata store opened")
	return s, nil
}

func (s *DirStore) path(id RecordID) string {
	return filepath.Join(s.dir, string(id)+recordExt)
}

// GetByLocal implements Store.
func (s *DirStore) GetByLocal(key location.LocalKey) (RecordID, FileData, error) {
	return s.mem.GetByLocal(key)
}

// GetByRemote implements Store.
func (s *DirStore) GetByRemote(key location.RemoteKey) (RecordID, FileData, error) {
	return s.mem.GetByRemote(key)
}

// GetByGenerate implements Store.
func (s *DirStore) GetByGenerate(key location.GenerateKey) (RecordID, FileData, error) {
	return s.mem.GetByGenerate(key)
}

// GetByRecordID implements Store.
func (s *DirStore) GetByRecordID(id RecordID) (FileData, error) {
	return s.mem.GetByRecordID(id)
}

// Put writes the record to disk, then updates the indexes. The write goes
// through a temp file and rename so a crash never leaves a half record.
func (s *DirStore) Put(id RecordID, data FileData) error {
	raw, err := EncodeFileData(data)
	if err != nil {
		return err
	}
	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("metastore: write record %s: %w", id, err)
	}
	if err := os.Rename(tmp, s.path(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metastore: commit record %s: %w", id, err)
	}
	return s.mem.Put(id, data)
}

// Erase removes the record from disk and from the indexes.
func (s *DirStore) Erase(id RecordID) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("metastore: erase record %s: %w", id, err)
	}
	return s.mem.Erase(id)
}
