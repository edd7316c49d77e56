package filecore

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

// PersistentIDVersion is the current version byte of the persistent-id
// encoding. It is the final byte of the decoded payload so parsers can
// dispatch on it before touching the rest.
const PersistentIDVersion = 2

// persistentIDBinaryLen is the decoded payload length: file type (1),
// dc (4), id (8), access hash (8), version (1).
const persistentIDBinaryLen = 22

// encodePersistentID serializes a full remote location to its stable
// textual form.
func encodePersistentID(remote location.FullRemote) string {
	buf := make([]byte, persistentIDBinaryLen)
	buf[0] = byte(remote.FileType)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(remote.DC))
	binary.LittleEndian.PutUint64(buf[5:13], uint64(remote.ID))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(remote.AccessHash))
	buf[persistentIDBinaryLen-1] = PersistentIDVersion
	return base64.RawURLEncoding.EncodeToString(buf)
}

// decodePersistentID parses a persistent id back into a full remote
// location, validating the trailing version byte first.
func decodePersistentID(persistentID string) (location.FullRemote, error) {
	buf, err := base64.RawURLEncoding.DecodeString(persistentID)
	if err != nil {
		return location.FullRemote{}, fmt.Errorf("%w: %v", ErrWrongPersistentID, err)
	}
	if len(buf) == 0 {
		return location.FullRemote{}, fmt.Errorf("%w: empty payload", ErrWrongPersistentID)
	}
	if version := buf[len(buf)-1]; version != PersistentIDVersion {
		return location.FullRemote{}, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, version)
	}
	if len(buf) != persistentIDBinaryLen {
		return location.FullRemote{}, fmt.Errorf("%w: payload of %d bytes", ErrWrongPersistentID, len(buf))
	}
	remote := location.FullRemote{
		FileType:   location.FileType(buf[0]),
		DC:         int32(binary.LittleEndian.Uint32(buf[1:5])),
		ID:         int64(binary.LittleEndian.Uint64(buf[5:13])),
		AccessHash: int64(binary.LittleEndian.Uint64(buf[13:21])),
	}
	if !remote.FileType.IsValid() {
		return location.FullRemote{}, fmt.Errorf("%w: bad file type %d", ErrWrongPersistentID, buf[0])
	}
	if remote.ID == 0 {
		return location.FullRemote{}, fmt.Errorf("%w: zero file id", ErrWrongPersistentID)
	}
	return remote, nil
}

// ToPersistentID exports the node's full remote location as a stable,
// printable string.
func (m *Manager) ToPersistentID(id FileID) (string, error) {
	var persistentID string
	err := m.run(func() error {
		n := m.nodeLocked(id)
		if n == nil {
			return fmt.Errorf("%w: %d", ErrInvalidFileID, int32(id))
		}
		if n.remote.Kind != location.KindFull {
			return fmt.Errorf("%w: file %d has no full remote location", ErrWrongRemoteLocation, int32(id))
		}
		persistentID = encodePersistentID(n.remote.Full)
		return nil
	})
	return persistentID, err
}

// FromPersistentID imports a persistent id, registering its remote
// location with user provenance. fileType must match the encoded type;
// Temp accepts any.
func (m *Manager) FromPersistentID(persistentID string, fileType location.FileType) (FileID, error) {
	var id FileID
	err := m.run(func() error {
		remote, err := decodePersistentID(persistentID)
		if err != nil {
			return err
		}
		if fileType != location.FileTypeTemp && fileType != remote.FileType {
			return fmt.Errorf("%w: want %v, persistent id carries %v", ErrWrongFileType, fileType, remote.FileType)
		}
		id, err = m.registerRemoteLocked(remote, metastore.SourceFromUser, 0, 0, 0, "")
		return err
	})
	return id, err
}
