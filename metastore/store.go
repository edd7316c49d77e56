// Package metastore persists the authoritative metadata of managed files.
//
// A Store maps stable record ids to FileData records and maintains lookup
// indexes over the three full-location namespaces, so a file registered in
// a previous session can be recognized by any coordinate discovered later.
package metastore

import (
	"errors"

	"github.com/google/uuid"

	"github.com/opd-ai/filecore/location"
)

// ErrRecordNotFound indicates no record exists for the requested key.
var ErrRecordNotFound = errors.New("metastore: record not found")

// RecordID is the primary key of a persisted file record. Ids are minted
// once per file node and never change; merges keep one id and erase the
// other.
type RecordID string

// NewRecordID mints a fresh record id.
func NewRecordID() RecordID { return RecordID(uuid.NewString()) }

// RemoteSource records the provenance of a remote location. Locations from
// the server are trusted over locations from the local database, which are
// trusted over user input.
type RemoteSource uint8

const (
	SourceNone RemoteSource = iota
	SourceFromUser
	SourceFromDB
	SourceFromServer
)

func (s RemoteSource) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceFromUser:
		return "from_user"
	case SourceFromDB:
		return "from_db"
	case SourceFromServer:
		return "from_server"
	default:
		return "unknown"
	}
}

// FileData is the persistent record of one file node: all three locations,
// the sizes, the human-facing metadata and the opaque encryption key.
type FileData struct {
	Local         location.Local
	Remote        location.Remote
	Generate      location.Generate
	Size          int64
	ExpectedSize  int64
	Name          string
	URL           string
	OwnerID       int64
	EncryptionKey []byte
	RemoteSource  RemoteSource
}

// Store is the metadata key-value store contract used by the file manager.
// Get methods return ErrRecordNotFound when no record matches.
type Store interface {
	GetByLocal(key location.LocalKey) (RecordID, FileData, error)
	GetByRemote(key location.RemoteKey) (RecordID, FileData, error)
	GetByGenerate(key location.GenerateKey) (RecordID, FileData, error)
	GetByRecordID(id RecordID) (FileData, error)
	Put(id RecordID, data FileData) error
	Erase(id RecordID) error
}
