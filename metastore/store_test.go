package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/filecore/location"
)

func sampleData() FileData {
	return FileData{
		Local: location.NewFullLocal(location.FullLocal{
			FileType: location.FileTypeDocument,
			Path:     "/files/report.pdf",
			Size:     2048,
			MTime:    1700000000000000000,
		}),
		Remote: location.NewFullRemote(location.FullRemote{
			FileType:   location.FileTypeDocument,
			DC:         3,
			ID:         981273,
			AccessHash: -5,
		}),
		Generate: location.NewFullGenerate(location.FullGenerate{
			FileType:     location.FileTypeDocument,
			OriginalPath: "/src/report.tex",
			Conversion:   "render_pdf",
		}),
		Size:          2048,
		ExpectedSize:  2048,
		Name:          "report.pdf",
		URL:           "",
		OwnerID:       17,
		EncryptionKey: []byte("opaque key material"),
		RemoteSource:  SourceFromServer,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	data := sampleData()
	raw, err := EncodeFileData(data)
	require.NoError(t, err)

	decoded, err := DecodeFileData(raw)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestCodecPartialLocations(t *testing.T) {
	data := FileData{
		Local: location.NewPartialLocal(location.PartialLocal{
			FileType:        location.FileTypeVideo,
			Path:            "/partial/clip.mp4",
			PartSize:        4096,
			ReadyPartCount:  7,
			ReadyPrefixSize: 28672,
		}),
		Remote: location.NewPartialRemote(location.PartialRemote{
			ID:             12,
			PartCount:      16,
			PartSize:       4096,
			ReadyPartCount: 7,
		}),
	}
	raw, err := EncodeFileData(data)
	require.NoError(t, err)
	decoded, err := DecodeFileData(raw)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeFileData([]byte("definitely not cbor"))
	assert.Error(t, err)
}

func TestMemoryStoreLookups(t *testing.T) {
	store := NewMemoryStore()
	data := sampleData()
	id := NewRecordID()
	require.NoError(t, store.Put(id, data))

	gotID, got, err := store.GetByLocal(data.Local.Full.Key())
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, data, got)

	gotID, _, err = store.GetByRemote(data.Remote.Full.Key())
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	gotID, _, err = store.GetByGenerate(data.Generate.Full.Key())
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	got, err = store.GetByRecordID(id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMemoryStoreMiss(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := store.GetByRemote(location.RemoteKey{DC: 1, ID: 2})
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = store.GetByRecordID(NewRecordID())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStorePutReindexes(t *testing.T) {
	store := NewMemoryStore()
	data := sampleData()
	id := NewRecordID()
	require.NoError(t, store.Put(id, data))

	// The record loses its local location; the old index entry must go.
	oldKey := data.Local.Full.Key()
	data.Local = location.EmptyLocal()
	require.NoError(t, store.Put(id, data))

	_, _, err := store.GetByLocal(oldKey)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, _, err = store.GetByRemote(data.Remote.Full.Key())
	assert.NoError(t, err)
}

func TestMemoryStoreErase(t *testing.T) {
	store := NewMemoryStore()
	data := sampleData()
	id := NewRecordID()
	require.NoError(t, store.Put(id, data))
	require.NoError(t, store.Erase(id))

	_, err := store.GetByRecordID(id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, _, err = store.GetByLocal(data.Local.Full.Key())
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// Erasing twice is harmless.
	assert.NoError(t, store.Erase(id))
}
