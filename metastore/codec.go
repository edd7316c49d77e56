package metastore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/opd-ai/filecore/location"
)

// recordVersion is bumped when the encoded record shape changes in a way
// old readers cannot skip over.
const recordVersion = 1

// fileRecord is the wire shape of a FileData record. Locations are
// flattened to their tag plus the populated arm so empty arms cost no
// bytes on disk.
type fileRecord struct {
	Version int `cbor:"v"`

	LocalKind     location.Kind           `cbor:"lk"`
	LocalPartial  *location.PartialLocal  `cbor:"lp,omitempty"`
	LocalFull     *location.FullLocal     `cbor:"lf,omitempty"`
	RemoteKind    location.Kind           `cbor:"rk"`
	RemotePartial *location.PartialRemote `cbor:"rp,omitempty"`
	RemoteFull    *location.FullRemote    `cbor:"rf,omitempty"`
	GenerateKind  location.Kind           `cbor:"gk"`
	GenerateFull  *location.FullGenerate  `cbor:"gf,omitempty"`

	Size          int64        `cbor:"s,omitempty"`
	ExpectedSize  int64        `cbor:"es,omitempty"`
	Name          string       `cbor:"n,omitempty"`
	URL           string       `cbor:"u,omitempty"`
	OwnerID       int64        `cbor:"o,omitempty"`
	EncryptionKey []byte       `cbor:"k,omitempty"`
	RemoteSource  RemoteSource `cbor:"src,omitempty"`
}

// EncodeFileData serializes data to its canonical CBOR form.
func EncodeFileData(data FileData) ([]byte, error) {
	rec := fileRecord{
		Version:       recordVersion,
		LocalKind:     data.Local.Kind,
		RemoteKind:    data.Remote.Kind,
		GenerateKind:  data.Generate.Kind,
		Size:          data.Size,
		ExpectedSize:  data.ExpectedSize,
		Name:          data.Name,
		URL:           data.URL,
		OwnerID:       data.OwnerID,
		EncryptionKey: data.EncryptionKey,
		RemoteSource:  data.RemoteSource,
	}
	switch data.Local.Kind {
	case location.KindPartial:
		p := data.Local.Partial
		rec.LocalPartial = &p
	case location.KindFull:
		f := data.Local.Full
		rec.LocalFull = &f
	}
	switch data.Remote.Kind {
	case location.KindPartial:
		p := data.Remote.Partial
		rec.RemotePartial = &p
	case location.KindFull:
		f := data.Remote.Full
		rec.RemoteFull = &f
	}
	if data.Generate.Kind == location.KindFull {
		g := data.Generate.Full
		rec.GenerateFull = &g
	}
	return cbor.Marshal(rec)
}

// DecodeFileData parses a record previously produced by EncodeFileData.
func DecodeFileData(raw []byte) (FileData, error) {
	var rec fileRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return FileData{}, fmt.Errorf("metastore: decode record: %w", err)
	}
	if rec.Version != recordVersion {
		return FileData{}, fmt.Errorf("metastore: unsupported record version %d", rec.Version)
	}
	data := FileData{
		Size:          rec.Size,
		ExpectedSize:  rec.ExpectedSize,
		Name:          rec.Name,
		URL:           rec.URL,
		OwnerID:       rec.OwnerID,
		EncryptionKey: rec.EncryptionKey,
		RemoteSource:  rec.RemoteSource,
	}
	switch rec.LocalKind {
	case location.KindPartial:
		if rec.LocalPartial == nil {
			return FileData{}, fmt.Errorf("metastore: partial local tag without payload")
		}
		data.Local = location.NewPartialLocal(*rec.LocalPartial)
	case location.KindFull:
		if rec.LocalFull == nil {
			return FileData{}, fmt.Errorf("metastore: full local tag without payload")
		}
		data.Local = location.NewFullLocal(*rec.LocalFull)
	}
	switch rec.RemoteKind {
	case location.KindPartial:
		if rec.RemotePartial == nil {
			return FileData{}, fmt.Errorf("metastore: partial remote tag without payload")
		}
		data.Remote = location.NewPartialRemote(*rec.RemotePartial)
	case location.KindFull:
		if rec.RemoteFull == nil {
			return FileData{}, fmt.Errorf("metastore: full remote tag without payload")
		}
		data.Remote = location.NewFullRemote(*rec.RemoteFull)
	}
	if rec.GenerateKind == location.KindFull {
		if rec.GenerateFull == nil {
			return FileData{}, fmt.Errorf("metastore: full generate tag without payload")
		}
		data.Generate = location.NewFullGenerate(*rec.GenerateFull)
	}
	return data, nil
}
