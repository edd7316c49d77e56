// Package location models the three coordinate spaces a managed file can
// occupy: the local disk, the remote content servers, and the generate
// namespace for files that are produced on demand from a source path or URL.
//
// Each space is a tagged union of Empty, Partial (an in-progress identity
// with a known ready prefix) and Full (a complete, addressable identity).
// Full locations are content-addressable within their kind: two full remote
// locations are the same file iff their server coordinates match, two full
// generate locations iff their (original path, conversion) pair matches.
package location

import "fmt"

// FileType classifies the payload of a managed file. Encrypted and
// EncryptedThumbnail are the encrypted variants; a node carrying an
// encryption key must use one of them.
type FileType uint8

const (
	FileTypeThumbnail FileType = iota
	FileTypeProfilePhoto
	FileTypePhoto
	FileTypeVoiceNote
	FileTypeVideo
	FileTypeDocument
	FileTypeEncrypted
	FileTypeTemp
	FileTypeSticker
	FileTypeAudio
	FileTypeAnimation
	FileTypeEncryptedThumbnail
	FileTypeWallpaper
	FileTypeVideoNote

	fileTypeCount
)

// IsValid reports whether t is a known file type.
func (t FileType) IsValid() bool { return t < fileTypeCount }

// IsEncrypted reports whether t is one of the encrypted variants.
func (t FileType) IsEncrypted() bool {
	return t == FileTypeEncrypted || t == FileTypeEncryptedThumbnail
}

func (t FileType) String() string {
	switch t {
	case FileTypeThumbnail:
		return "thumbnail"
	case FileTypeProfilePhoto:
		return "profile_photo"
	case FileTypePhoto:
		return "photo"
	case FileTypeVoiceNote:
		return "voice_note"
	case FileTypeVideo:
		return "video"
	case FileTypeDocument:
		return "document"
	case FileTypeEncrypted:
		return "encrypted"
	case FileTypeTemp:
		return "temp"
	case FileTypeSticker:
		return "sticker"
	case FileTypeAudio:
		return "audio"
	case FileTypeAnimation:
		return "animation"
	case FileTypeEncryptedThumbnail:
		return "encrypted_thumbnail"
	case FileTypeWallpaper:
		return "wallpaper"
	case FileTypeVideoNote:
		return "video_note"
	default:
		return fmt.Sprintf("file_type(%d)", uint8(t))
	}
}

// Kind is the tag of a location union.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindPartial
	KindFull
)

// FullLocal is a complete local identity: a regular file on disk.
type FullLocal struct {
	FileType FileType
	Path     string
	Size     int64
	MTime    int64 // unix nanoseconds at validation time
}

// LocalKey is the natural key of a full local location.
type LocalKey struct {
	Path string
}

// Key returns the index key for l. Two full local locations address the
// same bytes iff their keys are equal.
func (l FullLocal) Key() LocalKey { return LocalKey{Path: l.Path} }

// PartialLocal describes a local file whose prefix is being filled in by a
// download or a generation.
type PartialLocal struct {
	FileType        FileType
	Path            string
	PartSize        int32
	ReadyPartCount  int32
	ReadyPrefixSize int64
}

// Local is the tagged union over the local coordinate space.
type Local struct {
	Kind    Kind
	Partial PartialLocal
	Full    FullLocal
}

// EmptyLocal returns the empty local location.
func EmptyLocal() Local { return Local{} }

// NewPartialLocal wraps p in a Local tagged Partial.
func NewPartialLocal(p PartialLocal) Local { return Local{Kind: KindPartial, Partial: p} }

// NewFullLocal wraps f in a Local tagged Full.
func NewFullLocal(f FullLocal) Local { return Local{Kind: KindFull, Full: f} }

// FullRemote is a complete remote identity: unique coordinates on a content
// server cluster.
type FullRemote struct {
	FileType   FileType
	DC         int32
	ID         int64
	AccessHash int64
}

// RemoteKey is the natural key of a full remote location. File type is not
// part of the key: the server addresses bytes, not their interpretation.
type RemoteKey struct {
	DC int32
	ID int64
}

// Key returns the index key for r.
func (r FullRemote) Key() RemoteKey { return RemoteKey{DC: r.DC, ID: r.ID} }

func (k RemoteKey) String() string { return fmt.Sprintf("%d_%d", k.DC, k.ID) }

// PartialRemote describes a remote upload in flight.
type PartialRemote struct {
	ID             int64
	PartCount      int32
	PartSize       int32
	ReadyPartCount int32
}

// ReadySize returns the number of bytes the server has acknowledged.
func (p PartialRemote) ReadySize() int64 {
	return int64(p.ReadyPartCount) * int64(p.PartSize)
}

// Remote is the tagged union over the remote coordinate space.
type Remote struct {
	Kind    Kind
	Partial PartialRemote
	Full    FullRemote
}

// EmptyRemote returns the empty remote location.
func EmptyRemote() Remote { return Remote{} }

// NewPartialRemote wraps p in a Remote tagged Partial.
func NewPartialRemote(p PartialRemote) Remote { return Remote{Kind: KindPartial, Partial: p} }

// NewFullRemote wraps f in a Remote tagged Full.
func NewFullRemote(f FullRemote) Remote { return Remote{Kind: KindFull, Full: f} }

// URLConversion is the conversion recipe of a generate location that wraps
// a plain URL download.
const URLConversion = "#url#"

// FullGenerate is a complete generate identity: a recipe for producing the
// file's bytes from an original path (or URL).
type FullGenerate struct {
	FileType     FileType
	OriginalPath string
	Conversion   string
	MTime        int64
}

// GenerateKey is the natural key of a full generate location.
type GenerateKey struct {
	OriginalPath string
	Conversion   string
}

// Key returns the index key for g.
func (g FullGenerate) Key() GenerateKey {
	return GenerateKey{OriginalPath: g.OriginalPath, Conversion: g.Conversion}
}

// IsURL reports whether g wraps a URL download.
func (g FullGenerate) IsURL() bool { return g.Conversion == URLConversion }

// Generate is the tagged union over the generate coordinate space. The
// generate space has no partial form; progress lives on the local side.
type Generate struct {
	Kind Kind
	Full FullGenerate
}

// EmptyGenerate returns the empty generate location.
func EmptyGenerate() Generate { return Generate{} }

// NewFullGenerate wraps f in a Generate tagged Full.
func NewFullGenerate(f FullGenerate) Generate { return Generate{Kind: KindFull, Full: f} }
