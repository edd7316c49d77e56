package filecore

// FileID is a lightweight handle on a managed file. Many handles may alias
// one underlying node; they converge through merges. The zero FileID is
// invalid.
type FileID int32

// IsValid reports whether id could address a node. Validity against a
// specific manager still requires the manager's tables.
func (id FileID) IsValid() bool { return id > 0 }

// fileIDInfo is the per-handle state: the backing node, the handle's own
// priorities, and the callbacks bound to it. The node's effective priority
// per direction is the max across its handles.
type fileIDInfo struct {
	nodeID nodeID

	// sendUpdates gates Context.OnFileUpdated notifications when this
	// handle is the node's main handle.
	sendUpdates bool

	downloadPriority int32
	uploadPriority   int32

	uploadOrder uint64

	downloadCallback DownloadCallback
	uploadCallback   UploadCallback
}

// query is one outstanding engine operation, keyed by QueryID in the
// router table. fileID routes the completion back to the issuing handle.
type query struct {
	fileID FileID
	kind   queryKind
}

type queryKind uint8

const (
	queryDownload queryKind = iota
	queryUpload
	queryUploadByHash
	queryGenerate
	querySetContent
)

func (k queryKind) String() string {
	switch k {
	case queryDownload:
		return "download"
	case queryUpload:
		return "upload"
	case queryUploadByHash:
		return "upload_by_hash"
	case queryGenerate:
		return "generate"
	case querySetContent:
		return "set_content"
	default:
		return "unknown"
	}
}
