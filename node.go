package filecore

import (
	"bytes"

	"github.com/cenkalti/backoff/v4"

	"github.com/opd-ai/filecore/location"
	"github.com/opd-ai/filecore/metastore"
)

// nodeID addresses a slot in the manager's dense node table. Zero is
// invalid.
type nodeID int32

// fileNode is the canonical state of one underlying file. Many handles may
// alias one node; the node owns the authoritative locations, sizes and
// priorities, and the dirty flags driving persistence.
type fileNode struct {
	id nodeID

	local    location.Local
	remote   location.Remote
	generate location.Generate

	uploadQueryID   QueryID
	downloadQueryID QueryID
	generateQueryID QueryID

	downloadRetry *backoff.ExponentialBackOff
	uploadRetry   *backoff.ExponentialBackOff
	generateRetry *backoff.ExponentialBackOff

	localReadySize  int64
	remoteReadySize int64

	size          int64
	expectedSize  int64
	name          string
	url           string
	ownerID       int64
	encryptionKey []byte
	contentHash   location.Hash

	recordID metastore.RecordID

	fileIDs    []FileID
	mainFileID FileID

	uploadPause FileID

	uploadPriority   int32
	downloadPriority int32
	generatePriority int32

	generateDownloadPriority int32
	generateUploadPriority   int32

	mainFileIDPriority int8

	remoteSource metastore.RemoteSource

	// emptyType is the declared type of a placeholder node that has no
	// location yet; Temp unless set by RegisterEmpty.
	emptyType location.FileType

	getByHash bool

	isDownloadStarted bool
	generateWasUpdate bool
	needLoadFromPMC   bool

	pmcChanged  bool
	infoChanged bool
}

// setLocal replaces the local location and resets the ready size to what
// the new location accounts for. Ready sizes only grow while one operation
// is active; replacing the location is the reset point.
func (n *fileNode) setLocal(local location.Local, readySize int64) {
	n.local = local
	n.localReadySize = readySize
	n.onChanged()
}

func (n *fileNode) setRemote(remote location.Remote, source metastore.RemoteSource, readySize int64) {
	n.remote = remote
	n.remoteSource = source
	n.remoteReadySize = readySize
	n.onChanged()
}

func (n *fileNode) setGenerate(generate location.Generate) {
	n.generate = generate
	n.onChanged()
}

// setSize records an authoritative total size. A known size never shrinks,
// and the expected size is pulled up to match.
func (n *fileNode) setSize(size int64) {
	if size <= n.size {
		return
	}
	n.size = size
	if n.expectedSize < size {
		n.expectedSize = size
	}
	n.onChanged()
}

func (n *fileNode) setExpectedSize(expectedSize int64) {
	if expectedSize <= n.expectedSize {
		return
	}
	n.expectedSize = expectedSize
	n.onInfoChanged()
}

func (n *fileNode) setName(name string) {
	if name == "" || name == n.name {
		return
	}
	n.name = name
	n.onChanged()
}

func (n *fileNode) setURL(url string) {
	if url == "" || url == n.url {
		return
	}
	n.url = url
	n.onPMCChanged()
}

func (n *fileNode) setOwnerID(ownerID int64) {
	if ownerID == 0 || ownerID == n.ownerID {
		return
	}
	n.ownerID = ownerID
	n.onPMCChanged()
}

func (n *fileNode) setEncryptionKey(key []byte) {
	if bytes.Equal(n.encryptionKey, key) {
		return
	}
	n.encryptionKey = key
	n.onChanged()
}

func (n *fileNode) onChanged() {
	n.onPMCChanged()
	n.onInfoChanged()
}

func (n *fileNode) onPMCChanged() { n.pmcChanged = true }

func (n *fileNode) onInfoChanged() { n.infoChanged = true }

func (n *fileNode) needPMCFlush() bool { return n.pmcChanged }

func (n *fileNode) needInfoFlush() bool { return n.infoChanged }

func (n *fileNode) onPMCFlushed() { n.pmcChanged = false }

func (n *fileNode) onInfoFlushed() { n.infoChanged = false }

// hasActiveQuery reports whether any operation is in flight for the node.
func (n *fileNode) hasActiveQuery() bool {
	return n.uploadQueryID != 0 || n.downloadQueryID != 0 || n.generateQueryID != 0
}

// effectiveType resolves the node's file type with the precedence
// local, remote, generate, then the placeholder type (Temp unless set by
// RegisterEmpty).
func (n *fileNode) effectiveType() location.FileType {
	if n.local.Kind == location.KindFull {
		return n.local.Full.FileType
	}
	if n.remote.Kind == location.KindFull {
		return n.remote.Full.FileType
	}
	if n.generate.Kind == location.KindFull {
		return n.generate.Full.FileType
	}
	return n.emptyType
}

// bestSize is the node's best size estimate for outward reporting.
func (n *fileNode) bestSize() int64 {
	if n.size > 0 {
		return n.size
	}
	return n.expectedSize
}

// data snapshots the node into its persistent record form.
func (n *fileNode) data() metastore.FileData {
	return metastore.FileData{
		Local:         n.local,
		Remote:        n.remote,
		Generate:      n.generate,
		Size:          n.size,
		ExpectedSize:  n.expectedSize,
		Name:          n.name,
		URL:           n.url,
		OwnerID:       n.ownerID,
		EncryptionKey: n.encryptionKey,
		RemoteSource:  n.remoteSource,
	}
}
