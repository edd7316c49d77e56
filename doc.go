// Package filecore implements the file manager core of a messaging
// client: it unifies every notion of a "file" — a blob on the local disk,
// an addressable object on the content servers, or a recipe for producing
// bytes on demand — into one logical entity with a stable identity, and
// drives the download, upload and generate state machines over those
// entities.
//
// # Handles and nodes
//
// Callers work with lightweight handles (FileID). Many handles may alias
// one underlying node; handles converge through Merge when two
// registrations turn out to describe the same file. A node owns one
// location per namespace (local, remote, generate), the authoritative
// sizes, the per-direction priorities, and the persistence state.
//
//	mgr, _ := filecore.New(&filecore.Options{LoadEngine: engine, Store: store})
//	id, _ := mgr.RegisterLocal(location.FullLocal{
//	    FileType: location.FileTypePhoto,
//	    Path:     "/home/user/photo.jpg",
//	}, ownerID, 0, false, false)
//	mgr.Upload(id, callback, 5, 1)
//
// # State machine
//
// After every mutation the manager recomputes the desired operation for
// the affected node: download when a full remote exists and the local
// copy does not, upload in the opposite case, generate when only a
// recipe is known. Exactly one operation runs per node; generation takes
// precedence over downloading when its priority is at least as high.
//
// # Persistence
//
// Node metadata is flushed to a metastore.Store with coalesced writes:
// dirty nodes are written once per public call or engine callback, never
// inside the state engine. Records survive restarts and are rehydrated
// through RegisterFile or lazily on first use.
//
// # Concurrency
//
// The manager serializes all work behind a single lock, equivalent to an
// actor mailbox. Engine callbacks may arrive on any goroutine; caller
// callbacks and engine invocations are dispatched after the lock is
// released, so they may safely re-enter the manager.
package filecore
