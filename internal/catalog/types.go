// Package catalog maintains the in-memory projection of the remote
// account's folder/file namespace and keeps it synchronized against the
// remote's change journal.
package catalog

import "time"

// RootKey is the sentinel folder-key for the account root. The remote API
// itself also accepts "myfiles" or a nil parent to mean the same thing;
// that ambiguity is resolved at the internal/remote boundary, not here.
const RootKey = "root"

// Folder is the catalog's representation of a remote folder. Child keys are
// stored directly on the folder (arena + index) rather than as pointers, so
// the catalog is a flat map, never a pointer graph: a malformed or cyclic
// remote response cannot produce an unreachable Go cycle.
type Folder struct {
	Key             string
	Name            string
	ParentKey       string // "" only for the root
	Revision        int64
	ChildFolderKeys []string
	ChildFileKeys   []string
	CreatedAt       time.Time
	ModifiedAt      time.Time
}

// FileEntry is the catalog's representation of a remote file.
type FileEntry struct {
	Key        string
	Name       string
	Hash       string // hex, >=32 chars; SHA-256 or legacy MD5
	Size       int64
	ParentKey  string
	Revision   int64
	ModifiedAt time.Time
}

// Kind distinguishes a resolved path's target.
type Kind int

const (
	KindNone Kind = iota
	KindFolder
	KindFile
)
