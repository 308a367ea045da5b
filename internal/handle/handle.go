package handle

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	fserrors "github.com/mediafire/mfsfs/pkg/errors"
)

// Role distinguishes the three ways an open handle came to exist, which
// determines what release does with its staged content.
type Role int

const (
	Readonly Role = iota
	WritableExisting
	LocalNew
)

func (r Role) String() string {
	switch r {
	case Readonly:
		return "READONLY"
	case WritableExisting:
		return "WRITABLE_EXISTING"
	case LocalNew:
		return "LOCAL_NEW"
	default:
		return "UNKNOWN"
	}
}

// OpenCensus tracks the readonly_open and writable_open path-multisets and
// enforces the exclusion invariant: at most one writable handle per path,
// and writable and readonly handles on the same path are mutually
// exclusive.
type OpenCensus struct {
	ReadonlySet  *PathMultiset
	WritableSet  *PathMultiset
}

// NewOpenCensus returns an empty census.
func NewOpenCensus() *OpenCensus {
	return &OpenCensus{
		ReadonlySet: NewPathMultiset(),
		WritableSet: NewPathMultiset(),
	}
}

// TryOpenReadonly admits a new readonly handle on path, or returns
// ACCESS_DENIED if a writable handle is currently open on it.
func (c *OpenCensus) TryOpenReadonly(path string) error {
	if c.WritableSet.Contains(path) {
		return fserrors.New(fserrors.AccessDenied, "path is open for writing").
			WithComponent("handle").WithOperation("open_readonly").WithDetail("path", path)
	}
	c.ReadonlySet.Add(path)
	return nil
}

// TryOpenWritable admits a new writable handle on path, or returns
// ACCESS_DENIED if any handle (readonly or writable) is already open on it.
func (c *OpenCensus) TryOpenWritable(path string) error {
	if c.WritableSet.Contains(path) || c.ReadonlySet.Contains(path) {
		return fserrors.New(fserrors.AccessDenied, "path already open").
			WithComponent("handle").WithOperation("open_writable").WithDetail("path", path)
	}
	c.WritableSet.Add(path)
	return nil
}

// ReleaseReadonly decrements the readonly multiset for path. A missing
// entry is a fatal internal-invariant violation per the release-semantics
// contract: it means a handle was released twice, or without a matching
// open having been recorded.
func (c *OpenCensus) ReleaseReadonly(path string) {
	if !c.ReadonlySet.Remove(path) {
		fatalInvariant("release_readonly", path, "no matching readonly_open entry")
	}
}

// ReleaseWritable decrements the writable multiset for path. See
// ReleaseReadonly for the fatal-invariant rationale.
func (c *OpenCensus) ReleaseWritable(path string) {
	if !c.WritableSet.Remove(path) {
		fatalInvariant("release_writable", path, "no matching writable_open entry")
	}
}

// IsHeldOpen reports whether any handle, of either mode, is currently open
// on path. FolderTree.update consults this to decide whether a path's
// catalog entry may be refreshed from the journal.
func (c *OpenCensus) IsHeldOpen(path string) bool {
	return c.ReadonlySet.Contains(path) || c.WritableSet.Contains(path)
}

// fatalInvariant logs and terminates the process, matching the error
// handling design's directive that a missing multiset entry on release or
// a duplicate writable entry indicates a logic bug, not a user-visible
// error, and must not be swallowed.
func fatalInvariant(op, path, msg string) {
	slog.Error("fatal open-handle invariant violation", "op", op, "path", path, "detail", msg)
	panic(fmt.Sprintf("handle: %s: %s (path=%s)", op, msg, path))
}

// StagingFile wraps an unnamed temporary file: created in the staging
// directory, then os.Remove'd immediately so the only live reference is
// the open descriptor. Process death cleans it up for free.
type StagingFile struct {
	f *os.File
}

// ReadAt, WriteAt, and Truncate satisfy the handful of operations
// VfsAdapter needs from a staged file without exposing the raw *os.File.
func (s *StagingFile) ReadAt(p []byte, off int64) (int, error)  { return s.f.ReadAt(p, off) }
func (s *StagingFile) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }
func (s *StagingFile) Truncate(size int64) error                { return s.f.Truncate(size) }
func (s *StagingFile) Sync() error                               { return s.f.Sync() }

// SeekStart rewinds the staged file to offset 0, needed before hashing or
// uploading its full contents.
func (s *StagingFile) SeekStart() error {
	_, err := s.f.Seek(0, io.SeekStart)
	return err
}

// Reader exposes the staged file as an io.Reader for hashing and upload,
// without leaking the underlying *os.File to callers outside this
// package.
func (s *StagingFile) Reader() io.Reader {
	return s.f
}

// Size returns the staged file's current length.
func (s *StagingFile) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases the descriptor. Since the file is already unlinked, this
// is the only step that actually frees its disk space.
func (s *StagingFile) Close() error {
	return s.f.Close()
}

// StagingStore creates and tracks staged files under a configured
// directory, matching §6.4's "exist and be writable at startup" contract.
type StagingStore struct {
	dir string
}

// NewStagingStore validates dir exists and is writable, then returns a
// store rooted there.
func NewStagingStore(dir string) (*StagingStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fserrors.New(fserrors.Internal, "staging directory unavailable").
			WithComponent("handle").WithCause(err).WithDetail("dir", dir)
	}
	if !info.IsDir() {
		return nil, fserrors.New(fserrors.InvalidArg, "staging path is not a directory").
			WithComponent("handle").WithDetail("dir", dir)
	}
	probe, err := os.CreateTemp(dir, ".mfsfs-probe-*")
	if err != nil {
		return nil, fserrors.New(fserrors.Internal, "staging directory is not writable").
			WithComponent("handle").WithCause(err).WithDetail("dir", dir)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return &StagingStore{dir: dir}, nil
}

// Create allocates a fresh, empty, unnamed staging file.
func (s *StagingStore) Create() (*StagingFile, error) {
	f, err := os.CreateTemp(s.dir, ".mfsfs-staging-*")
	if err != nil {
		return nil, fserrors.New(fserrors.Internal, "create staging file").
			WithComponent("handle").WithCause(err)
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fserrors.New(fserrors.Internal, "unlink staging file").
			WithComponent("handle").WithCause(err)
	}
	return &StagingFile{f: f}, nil
}

// OpenHandle is the per-open state a VFS `open`/`create` call hands back as
// an opaque token and that `release` consumes exactly once. It is owned
// exclusively by whichever caller is holding the token; there is no
// reference counting at this layer, only single-owner transfer, per the
// ownership note on staged files.
type OpenHandle struct {
	Path    string
	Role    Role
	Staged  *StagingFile
	// RemoteHash is the hash recorded at open time, used by upload_patch's
	// hash-based elision check (applies uniformly regardless of how the
	// handle was opened).
	RemoteHash string
}
