// Package vfs is the thin translation layer between a FUSE-style host
// bridge and the catalog/handle packages: the ~12 VFS entry points,
// exclusion gating, and error-to-errno mapping.
package vfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"

	"github.com/mediafire/mfsfs/internal/catalog"
	"github.com/mediafire/mfsfs/internal/handle"
	fserrors "github.com/mediafire/mfsfs/pkg/errors"
)

// Adapter ties a FolderTree and an OpenCensus together and is the single
// collaborator a FUSE backend (internal/fuse) talks to.
type Adapter struct {
	tree   *catalog.FolderTree
	census *handle.OpenCensus
	log    *slog.Logger

	mu         sync.Mutex
	handles    map[uint64]*handle.OpenHandle
	nextHandle uint64

	uid, gid uint32
}

// New constructs an Adapter. uid/gid are the effective owner attributed to
// synthesized LOCAL_NEW getattr records.
func New(tree *catalog.FolderTree, census *handle.OpenCensus, uid, gid uint32, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		tree:       tree,
		census:     census,
		log:        logger,
		handles:    make(map[uint64]*handle.OpenHandle),
		nextHandle: 1,
		uid:        uid,
		gid:        gid,
	}
}

// Getattr triggers a non-forced update — the one place opportunistic sync
// happens, per §4.5 — then fills a stat record for path.
func (a *Adapter) Getattr(ctx context.Context, path string) (catalog.Stat, error) {
	_ = a.tree.Update(ctx, false)
	return a.tree.Getattr(path)
}

// Readdir enumerates path's directory contents.
func (a *Adapter) Readdir(path string) ([]catalog.DirEntry, error) {
	return a.tree.Readdir(path)
}

// Mkdir creates a folder at path.
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	return a.tree.Mkdir(ctx, path)
}

// Rmdir removes the folder at path. Existence/emptiness preconditions are
// assumed already checked by the host's preceding getattr/readdir, per
// §4.3.
func (a *Adapter) Rmdir(ctx context.Context, path string) error {
	return a.tree.Rmdir(ctx, path)
}

// Unlink removes the file at path.
func (a *Adapter) Unlink(ctx context.Context, path string) error {
	return a.tree.Unlink(ctx, path)
}

// Open admits a new handle on an existing file, applying the exclusion
// gating of §4.2 before any remote I/O runs.
func (a *Adapter) Open(ctx context.Context, path string, writable bool) (uint64, error) {
	if writable {
		if err := a.census.TryOpenWritable(path); err != nil {
			return 0, err
		}
	} else {
		if err := a.census.TryOpenReadonly(path); err != nil {
			return 0, err
		}
	}

	staged, hash, err := a.tree.OpenFile(ctx, path)
	if err != nil {
		if writable {
			a.census.ReleaseWritable(path)
		} else {
			a.census.ReleaseReadonly(path)
		}
		return 0, err
	}

	role := handle.Readonly
	if writable {
		role = handle.WritableExisting
	}
	return a.registerHandle(&handle.OpenHandle{Path: path, Role: role, Staged: staged, RemoteHash: hash}), nil
}

// Create admits a new writable handle backed by a fresh, empty staging
// file; the remote entity does not exist until Release uploads it.
func (a *Adapter) Create(path string) (uint64, error) {
	if err := a.census.TryOpenWritable(path); err != nil {
		return 0, err
	}

	staged, err := a.tree.TmpOpen()
	if err != nil {
		a.census.ReleaseWritable(path)
		return 0, err
	}
	return a.registerHandle(&handle.OpenHandle{Path: path, Role: handle.LocalNew, Staged: staged}), nil
}

func (a *Adapter) registerHandle(h *handle.OpenHandle) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextHandle
	a.nextHandle++
	a.handles[id] = h
	return id
}

// Read reads from an open handle's staged content. ReadAt returns io.EOF
// whenever it fills less than len(buf), which is the normal case for a
// kernel page-sized read against a short file — that's a short read, not
// a failure, so it's swallowed here rather than propagated to an errno.
func (a *Adapter) Read(id uint64, buf []byte, off int64) (int, error) {
	h, err := a.lookupHandle(id)
	if err != nil {
		return 0, err
	}
	n, err := h.Staged.ReadAt(buf, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write writes to an open handle's staged content.
func (a *Adapter) Write(id uint64, buf []byte, off int64) (int, error) {
	h, err := a.lookupHandle(id)
	if err != nil {
		return 0, err
	}
	return h.Staged.WriteAt(buf, off)
}

func (a *Adapter) lookupHandle(id uint64) (*handle.OpenHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[id]
	if !ok {
		return nil, fserrors.New(fserrors.Internal, "unknown handle").WithComponent("vfs").WithDetail("handle", id)
	}
	return h, nil
}

// Release finalizes a handle per its role (§4.2 "Release semantics"). The
// multiset entry is always decremented and the staged file always closed,
// even when the upload itself fails, so a failed release never leaves the
// path permanently locked.
//
// The staged content is read for upload before the descriptor is closed —
// read-then-close, not close-then-read as a literal parse of the release
// steps might suggest, since reading an already-closed, already-unlinked
// staging file cannot succeed.
func (a *Adapter) Release(ctx context.Context, id uint64) error {
	a.mu.Lock()
	h, ok := a.handles[id]
	if ok {
		delete(a.handles, id)
	}
	a.mu.Unlock()
	if !ok {
		a.log.Error("release called on unknown handle", "handle", id)
		panic("vfs: release of unregistered handle")
	}

	var releaseErr error
	switch h.Role {
	case handle.Readonly:
		a.census.ReleaseReadonly(h.Path)
	case handle.WritableExisting:
		releaseErr = a.tree.UploadPatch(ctx, h.Path, h.Staged, h.RemoteHash)
		a.census.ReleaseWritable(h.Path)
		a.tree.ApplyPending(h.Path)
	case handle.LocalNew:
		releaseErr = a.tree.UploadNew(ctx, h.Path, h.Staged)
		a.census.ReleaseWritable(h.Path)
		a.tree.ApplyPending(h.Path)
	}

	if cerr := h.Staged.Close(); cerr != nil && releaseErr == nil {
		releaseErr = fserrors.New(fserrors.Internal, "close staged file").WithComponent("vfs").WithCause(cerr)
	}
	return releaseErr
}

// Destroy persists the catalog to path. A failure here is logged but must
// not block shutdown, per §4.4's store contract.
func (a *Adapter) Destroy(path string) {
	if err := a.tree.SaveToFile(path); err != nil {
		a.log.Error("failed to persist catalog on shutdown", "path", path, "error", err)
	}
}

// HandleCount reports the number of currently open handles, for periodic
// metrics reporting.
func (a *Adapter) HandleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// Errno maps err to the syscall.Errno the host bridge should return,
// per §7's propagation table. CORRUPT_IO and any unmapped internal error
// become EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var fsErr *fserrors.FSError
	if errors.As(err, &fsErr) {
		return fsErr.Code.Errno()
	}
	return syscall.EIO
}
