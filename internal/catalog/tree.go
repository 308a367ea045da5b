package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/mediafire/mfsfs/internal/handle"
	"github.com/mediafire/mfsfs/internal/remote"
	fserrors "github.com/mediafire/mfsfs/pkg/errors"
	"github.com/mediafire/mfsfs/pkg/retry"
)

// Stat is the stat-shaped record FolderTree.Getattr fills: enough for the
// VFS adapter to answer a kernel getattr without consulting the catalog
// again.
type Stat struct {
	Kind    Kind
	Size    int64
	Mode    uint32
	Nlink   uint32
	ModTime time.Time
	Uid     uint32
	Gid     uint32
}

const (
	modeDir  = 0040000 | 0755
	modeFile = 0100000 | 0644
)

// DirEntry is one emitted record from Readdir.
type DirEntry struct {
	Name string
	Kind Kind
}

// pendingChange is a journal record buffered because its path was held
// open at the time update() observed it; applied once the path's last
// handle releases (Open Question decision #2).
type pendingChange struct {
	path   string
	change remote.Change
}

// TreeConfig wires a FolderTree to its collaborators. HeldOpen and
// WritableOpen let FolderTree query path state without owning the census
// itself — internal/vfs owns the actual OpenCensus and supplies these as
// closures over it.
type TreeConfig struct {
	Staging          *handle.StagingStore
	Retryer          *retry.Retryer
	DebounceInterval time.Duration
	Uid              uint32
	Gid              uint32
	HeldOpen         func(path string) bool
	WritableOpen     func(path string) bool
	Logger           *slog.Logger
	LockObserver     func(held time.Duration) // observability hook only, never part of the locking protocol
}

// FolderTree is the authoritative in-memory projection of the remote
// namespace and the gateway for every catalog mutation.
type FolderTree struct {
	mu sync.RWMutex

	st  *store
	rc  remote.Client
	log *slog.Logger

	accountID      string
	deviceRevision int64
	lastUpdate     time.Time
	debounce       time.Duration

	staging      *handle.StagingStore
	retryer      *retry.Retryer
	uid, gid     uint32
	heldOpen     func(string) bool
	writableOpen func(string) bool
	lockObserver func(time.Duration)

	pendingMu sync.Mutex
	pending   map[string]pendingChange // keyed by path
}

// NewFolderTree constructs a FolderTree over an empty catalog. Call
// Bootstrap or Load before serving traffic.
func NewFolderTree(rc remote.Client, cfg TreeConfig) *FolderTree {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceInterval
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &FolderTree{
		st:           newStore(),
		rc:           rc,
		log:          logger,
		staging:      cfg.Staging,
		retryer:      cfg.Retryer,
		debounce:     debounce,
		uid:          cfg.Uid,
		gid:          cfg.Gid,
		heldOpen:     cfg.HeldOpen,
		writableOpen: cfg.WritableOpen,
		lockObserver: cfg.LockObserver,
		pending:      make(map[string]pendingChange),
	}
}

// Bootstrap performs a full remote enumeration, used at startup when no
// usable persisted catalog is available (scenario 6: account-id mismatch)
// or none exists yet.
func (t *FolderTree) Bootstrap(ctx context.Context) error {
	accountID, err := t.rc.AccountID(ctx)
	if err != nil {
		return fserrors.New(fserrors.Transient, "fetch account id").WithComponent("catalog").WithCause(err)
	}

	fresh := newStore()
	queue := []string{RootKey}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		folders, files, err := t.rc.FolderGetContent(ctx, key)
		if err != nil {
			return fserrors.New(fserrors.Transient, "enumerate remote namespace").
				WithComponent("catalog").WithOperation("bootstrap").WithCause(err)
		}
		for _, f := range folders {
			fresh.addFolder(&Folder{
				Key: f.Key, Name: f.Name, ParentKey: key, Revision: f.Revision,
				CreatedAt: time.Now(), ModifiedAt: time.Now(),
			})
			queue = append(queue, f.Key)
		}
		for _, f := range files {
			fresh.addFile(&FileEntry{
				Key: f.Key, Name: f.Name, Hash: f.Hash, Size: f.Size,
				ParentKey: key, Revision: f.Revision, ModifiedAt: time.Now(),
			})
		}
	}

	journal, err := t.rc.DeviceChanges(ctx, 0)
	if err != nil {
		return fserrors.New(fserrors.Transient, "capture baseline revision").WithComponent("catalog").WithCause(err)
	}

	t.mu.Lock()
	t.accountID = accountID
	t.st = fresh
	t.deviceRevision = journal.NewRevision
	t.lastUpdate = time.Now()
	t.mu.Unlock()
	return nil
}

// Update pulls the remote change journal since the last known revision and
// applies each record. If force is false, a call inside the debounce
// window is a no-op.
func (t *FolderTree) Update(ctx context.Context, force bool) error {
	t.mu.RLock()
	due := force || time.Since(t.lastUpdate) >= t.debounce
	since := t.deviceRevision
	t.mu.RUnlock()
	if !due {
		return nil
	}

	var journal *remote.Journal
	fetch := func(ctx context.Context) error {
		j, err := t.rc.DeviceChanges(ctx, since)
		if err != nil {
			return err
		}
		journal = j
		return nil
	}

	var err error
	if t.retryer != nil {
		err = t.retryer.DoWithContext(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return fserrors.New(fserrors.Transient, "fetch device changes").
			WithComponent("catalog").WithOperation("update").WithCause(err)
	}

	for _, ch := range journal.Changes {
		if ch.ResetNeeded {
			t.log.Warn("device journal signaled reset, rebootstrapping catalog")
			return t.Bootstrap(ctx)
		}
	}

	lockedAt := time.Now()
	t.mu.Lock()
	for _, ch := range journal.Changes {
		t.applyChangeLocked(ch)
	}
	t.deviceRevision = journal.NewRevision
	t.lastUpdate = time.Now()
	t.mu.Unlock()
	if t.lockObserver != nil {
		t.lockObserver(time.Since(lockedAt))
	}
	return nil
}

// applyChangeLocked applies one journal record, honoring the held-open
// deferral for file changes and dropping records that are no newer than
// the entity's locally held revision (idempotent replay).
func (t *FolderTree) applyChangeLocked(ch remote.Change) {
	switch ch.Type {
	case remote.ChangeFolderCreated, remote.ChangeFolderUpdated:
		t.upsertFolderLocked(ch)
	case remote.ChangeFolderDeleted:
		t.st.removeFolder(ch.Key)
	case remote.ChangeFileCreated, remote.ChangeFileUpdated:
		if t.bufferIfHeldOpenLocked(ch) {
			return
		}
		t.upsertFileLocked(ch)
	case remote.ChangeFileDeleted:
		if t.bufferIfHeldOpenLocked(ch) {
			return
		}
		t.st.removeFile(ch.Key)
	}
	if invalidator, ok := t.rc.(interface{ InvalidateContentCache(string) }); ok {
		invalidator.InvalidateContentCache(ch.ParentKey)
	}
}

// bufferIfHeldOpenLocked defers a file-affecting change if the entity's
// current path has an open handle (§4.2 point 4 / Open Question decision
// #2), returning true if it was deferred.
func (t *FolderTree) bufferIfHeldOpenLocked(ch remote.Change) bool {
	if t.heldOpen == nil {
		return false
	}
	existing, ok := t.st.files[ch.Key]
	if !ok {
		return false
	}
	p := t.st.pathOf(existing.ParentKey)
	if p != "/" {
		p += "/"
	}
	p += existing.Name

	if !t.heldOpen(p) {
		return false
	}
	t.pendingMu.Lock()
	t.pending[p] = pendingChange{path: p, change: ch}
	t.pendingMu.Unlock()
	return true
}

// ApplyPending applies a previously buffered change for path, if any. The
// VFS adapter calls this from OpenHandle.Release once the path's handle
// count has dropped to zero.
func (t *FolderTree) ApplyPending(path string) {
	t.pendingMu.Lock()
	pc, ok := t.pending[path]
	if ok {
		delete(t.pending, path)
	}
	t.pendingMu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	switch pc.change.Type {
	case remote.ChangeFileDeleted:
		t.st.removeFile(pc.change.Key)
	case remote.ChangeFileCreated, remote.ChangeFileUpdated:
		t.upsertFileLocked(pc.change)
	}
	t.mu.Unlock()
}

func (t *FolderTree) upsertFolderLocked(ch remote.Change) {
	existing, ok := t.st.folders[ch.Key]
	if ok && ch.Revision <= existing.Revision {
		return
	}
	if !ok {
		t.st.addFolder(&Folder{
			Key: ch.Key, Name: ch.Name, ParentKey: ch.ParentKey, Revision: ch.Revision,
			CreatedAt: time.Now(), ModifiedAt: time.Now(),
		})
		return
	}
	existing.Name = ch.Name
	existing.Revision = ch.Revision
	existing.ModifiedAt = time.Now()
	t.reparentFolderLocked(existing, ch.ParentKey)
}

func (t *FolderTree) reparentFolderLocked(f *Folder, newParentKey string) {
	if f.ParentKey == newParentKey {
		return
	}
	if oldParent, ok := t.st.folders[f.ParentKey]; ok {
		oldParent.ChildFolderKeys = removeKey(oldParent.ChildFolderKeys, f.Key)
	}
	f.ParentKey = newParentKey
	if newParent, ok := t.st.folders[newParentKey]; ok {
		newParent.ChildFolderKeys = appendUnique(newParent.ChildFolderKeys, f.Key)
	}
}

func (t *FolderTree) upsertFileLocked(ch remote.Change) {
	existing, ok := t.st.files[ch.Key]
	if ok && ch.Revision <= existing.Revision {
		return
	}
	if !ok {
		t.st.addFile(&FileEntry{
			Key: ch.Key, Name: ch.Name, Hash: ch.Hash, Size: ch.Size,
			ParentKey: ch.ParentKey, Revision: ch.Revision, ModifiedAt: time.Now(),
		})
		return
	}
	existing.Name = ch.Name
	existing.Hash = ch.Hash
	existing.Size = ch.Size
	existing.Revision = ch.Revision
	existing.ModifiedAt = time.Now()
	if existing.ParentKey != ch.ParentKey {
		if oldParent, ok := t.st.folders[existing.ParentKey]; ok {
			oldParent.ChildFileKeys = removeKey(oldParent.ChildFileKeys, ch.Key)
		}
		existing.ParentKey = ch.ParentKey
		if newParent, ok := t.st.folders[ch.ParentKey]; ok {
			newParent.ChildFileKeys = appendUnique(newParent.ChildFileKeys, ch.Key)
		}
	}
}

// LastUpdate reports when the journal was last successfully applied.
func (t *FolderTree) LastUpdate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}

// Getattr fills a stat-shaped record for path, or synthesizes one for a
// LOCAL_NEW staged create not yet reflected in the catalog.
func (t *FolderTree) Getattr(path string) (Stat, error) {
	t.mu.RLock()
	kind, key, ok := t.st.resolve(path)
	if ok {
		switch kind {
		case KindFolder:
			f := t.st.folders[key]
			t.mu.RUnlock()
			return Stat{Kind: KindFolder, Mode: modeDir, Nlink: 1, ModTime: f.ModifiedAt, Uid: t.uid, Gid: t.gid}, nil
		case KindFile:
			f := t.st.files[key]
			t.mu.RUnlock()
			return Stat{Kind: KindFile, Size: f.Size, Mode: modeFile, Nlink: 1, ModTime: f.ModifiedAt, Uid: t.uid, Gid: t.gid}, nil
		}
	}
	t.mu.RUnlock()

	if t.writableOpen != nil && t.writableOpen(path) {
		return Stat{Kind: KindFile, Size: 0, Mode: modeFile, Nlink: 1, ModTime: time.Now(), Uid: t.uid, Gid: t.gid}, nil
	}
	return Stat{}, fserrors.New(fserrors.NotFound, "path does not resolve").
		WithComponent("catalog").WithOperation("getattr").WithDetail("path", path)
}

// Readdir enumerates ".", "..", then each child folder then each child
// file of the directory at path.
func (t *FolderTree) Readdir(dirPath string) ([]DirEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	kind, key, ok := t.st.resolve(dirPath)
	if !ok || kind != KindFolder {
		return nil, fserrors.New(fserrors.NotFound, "not a directory").
			WithComponent("catalog").WithOperation("readdir").WithDetail("path", dirPath)
	}
	folder := t.st.folders[key]

	entries := []DirEntry{{Name: ".", Kind: KindFolder}, {Name: "..", Kind: KindFolder}}

	var folderNames, fileNames []string
	for _, ck := range folder.ChildFolderKeys {
		if child, ok := t.st.folders[ck]; ok {
			folderNames = append(folderNames, child.Name)
		}
	}
	for _, ck := range folder.ChildFileKeys {
		if child, ok := t.st.files[ck]; ok {
			fileNames = append(fileNames, child.Name)
		}
	}
	sort.Strings(folderNames)
	sort.Strings(fileNames)
	for _, n := range folderNames {
		entries = append(entries, DirEntry{Name: n, Kind: KindFolder})
	}
	for _, n := range fileNames {
		entries = append(entries, DirEntry{Name: n, Kind: KindFile})
	}
	return entries, nil
}

// PathGetKey resolves folder paths only.
func (t *FolderTree) PathGetKey(p string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kind, key, ok := t.st.resolve(p)
	if !ok || kind != KindFolder {
		return "", fserrors.New(fserrors.NotFound, "folder does not resolve").
			WithComponent("catalog").WithOperation("path_get_key").WithDetail("path", p)
	}
	return key, nil
}

// OpenFile materializes path's current remote content into a fresh staging
// file and returns it along with the hash recorded for elision checks at
// release. The caller (internal/vfs) is responsible for the
// may-refresh/reuse-existing-handle decision described in §4.1; FolderTree
// itself always performs a fresh fetch when called.
func (t *FolderTree) OpenFile(ctx context.Context, path string) (*handle.StagingFile, string, error) {
	t.mu.RLock()
	kind, key, ok := t.st.resolve(path)
	t.mu.RUnlock()
	if !ok || kind != KindFile {
		return nil, "", fserrors.New(fserrors.NotFound, "file does not resolve").
			WithComponent("catalog").WithOperation("open_file").WithDetail("path", path)
	}

	info, err := t.rc.FileGetInfo(ctx, key)
	if err != nil {
		return nil, "", fserrors.New(fserrors.AccessDenied, "remote refused file info").
			WithComponent("catalog").WithOperation("open_file").WithCause(err)
	}

	staged, err := t.staging.Create()
	if err != nil {
		return nil, "", err
	}
	if err := t.rc.Download(ctx, info.DirectLink, staged); err != nil {
		staged.Close()
		return nil, "", fserrors.New(fserrors.AccessDenied, "remote refused download").
			WithComponent("catalog").WithOperation("open_file").WithCause(err)
	}
	return staged, info.Hash, nil
}

// TmpOpen allocates a fresh empty staging file, used by create's LOCAL_NEW
// path.
func (t *FolderTree) TmpOpen() (*handle.StagingFile, error) {
	return t.staging.Create()
}

// UploadPatch uploads staged's content as a new revision of the existing
// file at path, skipping the upload entirely if the content is unchanged
// from cachedHash (Open Question decision #3).
func (t *FolderTree) UploadPatch(ctx context.Context, path string, staged *handle.StagingFile, cachedHash string) error {
	sum, err := hashStagingFile(staged)
	if err != nil {
		return fserrors.New(fserrors.CorruptIO, "hash staged content").WithComponent("catalog").WithCause(err)
	}
	if cachedHash != "" && sum == cachedHash {
		return nil
	}

	t.mu.RLock()
	kind, key, ok := t.st.resolve(path)
	t.mu.RUnlock()
	if !ok || kind != KindFile {
		return fserrors.New(fserrors.NotFound, "file does not resolve").
			WithComponent("catalog").WithOperation("upload_patch").WithDetail("path", path)
	}

	if err := staged.SeekStart(); err != nil {
		return fserrors.New(fserrors.Internal, "rewind staged content").WithComponent("catalog").WithCause(err)
	}
	uploadKey, err := t.rc.UploadPatch(ctx, key, staged.Reader())
	if err != nil {
		return fserrors.New(fserrors.Transient, "upload patch").WithComponent("catalog").WithCause(err)
	}
	if err := t.pollUpload(ctx, uploadKey); err != nil {
		return err
	}
	return t.Update(ctx, true)
}

// UploadNew uploads a LOCAL_NEW staged file to its resolved parent folder
// and, on completion, forces a catalog refresh so the new entry appears.
func (t *FolderTree) UploadNew(ctx context.Context, filePath string, staged *handle.StagingFile) error {
	parentPath := path.Dir(filePath)
	name := path.Base(filePath)

	parentKey, err := t.PathGetKey(parentPath)
	if err != nil {
		return err
	}

	if err := staged.SeekStart(); err != nil {
		return fserrors.New(fserrors.Internal, "rewind staged content").WithComponent("catalog").WithCause(err)
	}
	uploadKey, err := t.rc.UploadSimple(ctx, parentKey, staged.Reader(), name)
	if err != nil {
		return fserrors.New(fserrors.Transient, "upload simple").WithComponent("catalog").WithCause(err)
	}
	if err := t.pollUpload(ctx, uploadKey); err != nil {
		return err
	}
	return t.Update(ctx, true)
}

// pollUpload polls at roughly 1 Hz (the remote's compatibility
// constraint, per the Design Notes) until terminal success or error.
func (t *FolderTree) pollUpload(ctx context.Context, uploadKey string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		status, err := t.rc.UploadPoll(ctx, uploadKey)
		if err != nil {
			return fserrors.New(fserrors.Transient, "poll upload").WithComponent("catalog").WithCause(err)
		}
		if status.Code == remote.StatusComplete {
			return nil
		}
		if status.Error != "" {
			return fserrors.New(fserrors.AccessDenied, "upload failed: "+status.Error).WithComponent("catalog")
		}
		select {
		case <-ctx.Done():
			return fserrors.New(fserrors.Transient, "upload poll canceled").WithComponent("catalog").WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Mkdir resolves path's parent to a folder key and asks the remote to
// create a child folder, then forces a catalog refresh.
func (t *FolderTree) Mkdir(ctx context.Context, dirPath string) error {
	parentPath, name := path.Dir(dirPath), path.Base(dirPath)
	parentKey, err := t.PathGetKey(parentPath)
	if err != nil {
		return err
	}
	if err := t.rc.FolderCreate(ctx, parentKey, name); err != nil {
		return fserrors.New(fserrors.Transient, "create folder").WithComponent("catalog").WithOperation("mkdir").WithCause(err)
	}
	return t.Update(ctx, true)
}

// Rmdir resolves path to a folder key and asks the remote to delete it.
// Existence/emptiness/not-root preconditions are assumed already checked
// by the VFS bridge's preceding getattr/readdir.
func (t *FolderTree) Rmdir(ctx context.Context, dirPath string) error {
	key, err := t.PathGetKey(dirPath)
	if err != nil {
		return err
	}
	if err := t.rc.FolderDelete(ctx, key); err != nil {
		return fserrors.New(fserrors.Transient, "delete folder").WithComponent("catalog").WithOperation("rmdir").WithCause(err)
	}
	return t.Update(ctx, true)
}

// Unlink resolves path to a file key and asks the remote to delete it.
func (t *FolderTree) Unlink(ctx context.Context, filePath string) error {
	t.mu.RLock()
	kind, key, ok := t.st.resolve(filePath)
	t.mu.RUnlock()
	if !ok || kind != KindFile {
		return fserrors.New(fserrors.NotFound, "file does not resolve").
			WithComponent("catalog").WithOperation("unlink").WithDetail("path", filePath)
	}
	if err := t.rc.FileDelete(ctx, key); err != nil {
		return fserrors.New(fserrors.Transient, "delete file").WithComponent("catalog").WithOperation("unlink").WithCause(err)
	}
	return t.Update(ctx, true)
}

// AccountID returns the account identity the catalog was bootstrapped
// against, used by persistence to detect a stale cache (scenario 6).
func (t *FolderTree) AccountID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accountID
}

func hashStagingFile(s *handle.StagingFile) (string, error) {
	if err := s.SeekStart(); err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, s.Reader()); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
