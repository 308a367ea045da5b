package fuse

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mediafire/mfsfs/internal/catalog"
	"github.com/mediafire/mfsfs/internal/vfs"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// FileSystem is the go-fuse v2 host bridge: it owns no domain state of its
// own, only an Adapter and the operation counters exposed at GetStats.
type FileSystem struct {
	fs.Inode

	adapter *vfs.Adapter
	config  *Config
	log     *slog.Logger

	stats *Stats
}

// Config carries mount-time FUSE options.
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	DirectIO  bool   `yaml:"direct_io"`
	KeepCache bool   `yaml:"keep_cache"`
	BigWrites bool   `yaml:"big_writes"`
	MaxRead   uint32 `yaml:"max_read"`
	MaxWrite  uint32 `yaml:"max_write"`

	DefaultUID  uint32        `yaml:"default_uid"`
	DefaultGID  uint32        `yaml:"default_gid"`
	DefaultMode uint32        `yaml:"default_mode"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Stats tracks filesystem operation counters, read back through the mount
// manager's GetStats; they are not exported to internal/metrics.
type Stats struct {
	mu sync.RWMutex

	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	Errors int64 `json:"errors"`

	AvgReadTime   time.Duration `json:"avg_read_time"`
	AvgWriteTime  time.Duration `json:"avg_write_time"`
	AvgLookupTime time.Duration `json:"avg_lookup_time"`
}

// NewFileSystem builds a go-fuse host bridge in front of adapter.
func NewFileSystem(adapter *vfs.Adapter, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID:  1000,
			DefaultGID:  1000,
			DefaultMode: 0644,
			CacheTTL:    5 * time.Minute,
		}
	}

	return &FileSystem{
		adapter: adapter,
		config:  config,
		log:     slog.Default(),
		stats:   &Stats{},
	}
}

// Root returns the root inode.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fsys: fsys, path: "/"}
}

// GetStats returns a snapshot of the operation counters.
func (fsys *FileSystem) GetStats() *Stats {
	fsys.stats.mu.RLock()
	defer fsys.stats.mu.RUnlock()

	return &Stats{
		Lookups:      fsys.stats.Lookups,
		Opens:        fsys.stats.Opens,
		Reads:        fsys.stats.Reads,
		Writes:       fsys.stats.Writes,
		Creates:      fsys.stats.Creates,
		Deletes:      fsys.stats.Deletes,
		BytesRead:    fsys.stats.BytesRead,
		BytesWritten: fsys.stats.BytesWritten,
		Errors:       fsys.stats.Errors,
	}
}

// DirectoryNode represents a folder.
type DirectoryNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

func (n *DirectoryNode) joinPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return filepath.Join(n.path, name)
}

// Lookup resolves a child by name via the catalog's Getattr.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	defer func() { n.fsys.recordLookupTime(time.Since(start)) }()

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Lookups++
	n.fsys.stats.mu.Unlock()

	childPath := n.joinPath(name)
	stat, err := n.fsys.adapter.Getattr(ctx, childPath)
	if err != nil {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.Errors++
		n.fsys.stats.mu.Unlock()
		return nil, vfs.Errno(err)
	}

	n.fillEntryOut(stat, out)
	if stat.Kind == catalog.KindFolder {
		return n.createDirectoryNode(name, childPath), 0
	}
	return n.createFileNode(childPath, stat), 0
}

// Readdir lists the folder's children.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fsys.adapter.Readdir(n.path)
	if err != nil {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.Errors++
		n.fsys.stats.mu.Unlock()
		n.fsys.log.Error("readdir failed", "path", n.path, "error", err)
		return nil, vfs.Errno(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		if e.Kind == catalog.KindFolder {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

// Mkdir creates a new folder.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := n.joinPath(name)
	if err := n.fsys.adapter.Mkdir(ctx, childPath); err != nil {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.Errors++
		n.fsys.stats.mu.Unlock()
		n.fsys.log.Error("mkdir failed", "path", childPath, "error", err)
		return nil, vfs.Errno(err)
	}

	return n.createDirectoryNode(name, childPath), 0
}

// Rmdir removes an empty folder.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	childPath := n.joinPath(name)
	if err := n.fsys.adapter.Rmdir(ctx, childPath); err != nil {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.Errors++
		n.fsys.stats.mu.Unlock()
		return vfs.Errno(err)
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Deletes++
	n.fsys.stats.mu.Unlock()
	return 0
}

// Unlink removes a file.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	childPath := n.joinPath(name)
	if err := n.fsys.adapter.Unlink(ctx, childPath); err != nil {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.Errors++
		n.fsys.stats.mu.Unlock()
		return vfs.Errno(err)
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Deletes++
	n.fsys.stats.mu.Unlock()
	return 0
}

// Create admits a brand-new, not-yet-uploaded file.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := n.joinPath(name)
	handleID, err := n.fsys.adapter.Create(childPath)
	if err != nil {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.Errors++
		n.fsys.stats.mu.Unlock()
		return nil, nil, 0, vfs.Errno(err)
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Creates++
	n.fsys.stats.mu.Unlock()

	fileNode := &FileNode{fsys: n.fsys, path: childPath}
	node = n.NewInode(ctx, fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
	return node, &FileHandle{fsys: n.fsys, path: childPath, id: handleID}, 0, 0
}

func (n *DirectoryNode) createDirectoryNode(name, path string) *fs.Inode {
	dirNode := &DirectoryNode{fsys: n.fsys, path: path}
	return n.NewInode(context.Background(), dirNode, fs.StableAttr{Mode: fuse.S_IFDIR})
}

func (n *DirectoryNode) createFileNode(path string, stat catalog.Stat) *fs.Inode {
	fileNode := &FileNode{fsys: n.fsys, path: path}
	return n.NewInode(context.Background(), fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
}

func (n *DirectoryNode) fillEntryOut(stat catalog.Stat, out *fuse.EntryOut) {
	out.Mode = stat.Mode
	out.Size = safeInt64ToUint64(stat.Size)
	out.Uid = stat.Uid
	out.Gid = stat.Gid
	ts := safeInt64ToUint64(stat.ModTime.Unix())
	out.Mtime, out.Atime, out.Ctime = ts, ts, ts
}

// FileNode represents a file.
type FileNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

// Open admits a read or read-write handle on an existing file.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f.fsys.stats.mu.Lock()
	f.fsys.stats.Opens++
	f.fsys.stats.mu.Unlock()

	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	if f.fsys.config.ReadOnly && writable {
		return nil, 0, syscall.EROFS
	}

	id, err := f.fsys.adapter.Open(ctx, f.path, writable)
	if err != nil {
		f.fsys.stats.mu.Lock()
		f.fsys.stats.Errors++
		f.fsys.stats.mu.Unlock()
		return nil, 0, vfs.Errno(err)
	}

	return &FileHandle{fsys: f.fsys, path: f.path, id: id}, 0, 0
}

// Getattr fills stat attributes from the catalog.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	stat, err := f.fsys.adapter.Getattr(ctx, f.path)
	if err != nil {
		return vfs.Errno(err)
	}

	out.Mode = stat.Mode
	out.Size = safeInt64ToUint64(stat.Size)
	out.Uid = stat.Uid
	out.Gid = stat.Gid
	ts := safeInt64ToUint64(stat.ModTime.Unix())
	out.Mtime, out.Atime, out.Ctime = ts, ts, ts
	return 0
}

// FileHandle is an open handle tracked in internal/vfs, identified by id.
type FileHandle struct {
	fsys *FileSystem
	path string
	id   uint64
}

// Read serves a read at offset off.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	defer func() { fh.fsys.recordReadTime(time.Since(start)) }()

	fh.fsys.stats.mu.Lock()
	fh.fsys.stats.Reads++
	fh.fsys.stats.mu.Unlock()

	n, err := fh.fsys.adapter.Read(fh.id, dest, off)
	if err != nil {
		fh.fsys.stats.mu.Lock()
		fh.fsys.stats.Errors++
		fh.fsys.stats.mu.Unlock()
		fh.fsys.log.Error("read failed", "path", fh.path, "offset", off, "error", err)
		return nil, vfs.Errno(err)
	}

	fh.fsys.stats.mu.Lock()
	fh.fsys.stats.BytesRead += int64(n)
	fh.fsys.stats.mu.Unlock()

	return fuse.ReadResultData(dest[:n]), 0
}

// Write stages a write at offset off.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if fh.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}

	start := time.Now()
	defer func() { fh.fsys.recordWriteTime(time.Since(start)) }()

	fh.fsys.stats.mu.Lock()
	fh.fsys.stats.Writes++
	fh.fsys.stats.mu.Unlock()

	n, err := fh.fsys.adapter.Write(fh.id, data, off)
	if err != nil {
		fh.fsys.stats.mu.Lock()
		fh.fsys.stats.Errors++
		fh.fsys.stats.mu.Unlock()
		fh.fsys.log.Error("write failed", "path", fh.path, "offset", off, "error", err)
		return 0, vfs.Errno(err)
	}

	fh.fsys.stats.mu.Lock()
	fh.fsys.stats.BytesWritten += int64(n)
	fh.fsys.stats.mu.Unlock()

	return safeIntToUint32(n), 0
}

// Flush is a no-op: writes already land synchronously in the staged file,
// and the remote upload only happens at Release.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release finalizes the handle — patching or creating the remote file as
// the handle's role dictates.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	if err := fh.fsys.adapter.Release(ctx, fh.id); err != nil {
		fh.fsys.stats.mu.Lock()
		fh.fsys.stats.Errors++
		fh.fsys.stats.mu.Unlock()
		fh.fsys.log.Error("release failed", "path", fh.path, "error", err)
		return vfs.Errno(err)
	}
	return 0
}

func (fsys *FileSystem) recordLookupTime(d time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()
	fsys.stats.AvgLookupTime = ewmaDuration(fsys.stats.AvgLookupTime, d, fsys.stats.Lookups)
}

func (fsys *FileSystem) recordReadTime(d time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()
	fsys.stats.AvgReadTime = ewmaDuration(fsys.stats.AvgReadTime, d, fsys.stats.Reads)
}

func (fsys *FileSystem) recordWriteTime(d time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()
	fsys.stats.AvgWriteTime = ewmaDuration(fsys.stats.AvgWriteTime, d, fsys.stats.Writes)
}

// ewmaDuration folds d into avg with a 0.1 weight, seeding avg directly on
// the first sample (count == 1).
func ewmaDuration(avg, d time.Duration, count int64) time.Duration {
	if count <= 1 {
		return d
	}
	return time.Duration((int64(avg)*9 + int64(d)) / 10)
}
