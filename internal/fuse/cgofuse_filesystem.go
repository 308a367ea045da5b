//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/mediafire/mfsfs/internal/catalog"
	"github.com/mediafire/mfsfs/internal/vfs"
)

// CgoFuseFS is the cgofuse host bridge: the same Adapter as the go-fuse
// build, exposed through cgofuse's stateless, path-argument-per-call API
// instead of go-fuse's inode tree.
type CgoFuseFS struct {
	fuse.FileSystemBase

	adapter *vfs.Adapter
	config  *Config
	log     *slog.Logger

	mu      sync.RWMutex
	host    *fuse.FileSystemHost
	mounted bool

	stats *Stats
}

// NewCgoFuseFS builds a cgofuse host bridge in front of adapter.
func NewCgoFuseFS(adapter *vfs.Adapter, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		adapter: adapter,
		config:  config,
		log:     slog.Default(),
		stats:   &Stats{},
	}
}

// Mount mounts the filesystem at config.MountPoint.
func (f *CgoFuseFS) Mount(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	f.host = fuse.NewFileSystemHost(f)

	options := []string{
		"-o", "fsname=mfsfs",
		"-o", "subtype=mediafire",
		"-o", "allow_other",
	}
	switch {
	case strings.Contains(os.Getenv("GOOS"), "darwin"):
		options = append(options, "-o", "volname=MediaFire")
	case strings.Contains(os.Getenv("GOOS"), "windows"):
		options = append(options, "-o", "FileSystemName=MediaFire")
	}

	go func() {
		ret := f.host.Mount(f.config.MountPoint, options)
		if ret != 0 {
			f.log.Error("mount returned nonzero", "code", ret)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	f.mounted = true
	f.log.Info("mounted", "path", f.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (f *CgoFuseFS) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if f.host != nil {
		if ret := f.host.Unmount(); ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}
	f.mounted = false
	f.log.Info("unmounted", "path", f.config.MountPoint)
	return nil
}

// IsMounted reports whether Mount has succeeded without a matching Unmount.
func (f *CgoFuseFS) IsMounted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mounted
}

func cgoErrno(err error) int {
	if err == nil {
		return 0
	}
	return -int(vfs.Errno(err))
}

// Getattr fills stat for path.
func (f *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	defer f.recordOperation("getattr", time.Now())

	s, err := f.adapter.Getattr(context.Background(), path)
	if err != nil {
		return cgoErrno(err)
	}
	fillStat(stat, s)
	return 0
}

// Opendir verifies path resolves to a folder.
func (f *CgoFuseFS) Opendir(path string) (int, uint64) {
	s, err := f.adapter.Getattr(context.Background(), path)
	if err != nil {
		return cgoErrno(err), 0
	}
	if s.Kind != catalog.KindFolder {
		return -int(fuse.ENOTDIR), 0
	}
	return 0, 0
}

// Readdir lists path's contents.
func (f *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	defer f.recordOperation("readdir", time.Now())

	fill(".", nil, 0)
	fill("..", nil, 0)

	entries, err := f.adapter.Readdir(path)
	if err != nil {
		return cgoErrno(err)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if !fill(e.Name, nil, 0) {
			break
		}
	}
	return 0
}

// Mkdir creates a folder.
func (f *CgoFuseFS) Mkdir(path string, mode uint32) int {
	if f.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	return cgoErrno(f.adapter.Mkdir(context.Background(), path))
}

// Rmdir removes an empty folder.
func (f *CgoFuseFS) Rmdir(path string) int {
	if f.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	return cgoErrno(f.adapter.Rmdir(context.Background(), path))
}

// Unlink removes a file.
func (f *CgoFuseFS) Unlink(path string) int {
	if f.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	return cgoErrno(f.adapter.Unlink(context.Background(), path))
}

// Create admits a new writable handle for a not-yet-existing file.
func (f *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	if f.config.ReadOnly {
		return -int(fuse.EROFS), 0
	}
	defer f.recordOperation("create", time.Now())

	id, err := f.adapter.Create(path)
	if err != nil {
		return cgoErrno(err), 0
	}
	return 0, id
}

// Open admits a handle on an existing file.
func (f *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	defer f.recordOperation("open", time.Now())

	writable := flags&(os.O_WRONLY|os.O_RDWR) != 0
	if f.config.ReadOnly && writable {
		return -int(fuse.EROFS), 0
	}

	id, err := f.adapter.Open(context.Background(), path, writable)
	if err != nil {
		return cgoErrno(err), 0
	}
	return 0, id
}

// Read reads from the handle fh.
func (f *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	defer f.recordOperation("read", time.Now())

	n, err := f.adapter.Read(fh, buff, ofst)
	if err != nil {
		return cgoErrno(err)
	}
	return n
}

// Write writes to the handle fh.
func (f *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	if f.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	defer f.recordOperation("write", time.Now())

	n, err := f.adapter.Write(fh, buff, ofst)
	if err != nil {
		return cgoErrno(err)
	}
	return n
}

// Release finalizes the handle.
func (f *CgoFuseFS) Release(path string, fh uint64) int {
	defer f.recordOperation("release", time.Now())
	return cgoErrno(f.adapter.Release(context.Background(), fh))
}

func fillStat(stat *fuse.Stat_t, s catalog.Stat) {
	stat.Mode = s.Mode
	stat.Size = s.Size
	stat.Nlink = 1
	stat.Uid = s.Uid
	stat.Gid = s.Gid
	stat.Mtim.Sec = s.ModTime.Unix()
	stat.Atim.Sec = s.ModTime.Unix()
	stat.Ctim.Sec = s.ModTime.Unix()
}

func (f *CgoFuseFS) recordOperation(op string, start time.Time) {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	switch op {
	case "open":
		f.stats.Opens++
	case "read":
		f.stats.Reads++
	case "write":
		f.stats.Writes++
	case "create":
		f.stats.Creates++
	}
}

// GetStats returns a snapshot of the operation counters.
func (f *CgoFuseFS) GetStats() *Stats {
	f.stats.mu.RLock()
	defer f.stats.mu.RUnlock()
	return &Stats{
		Opens:   f.stats.Opens,
		Reads:   f.stats.Reads,
		Writes:  f.stats.Writes,
		Creates: f.stats.Creates,
		Errors:  f.stats.Errors,
	}
}
