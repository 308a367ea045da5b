//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/mediafire/mfsfs/internal/vfs"
)

// PlatformFileSystem is the mount-manager surface common to both FUSE
// backends, letting cmd/mfsmount stay build-tag agnostic.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager builds the go-fuse-backed mount manager.
func CreatePlatformMountManager(adapter *vfs.Adapter, config *MountConfig) PlatformFileSystem {
	fuseConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    config.Options.ReadOnly,
		DefaultUID:  config.Permissions.UID,
		DefaultGID:  config.Permissions.GID,
		DefaultMode: config.Permissions.FileMode,
		CacheTTL:    60 * time.Second,
	}

	filesystem := NewFileSystem(adapter, fuseConfig)
	return NewMountManager(filesystem, config)
}
