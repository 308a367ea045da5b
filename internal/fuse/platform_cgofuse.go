//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

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

// CreatePlatformMountManager builds the cgofuse-backed mount manager.
func CreatePlatformMountManager(adapter *vfs.Adapter, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(adapter, config)
}
