//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/mediafire/mfsfs/internal/vfs"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
}

// NewCgoFuseMountManager builds a cgofuse mount manager in front of adapter.
func NewCgoFuseMountManager(adapter *vfs.Adapter, config *MountConfig) *CgoFuseMountManager {
	fuseConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    config.Options.ReadOnly,
		DefaultUID:  config.Permissions.UID,
		DefaultGID:  config.Permissions.GID,
		DefaultMode: config.Permissions.FileMode,
	}

	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(adapter, fuseConfig),
		config:     config,
	}
}

// Mount mounts the filesystem.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted returns whether the filesystem is mounted.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// GetStats returns filesystem statistics.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	s := m.filesystem.GetStats()
	return &FilesystemStats{
		Opens:   s.Opens,
		Reads:   s.Reads,
		Writes:  s.Writes,
		Errors:  s.Errors,
	}
}
