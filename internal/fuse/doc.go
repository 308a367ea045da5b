/*
Package fuse provides the cross-platform FUSE host bridge for mounting a
MediaFire account as a local filesystem.

It implements two interchangeable backends selected by build tag:

  - default build: github.com/hanwen/go-fuse/v2, the inode-tree API, primary
    target Linux.
  - "cgofuse" build: github.com/winfsp/cgofuse, the stateless path-argument
    API, primary target macOS and Windows.

Neither backend owns any domain logic. Both are thin POSIX-operation
translators in front of internal/vfs.Adapter, which in turn sits on
internal/catalog.FolderTree (the in-memory namespace projection) and
internal/handle.OpenCensus (the open-file exclusion gate). All catalog
state, remote calls, and upload lifecycle management live in those
packages; this one only shapes requests and responses to what the kernel
FUSE driver expects and maps *pkg/errors.FSError to syscall.Errno via
vfs.Errno.

Because every file is staged whole to local disk before it is readable or
writable (see internal/handle.StagingFile), this bridge does no byte-range
caching, read-ahead, or write coalescing — those concerns do not apply to
a whole-file staging model.
*/
package fuse
