package catalog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	fserrors "github.com/mediafire/mfsfs/pkg/errors"
)

// persistMagic and persistVersion identify the dir-cache file format.
// Load rejects anything else outright, matching §6.3's "loaders MUST
// reject on version or identity mismatch" contract.
var persistMagic = [4]byte{'M', 'F', 'S', 'C'}

const persistVersion = byte(1)

// persistDoc is the JSON body written after the fixed header, snappy-
// compressed as a whole (adapted from the teacher's persistent cache,
// whose gzip-compressed index gives way here to snappy for a file that is
// written once at shutdown and read once at startup — faster round trips
// matter more than compression ratio).
type persistDoc struct {
	AccountID      string      `json:"account_id"`
	DeviceRevision int64       `json:"device_revision"`
	Folders        []*Folder   `json:"folders"`
	Files          []*FileEntry `json:"files"`
}

// Store serializes the catalog to w: a 4-byte magic, a 1-byte version, then
// a 4-byte little-endian length followed by that many snappy-compressed
// JSON bytes.
func (t *FolderTree) Store(w io.Writer) error {
	t.mu.RLock()
	doc := persistDoc{
		AccountID:      t.accountID,
		DeviceRevision: t.deviceRevision,
	}
	for _, f := range t.st.folders {
		doc.Folders = append(doc.Folders, f)
	}
	for _, f := range t.st.files {
		doc.Files = append(doc.Files, f)
	}
	t.mu.RUnlock()

	raw, err := json.Marshal(doc)
	if err != nil {
		return fserrors.New(fserrors.Internal, "marshal catalog").WithComponent("catalog").WithOperation("store").WithCause(err)
	}
	compressed := snappy.Encode(nil, raw)

	if _, err := w.Write(persistMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{persistVersion}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// Load deserializes a dir-cache file written by Store. It rejects any file
// whose magic, version, length or body is malformed (CORRUPT_IO) or whose
// account identity doesn't match liveAccountID (INVALID_ARG); either error
// tells the caller to fall back to a full remote bootstrap (scenario 6).
func (t *FolderTree) Load(r io.Reader, liveAccountID string) error {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fserrors.New(fserrors.CorruptIO, "read persistence header").WithComponent("catalog").WithCause(err)
	}
	if !bytes.Equal(header[:4], persistMagic[:]) {
		return fserrors.New(fserrors.CorruptIO, "persistence magic mismatch").WithComponent("catalog")
	}
	if header[4] != persistVersion {
		return fserrors.New(fserrors.CorruptIO, "persistence version mismatch").WithComponent("catalog")
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fserrors.New(fserrors.CorruptIO, "read persistence length").WithComponent("catalog").WithCause(err)
	}
	compressed := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, compressed); err != nil {
		return fserrors.New(fserrors.CorruptIO, "read persistence body").WithComponent("catalog").WithCause(err)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fserrors.New(fserrors.CorruptIO, "decompress persistence body").WithComponent("catalog").WithCause(err)
	}
	var doc persistDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fserrors.New(fserrors.CorruptIO, "unmarshal persistence body").WithComponent("catalog").WithCause(err)
	}
	if doc.AccountID != liveAccountID {
		return fserrors.New(fserrors.InvalidArg, "persisted account id does not match live account").
			WithComponent("catalog").WithOperation("load").
			WithDetail("persisted", doc.AccountID).WithDetail("live", liveAccountID)
	}

	fresh := newStore()
	for _, f := range doc.Folders {
		fresh.folders[f.Key] = f
	}
	for _, f := range doc.Files {
		fresh.files[f.Key] = f
	}

	t.mu.Lock()
	t.st = fresh
	t.accountID = doc.AccountID
	t.deviceRevision = doc.DeviceRevision
	t.mu.Unlock()
	return nil
}

// SaveToFile atomically writes the catalog to path: write to a sibling
// ".tmp" file, then rename over the target, so a crash mid-write never
// leaves a corrupt persistence file in place (adapted from the teacher's
// persistent-cache index save).
func (t *FolderTree) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	tmpPath := path + ".tmp"
	if !strings.HasPrefix(filepath.Clean(tmpPath), filepath.Clean(dir)) {
		return fserrors.New(fserrors.InvalidArg, "invalid persistence path").WithComponent("catalog").WithDetail("path", path)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return fserrors.New(fserrors.Internal, "create persistence tmp file").WithComponent("catalog").WithCause(err)
	}
	if err := t.Store(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fserrors.New(fserrors.Internal, "close persistence tmp file").WithComponent("catalog").WithCause(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fserrors.New(fserrors.Internal, "replace persistence file").WithComponent("catalog").WithCause(err)
	}
	return nil
}

// LoadFromFile reads path with Load, or returns a wrapped NotFound error if
// no persistence file exists yet (a fresh mount with nothing to load).
func (t *FolderTree) LoadFromFile(path, liveAccountID string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fserrors.New(fserrors.NotFound, "no persisted catalog").WithComponent("catalog").WithOperation("load")
		}
		return fserrors.New(fserrors.Internal, "open persistence file").WithComponent("catalog").WithCause(err)
	}
	defer f.Close()
	return t.Load(f, liveAccountID)
}
