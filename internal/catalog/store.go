package catalog

import (
	"path"
	"strings"
)

// store is the flat, non-pointer catalog: two maps keyed by remote key, plus
// the parent/child index slices carried on each Folder. All path resolution
// walks this structure top-down from RootKey; the store itself holds no
// path-keyed index, since paths are not stable remote identifiers (a rename
// or move changes the path but not the key).
type store struct {
	folders map[string]*Folder
	files   map[string]*FileEntry
}

func newStore() *store {
	return &store{
		folders: map[string]*Folder{
			RootKey: {Key: RootKey, Name: "", ParentKey: ""},
		},
		files: make(map[string]*FileEntry),
	}
}

func (s *store) folder(key string) (*Folder, bool) {
	f, ok := s.folders[key]
	return f, ok
}

func (s *store) file(key string) (*FileEntry, bool) {
	f, ok := s.files[key]
	return f, ok
}

// resolve walks from the root through folder children by name, returning
// the kind and key of the terminal path component. A path that resolves
// through a component that isn't a folder (i.e. a file appears mid-path)
// is treated as not found, same as a missing component.
func (s *store) resolve(p string) (Kind, string, bool) {
	p = path.Clean("/" + p)
	if p == "/" {
		return KindFolder, RootKey, true
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")

	cur := RootKey
	for i, name := range parts {
		last := i == len(parts)-1
		folder, ok := s.folders[cur]
		if !ok {
			return KindNone, "", false
		}

		if last {
			for _, ck := range folder.ChildFolderKeys {
				if child, ok := s.folders[ck]; ok && child.Name == name {
					return KindFolder, ck, true
				}
			}
			for _, ck := range folder.ChildFileKeys {
				if child, ok := s.files[ck]; ok && child.Name == name {
					return KindFile, ck, true
				}
			}
			return KindNone, "", false
		}

		found := false
		for _, ck := range folder.ChildFolderKeys {
			if child, ok := s.folders[ck]; ok && child.Name == name {
				cur = ck
				found = true
				break
			}
		}
		if !found {
			return KindNone, "", false
		}
	}
	return KindNone, "", false
}

// pathOf reconstructs the absolute path of a folder by walking parent links,
// the reverse of resolve (above). FolderTree's held-open check uses it to
// turn a cached file's parent key into a path.
func (s *store) pathOf(key string) string {
	if key == RootKey {
		return "/"
	}
	var parts []string
	cur := key
	for cur != "" && cur != RootKey {
		f, ok := s.folders[cur]
		if !ok {
			break
		}
		parts = append([]string{f.Name}, parts...)
		cur = f.ParentKey
	}
	return "/" + strings.Join(parts, "/")
}

func (s *store) addFolder(f *Folder) {
	s.folders[f.Key] = f
	if parent, ok := s.folders[f.ParentKey]; ok {
		parent.ChildFolderKeys = appendUnique(parent.ChildFolderKeys, f.Key)
	}
}

func (s *store) addFile(f *FileEntry) {
	s.files[f.Key] = f
	if parent, ok := s.folders[f.ParentKey]; ok {
		parent.ChildFileKeys = appendUnique(parent.ChildFileKeys, f.Key)
	}
}

func (s *store) removeFolder(key string) {
	f, ok := s.folders[key]
	if !ok {
		return
	}
	if parent, ok := s.folders[f.ParentKey]; ok {
		parent.ChildFolderKeys = removeKey(parent.ChildFolderKeys, key)
	}
	delete(s.folders, key)
}

func (s *store) removeFile(key string) {
	f, ok := s.files[key]
	if !ok {
		return
	}
	if parent, ok := s.folders[f.ParentKey]; ok {
		parent.ChildFileKeys = removeKey(parent.ChildFileKeys, key)
	}
	delete(s.files, key)
}

func appendUnique(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
