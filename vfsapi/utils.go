package vfsapi

import (
	"path"
	"strings"
)

// Resolve turns p into an absolute path, relative paths being taken from
// cwd.
func Resolve(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join("/", cwd, p)
}

func Join(dir, name string) string {
	if name == "." {
		return path.Clean("/" + dir)
	}
	if name == ".." {
		return path.Dir(path.Clean("/" + dir))
	}
	return path.Join("/", dir, name)
}

// Split separates the last path component. The root has no name.
func Split(p string) (string, string) {
	p = path.Clean("/" + p)
	if p == "/" {
		return "/", ""
	}
	dir, name := path.Split(p)
	return path.Clean(dir), name
}

func Base(p string) string {
	_, name := Split(p)
	if name == "" {
		return "/"
	}
	return name
}

// Entry is a node found by Walk.
type Entry struct {
	Path string
	Info FileInfo
}

// Walk visits every node below root depth first, parents before children.
// "." and ".." are skipped. fn is called once per name, so a record with
// several names is visited several times, but a directory is only
// descended into once.
func Walk(fs FS, root string, fn func(Entry) error) error {
	return walk(fs, root, make(map[uint32]bool), fn)
}

func walk(fs FS, dir string, seen map[uint32]bool, fn func(Entry) error) error {
	entries, err := ReadDir(fs, dir)
	if err != nil {
		return err
	}
	for _, info := range entries {
		if info.Name() == "." {
			seen[info.Inumber()] = true
		}
	}
	for _, info := range entries {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		entry := Entry{Path: Join(dir, info.Name()), Info: info}
		if err := fn(entry); err != nil {
			return err
		}
		if info.IsDir() && !seen[info.Inumber()] {
			if err := walk(fs, entry.Path, seen, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
