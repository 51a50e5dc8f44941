package myfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
)

const (
	MaxNameLength = 255
	nameFieldSize = MaxNameLength + 1
	// EntrySize is the encoded size of one directory entry.
	EntrySize = nameFieldSize + 4
)

type direntRecord struct {
	Name    [nameFieldSize]byte
	Inumber uint32
}

func encodeEntry(name string, id inode.ID) []byte {
	var rec direntRecord
	copy(rec.Name[:], name)
	rec.Inumber = uint32(id)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &rec)
	return buf.Bytes()
}

func decodeEntry(data []byte) vfs.DirEntry {
	var rec direntRecord
	_ = binary.Read(bytes.NewReader(data), binary.LittleEndian, &rec)
	name := rec.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return vfs.DirEntry{Name: string(name), Inumber: rec.Inumber}
}

func validateName(name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("%.16s...: %w", name, ErrNameTooLong)
	}
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// splitPath separates the leaf name at the rightmost separator. Trailing
// separators are ignored, so the root path has no leaf.
func splitPath(path string) (string, string) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// readEntry reads the entry at the cursor. ok is false once less than a
// whole entry remains.
func (d *descriptor) readEntry() (vfs.DirEntry, bool, error) {
	buf := make([]byte, EntrySize)
	n, err := d.read(buf)
	if err != nil {
		return vfs.DirEntry{}, false, err
	}
	if n < EntrySize {
		return vfs.DirEntry{}, false, nil
	}
	return decodeEntry(buf), true, nil
}

// lookup scans the directory from its first entry for name.
func (d *descriptor) lookup(name string) (uint32, inode.ID, bool, error) {
	d.cursor = 0
	for i := uint32(0); ; i++ {
		entry, ok, err := d.readEntry()
		if err != nil || !ok {
			return 0, 0, false, err
		}
		if entry.Name == name {
			return i, inode.ID(entry.Inumber), true, nil
		}
	}
}
