package myfs

import (
	"errors"
	"fmt"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
)

// Check walks the directory tree from the root and compares what it finds
// with the free-space bitmap and the record table. Every inconsistency is
// reported as one line; I/O failures abort the walk.
func (fs *FS) Check(v vfs.Volume) ([]string, error) {
	t, sb, err := records(v)
	if err != nil {
		return nil, err
	}
	ss := v.SectorSize()

	refs := make(map[inode.ID]uint32)
	visited := make(map[inode.ID]bool)
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := fs.collectReferences(v, RootID, "/", refs, visited, report); err != nil {
		return nil, err
	}

	owners := make(map[uint32]inode.ID)
	for id := range visited {
		r, err := loadRecord(t, id)
		if err != nil {
			return nil, err
		}

		blocks := uint32(r.BlockCount())
		for i := uint32(0); i < blocks; i++ {
			addr := r.BlockAddr(i)
			index, err := sb.BlockIndex(addr, ss)
			if err != nil {
				report("record %d: block %d at %d is outside the block area", id, i, addr)
				continue
			}
			if owner, ok := owners[index]; ok {
				report("block %d is owned by records %d and %d", addr, owner, id)
				continue
			}
			owners[index] = id
		}

		if r.Size() > blocks*sb.BlockSize {
			report("record %d: size %d exceeds its %d blocks", id, r.Size(), blocks)
		}
		if r.Type() == inode.TypeDirectory && r.Size()%EntrySize != 0 {
			report("directory %d: size %d is not a multiple of the entry size", id, r.Size())
		}
		if r.RefCount() != refs[id] {
			report("record %d: reference count %d, but %d entries point to it", id, r.RefCount(), refs[id])
		}
	}

	buf := make([]byte, ss)
	bitsPerSector := ss * 8
	for s := uint32(0); s < sb.BitmapSectors(); s++ {
		if err := v.ReadSector(sb.BitmapStart+s, buf); err != nil {
			return nil, ioError("reading free-space bitmap", err)
		}
		bitmap := Bitmap(buf)
		for bit := uint32(0); bit < bitsPerSector; bit++ {
			index := s*bitsPerSector + bit
			if index >= sb.BlockCount {
				break
			}
			used, _ := bitmap.IsSet(bit)
			_, owned := owners[index]
			switch {
			case owned && !used:
				report("block %d is in use by record %d but marked free", sb.BlockAddr(index, ss), owners[index])
			case used && !owned:
				report("block %d is marked used but no record owns it", sb.BlockAddr(index, ss))
			}
		}
	}

	for id := RootID; uint32(id) < t.Count(); id++ {
		if visited[id] {
			continue
		}
		if _, err := t.Load(id); err == nil {
			report("record %d is in use but unreachable from the root", id)
		}
	}

	return problems, nil
}

// collectReferences counts the entries pointing at each record below the
// directory id. Directories are descended once.
func (fs *FS) collectReferences(v vfs.Volume, id inode.ID, path string, refs map[inode.ID]uint32, visited map[inode.ID]bool, report func(string, ...interface{})) error {
	visited[id] = true
	d, err := descriptorFor(v, id)
	if err != nil {
		return err
	}

	for {
		entry, ok, err := d.readEntry()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		target := inode.ID(entry.Inumber)
		refs[target]++
		if visited[target] {
			continue
		}

		child, err := descriptorFor(v, target)
		if errors.Is(err, ErrNotFound) {
			report("%s%s: entry points to missing record %d", path, entry.Name, target)
			continue
		}
		if err != nil {
			return err
		}
		if !child.isDir() {
			visited[target] = true
			continue
		}
		if err := fs.collectReferences(v, target, path+entry.Name+"/", refs, visited, report); err != nil {
			return err
		}
	}
}
