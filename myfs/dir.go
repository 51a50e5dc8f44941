package myfs

import (
	"fmt"
	"strings"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/sirupsen/logrus"
)

// walk resolves a directory path one component at a time from the root.
// Missing components are never created.
func (fs *FS) walk(v vfs.Volume, path string) (*descriptor, error) {
	d, err := descriptorFor(v, RootID)
	if err != nil {
		return nil, err
	}

	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		_, id, found, err := d.lookup(component)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, DirectoryEntryNotFound{component}
		}
		next, err := descriptorFor(v, id)
		if err != nil {
			return nil, err
		}
		if !next.isDir() {
			return nil, fmt.Errorf("%s is not a directory: %w", component, ErrWrongType)
		}
		d = next
	}
	return d, nil
}

// Open opens the file at path, creating an empty regular file when the
// last component does not exist.
func (fs *FS) Open(v vfs.Volume, path string) (vfs.FD, error) {
	return fs.open(v, path, inode.TypeRegular)
}

// Opendir opens the directory at path, creating it when the last component
// does not exist.
func (fs *FS) Opendir(v vfs.Volume, path string) (vfs.FD, error) {
	return fs.open(v, path, inode.TypeDirectory)
}

func (fs *FS) open(v vfs.Volume, path string, typ inode.Type) (vfs.FD, error) {
	if fs.table.Open() == fs.table.Capacity() {
		return 0, ErrDescriptorTableFull
	}

	parentPath, leaf := splitPath(path)
	if leaf == "" {
		d, err := descriptorFor(v, RootID)
		if err != nil {
			return 0, err
		}
		return fs.register(d)
	}
	if err := validateName(leaf); err != nil {
		return 0, err
	}

	parent, err := fs.walk(v, parentPath)
	if err != nil {
		return 0, err
	}
	_, id, found, err := parent.lookup(leaf)
	if err != nil {
		return 0, err
	}

	if found {
		d, err := descriptorFor(v, id)
		if err != nil {
			return 0, err
		}
		if typ == inode.TypeDirectory && !d.isDir() {
			return 0, fmt.Errorf("%s: %w", path, ErrWrongType)
		}
		return fs.register(d)
	}

	id, err = fs.create(parent, leaf, typ)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	d, err := descriptorFor(v, id)
	if err != nil {
		return 0, err
	}
	if typ == inode.TypeDirectory {
		err := fs.link(d, ".", id)
		if err == nil {
			err = fs.link(d, "..", parent.record.Number())
		}
		if err != nil {
			if undoErr := fs.abandon(parent, leaf, d); undoErr != nil {
				fs.log.WithFields(logrus.Fields{"record": id, "name": leaf}).WithError(undoErr).Error("removing half-built directory")
			}
			return 0, fmt.Errorf("creating %s: %w", path, err)
		}
		d.cursor = 0
	}
	return fs.register(d)
}

// abandon unlinks a directory whose "." and ".." entries could not be
// written and reclaims its record. The parent's count never saw the
// missing ".." entry, so it is left alone.
func (fs *FS) abandon(parent *descriptor, name string, d *descriptor) error {
	index, _, found, err := parent.lookup(name)
	if err != nil {
		return err
	}
	if found {
		if err := fs.removeEntry(parent, index); err != nil {
			return err
		}
	}
	return fs.reclaim(d.volume, d.record)
}

// create makes a new record with one block and links it into parent.
func (fs *FS) create(parent *descriptor, name string, typ inode.Type) (inode.ID, error) {
	v := parent.volume
	id, err := parent.records.FindFree(RootID + 1)
	if err != nil {
		if err == inode.ErrNoFreeRecord {
			return 0, ErrNoFreeRecord
		}
		return 0, ioError("searching free record", err)
	}
	r, err := parent.records.Create(id)
	if err != nil {
		return 0, ioError("creating record", err)
	}

	addr, err := allocateZeroed(v, parent.blockSize/v.SectorSize())
	if err != nil {
		_ = r.Clear()
		return 0, err
	}
	_ = r.AddBlock(addr)
	r.SetType(typ)
	r.SetSize(0)
	r.SetRefCount(0)
	if err := saveRecord(r); err != nil {
		_ = FreeBlock(v, addr)
		return 0, err
	}

	if err := fs.link(parent, name, id); err != nil {
		_ = FreeBlock(v, addr)
		_ = r.Clear()
		return 0, err
	}

	fs.log.WithFields(logrus.Fields{"record": id, "name": name, "type": toFileType(typ)}).Debug("record created")
	return id, nil
}

func (fs *FS) Readdir(fd vfs.FD) (vfs.DirEntry, bool, error) {
	d, err := fs.table.get(fd)
	if err != nil {
		return vfs.DirEntry{}, false, err
	}
	if !d.isDir() {
		return vfs.DirEntry{}, false, ErrWrongType
	}
	if err := d.refresh(); err != nil {
		return vfs.DirEntry{}, false, err
	}
	return d.readEntry()
}

func (fs *FS) Link(fd vfs.FD, name string, inumber uint32) error {
	d, err := fs.table.get(fd)
	if err != nil {
		return err
	}
	if err := d.refresh(); err != nil {
		return err
	}
	return fs.link(d, name, inode.ID(inumber))
}

// link appends an entry for id at the end of directory d and bumps the
// target's reference count. Names are not checked for duplicates.
func (fs *FS) link(d *descriptor, name string, id inode.ID) error {
	if !d.isDir() {
		return ErrWrongType
	}
	if err := validateName(name); err != nil {
		return err
	}

	target := d.record
	if id != d.record.Number() {
		var err error
		if target, err = loadRecord(d.records, id); err != nil {
			return err
		}
	}

	saved := d.cursor
	size := d.record.Size()
	d.cursor = size
	n, err := fs.write(d, encodeEntry(name, id))
	d.cursor = saved
	if err != nil || n != EntrySize {
		d.record.SetSize(size)
		if saveErr := saveRecord(d.record); err == nil {
			err = saveErr
		}
		if err == nil {
			err = ErrExhausted
		}
		return fmt.Errorf("linking %s: %w", name, err)
	}

	target.SetRefCount(target.RefCount() + 1)
	return saveRecord(target)
}

// Unlink removes name from the directory fd. Storage of the target is
// reclaimed once its last reference is gone.
func (fs *FS) Unlink(fd vfs.FD, name string) error {
	d, err := fs.table.get(fd)
	if err != nil {
		return err
	}
	if !d.isDir() {
		return ErrWrongType
	}
	if err := d.refresh(); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%s: %w", name, ErrReservedName)
	}

	saved := d.cursor
	defer func() { d.cursor = saved }()

	index, id, found, err := d.lookup(name)
	if err != nil {
		return err
	}
	if !found {
		return DirectoryEntryNotFound{name}
	}

	target := d.record
	if id != d.record.Number() {
		if target, err = loadRecord(d.records, id); err != nil {
			return err
		}
	}

	// A directory keeps its own "." entry, so its last external reference
	// leaves a count of one. The ".." entries of its subdirectories are not
	// names of it.
	isDir := target.Type() == inode.TypeDirectory
	threshold := uint32(1)
	count := target.RefCount()
	if isDir {
		threshold = 2
		if target.Size() > 2*EntrySize {
			links, err := backlinks(d.volume, id)
			if err != nil {
				return err
			}
			if links < count {
				count -= links
			} else {
				count = 0
			}
		}
	}
	last := count <= threshold

	var parentID inode.ID
	if last {
		if fs.table.references(d.volume, id) {
			return fmt.Errorf("%s: %w", name, ErrStillReferenced)
		}
		if isDir && target.Size() > 2*EntrySize {
			return fmt.Errorf("%s: %w", name, ErrNonEmptyDirectory)
		}
		if isDir {
			if parentID, err = parentOf(d.volume, id); err != nil {
				return err
			}
		}
	}

	if target.RefCount() > 0 {
		target.SetRefCount(target.RefCount() - 1)
	}
	if err := fs.removeEntry(d, index); err != nil {
		return err
	}

	if !last {
		return saveRecord(target)
	}

	if err := fs.reclaim(d.volume, target); err != nil {
		return err
	}
	if !isDir {
		return nil
	}
	// The ".." backlink goes away with the directory. It names the
	// directory it was created in, which need not be d.
	parent := d.record
	if parentID != d.record.Number() {
		if parent, err = loadRecord(d.records, parentID); err != nil {
			return err
		}
	}
	if parent.RefCount() > 0 {
		parent.SetRefCount(parent.RefCount() - 1)
	}
	return saveRecord(parent)
}

// parentOf returns the record named by the ".." entry of directory id.
func parentOf(v vfs.Volume, id inode.ID) (inode.ID, error) {
	d, err := descriptorFor(v, id)
	if err != nil {
		return 0, err
	}
	d.cursor = EntrySize
	entry, ok, err := d.readEntry()
	if err != nil {
		return 0, err
	}
	if !ok || entry.Name != ".." {
		return 0, ioError("reading parent entry", fmt.Errorf("directory %d has no .. entry", id))
	}
	return inode.ID(entry.Inumber), nil
}

// backlinks counts the distinct subdirectories of id whose ".." entry
// names id.
func backlinks(v vfs.Volume, id inode.ID) (uint32, error) {
	d, err := descriptorFor(v, id)
	if err != nil {
		return 0, err
	}
	seen := make(map[inode.ID]bool)
	links := uint32(0)
	for {
		entry, ok, err := d.readEntry()
		if err != nil {
			return 0, err
		}
		if !ok {
			return links, nil
		}
		child := inode.ID(entry.Inumber)
		if entry.Name == "." || entry.Name == ".." || child == id || seen[child] {
			continue
		}
		seen[child] = true
		r, err := loadRecord(d.records, child)
		if err != nil {
			return 0, err
		}
		if r.Type() != inode.TypeDirectory {
			continue
		}
		parent, err := parentOf(v, child)
		if err != nil {
			return 0, err
		}
		if parent == id {
			links++
		}
	}
}

// removeEntry shifts every entry after index back by one and shrinks the
// directory by one entry.
func (fs *FS) removeEntry(d *descriptor, index uint32) error {
	count := d.record.Size() / EntrySize
	buf := make([]byte, EntrySize)
	for i := index + 1; i < count; i++ {
		d.cursor = i * EntrySize
		if n, err := d.read(buf); err != nil || n != EntrySize {
			return ioError("compacting directory", fmt.Errorf("short entry read at %d: %v", i, err))
		}
		d.cursor = (i - 1) * EntrySize
		if n, err := fs.write(d, buf); err != nil || n != EntrySize {
			return ioError("compacting directory", fmt.Errorf("short entry write at %d: %v", i-1, err))
		}
	}
	d.record.SetSize((count - 1) * EntrySize)
	return saveRecord(d.record)
}

// reclaim frees every block owned by r and clears the record.
func (fs *FS) reclaim(v vfs.Volume, r *inode.Record) error {
	var first error
	blocks := r.BlockCount()
	for i := 0; i < blocks; i++ {
		if err := FreeBlock(v, r.BlockAddr(uint32(i))); err != nil && first == nil {
			first = err
		}
	}
	id := r.Number()
	if err := r.Clear(); err != nil && first == nil {
		first = ioError(fmt.Sprintf("clearing record %d", id), err)
	}
	fs.log.WithFields(logrus.Fields{"record": id, "blocks": blocks}).Debug("record reclaimed")
	return first
}

// Stat resolves path without creating anything.
func (fs *FS) Stat(v vfs.Volume, path string) (vfs.Stat, error) {
	parentPath, leaf := splitPath(path)
	id := RootID
	if leaf != "" {
		parent, err := fs.walk(v, parentPath)
		if err != nil {
			return vfs.Stat{}, err
		}
		_, found, ok, err := parent.lookup(leaf)
		if err != nil {
			return vfs.Stat{}, err
		}
		if !ok {
			return vfs.Stat{}, DirectoryEntryNotFound{leaf}
		}
		id = found
	}

	d, err := descriptorFor(v, id)
	if err != nil {
		return vfs.Stat{}, err
	}
	addrs := make([]uint32, d.record.BlockCount())
	for i := range addrs {
		addrs[i] = d.record.BlockAddr(uint32(i))
	}
	return vfs.Stat{
		Inumber:  uint32(id),
		Type:     toFileType(d.record.Type()),
		Size:     d.record.Size(),
		RefCount: d.record.RefCount(),
		Blocks:   len(addrs),
		Addrs:    addrs,
	}, nil
}
