package myfs

import (
	"fmt"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
)

// DefaultTableCapacity is the number of descriptor slots of a new table.
const DefaultTableCapacity = 128

type descriptor struct {
	volume    vfs.Volume
	blockSize uint32
	records   *inode.Table
	record    *inode.Record
	cursor    uint32
}

func (d *descriptor) isDir() bool {
	return d.record.Type() == inode.TypeDirectory
}

// refresh reloads the record so changes made through other descriptors
// or paths are seen.
func (d *descriptor) refresh() error {
	r, err := loadRecord(d.records, d.record.Number())
	if err != nil {
		return err
	}
	d.record = r
	return nil
}

// Table maps small positive handles to open descriptors.
type Table struct {
	slots []*descriptor
}

func NewTable(capacity int) *Table {
	return &Table{slots: make([]*descriptor, capacity)}
}

func (t *Table) allocate(d *descriptor) (vfs.FD, error) {
	for i, slot := range t.slots {
		if slot == nil {
			t.slots[i] = d
			return vfs.FD(i + 1), nil
		}
	}
	return 0, ErrDescriptorTableFull
}

func (t *Table) get(fd vfs.FD) (*descriptor, error) {
	if fd <= 0 || int(fd) > len(t.slots) || t.slots[fd-1] == nil {
		return nil, fmt.Errorf("descriptor %d: %w", fd, ErrBadDescriptor)
	}
	return t.slots[fd-1], nil
}

func (t *Table) release(fd vfs.FD) error {
	if _, err := t.get(fd); err != nil {
		return err
	}
	t.slots[fd-1] = nil
	return nil
}

// IsVolumeIdle reports whether no open descriptor refers to v.
func (t *Table) IsVolumeIdle(v vfs.Volume) bool {
	for _, d := range t.slots {
		if d != nil && d.volume.ID() == v.ID() {
			return false
		}
	}
	return true
}

// references reports whether an open descriptor holds record id of v.
func (t *Table) references(v vfs.Volume, id inode.ID) bool {
	for _, d := range t.slots {
		if d != nil && d.volume.ID() == v.ID() && d.record.Number() == id {
			return true
		}
	}
	return false
}

// Open reports the number of occupied slots.
func (t *Table) Open() int {
	n := 0
	for _, d := range t.slots {
		if d != nil {
			n++
		}
	}
	return n
}

func (t *Table) Capacity() int { return len(t.slots) }
