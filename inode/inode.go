// Package inode stores fixed-size metadata records in a table of sectors
// starting right after the superblock.
package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/PapiCZ/myfs/vfs"
)

type ID uint32

type Type uint32

const (
	TypeFree Type = iota
	TypeRegular
	TypeDirectory
)

const (
	// DirectBlocks is the capacity of a record's block list.
	DirectBlocks = 60
	// RecordSize is the encoded size of one record.
	RecordSize = 256
	// TableStart is the first sector of the record table.
	TableStart uint32 = 1
)

type errorString string

func (e errorString) Error() string { return string(e) }

const (
	ErrNotFound      errorString = "record not found"
	ErrBlockListFull errorString = "record block list is full"
	ErrNoFreeRecord  errorString = "no free record"
)

// Inode is the on-disk layout of a record.
type Inode struct {
	Number   uint32
	Type     Type
	RefCount uint32
	Size     uint32
	Blocks   [DirectBlocks]uint32
}

// RecordsPerSector reports how many records fit in one sector.
func RecordsPerSector(sectorSize uint32) uint32 {
	return sectorSize / RecordSize
}

// TableSectors reports how many sectors a table of count records occupies.
func TableSectors(count, sectorSize uint32) uint32 {
	per := RecordsPerSector(sectorSize)
	return (count + per - 1) / per
}

// Table is the record table of one volume.
type Table struct {
	volume vfs.Volume
	count  uint32
}

func NewTable(volume vfs.Volume, count uint32) *Table {
	return &Table{volume: volume, count: count}
}

// Format zeroes enough sectors to hold count free records.
func Format(volume vfs.Volume, count uint32) (*Table, error) {
	buf := make([]byte, volume.SectorSize())
	sectors := TableSectors(count, volume.SectorSize())
	for i := uint32(0); i < sectors; i++ {
		if err := volume.WriteSector(TableStart+i, buf); err != nil {
			return nil, fmt.Errorf("wiping record table: %w", err)
		}
	}
	return NewTable(volume, sectors*RecordsPerSector(volume.SectorSize())), nil
}

func (t *Table) Count() uint32 { return t.count }

func (t *Table) locate(id ID) (uint32, int) {
	per := RecordsPerSector(t.volume.SectorSize())
	return TableStart + uint32(id)/per, int(uint32(id)%per) * RecordSize
}

func (t *Table) read(id ID) (Inode, error) {
	var ino Inode
	if id == 0 || uint32(id) >= t.count {
		return ino, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	sector, off := t.locate(id)
	buf := make([]byte, t.volume.SectorSize())
	if err := t.volume.ReadSector(sector, buf); err != nil {
		return ino, fmt.Errorf("reading record %d: %w", id, err)
	}
	err := binary.Read(bytes.NewReader(buf[off:off+RecordSize]), binary.LittleEndian, &ino)
	return ino, err
}

func (t *Table) write(id ID, ino *Inode) error {
	sector, off := t.locate(id)
	buf := make([]byte, t.volume.SectorSize())
	if err := t.volume.ReadSector(sector, buf); err != nil {
		return fmt.Errorf("reading record %d: %w", id, err)
	}
	out := new(bytes.Buffer)
	if err := binary.Write(out, binary.LittleEndian, ino); err != nil {
		return err
	}
	copy(buf[off:off+RecordSize], out.Bytes())
	if err := t.volume.WriteSector(sector, buf); err != nil {
		return fmt.Errorf("writing record %d: %w", id, err)
	}
	return nil
}

// Create initializes record id as an empty regular file and persists it.
func (t *Table) Create(id ID) (*Record, error) {
	if id == 0 || uint32(id) >= t.count {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	r := &Record{table: t, inode: Inode{Number: uint32(id), Type: TypeRegular}}
	if err := r.Save(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads record id. Free records are reported as ErrNotFound.
func (t *Table) Load(id ID) (*Record, error) {
	ino, err := t.read(id)
	if err != nil {
		return nil, err
	}
	if ino.Type == TypeFree {
		return nil, fmt.Errorf("record %d is free: %w", id, ErrNotFound)
	}
	return &Record{table: t, inode: ino}, nil
}

// FindFree returns the lowest free record id not below start.
func (t *Table) FindFree(start ID) (ID, error) {
	if start == 0 {
		start = 1
	}
	for id := start; uint32(id) < t.count; id++ {
		ino, err := t.read(id)
		if err != nil {
			return 0, err
		}
		if ino.Type == TypeFree {
			return id, nil
		}
	}
	return 0, ErrNoFreeRecord
}

// Record is an in-memory copy of one table entry. Changes are only
// visible on disk after Save.
type Record struct {
	table *Table
	inode Inode
}

func (r *Record) Number() ID { return ID(r.inode.Number) }

func (r *Record) Type() Type           { return r.inode.Type }
func (r *Record) SetType(t Type)       { r.inode.Type = t }
func (r *Record) Size() uint32         { return r.inode.Size }
func (r *Record) SetSize(s uint32)     { r.inode.Size = s }
func (r *Record) RefCount() uint32     { return r.inode.RefCount }
func (r *Record) SetRefCount(n uint32) { r.inode.RefCount = n }

// BlockAddr returns the address of logical block i, or 0 if the chain is
// shorter than that.
func (r *Record) BlockAddr(i uint32) uint32 {
	if i >= DirectBlocks {
		return 0
	}
	return r.inode.Blocks[i]
}

func (r *Record) SetBlockAddr(i, addr uint32) error {
	if i >= DirectBlocks {
		return ErrBlockListFull
	}
	r.inode.Blocks[i] = addr
	return nil
}

// AddBlock appends addr to the end of the block chain.
func (r *Record) AddBlock(addr uint32) error {
	for i := range r.inode.Blocks {
		if r.inode.Blocks[i] == 0 {
			r.inode.Blocks[i] = addr
			return nil
		}
	}
	return ErrBlockListFull
}

// BlockCount reports the length of the block chain.
func (r *Record) BlockCount() int {
	n := 0
	for n < DirectBlocks && r.inode.Blocks[n] != 0 {
		n++
	}
	return n
}

func (r *Record) Save() error {
	return r.table.write(r.Number(), &r.inode)
}

// Clear marks the record free on disk and resets the in-memory copy.
func (r *Record) Clear() error {
	id := r.Number()
	r.inode = Inode{}
	return r.table.write(id, &r.inode)
}
