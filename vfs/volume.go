package vfs

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// DefaultSectorSize is the payload size of one sector in bytes.
const DefaultSectorSize = 512

// Volume is a raw sector-addressable storage device. Buffers passed to
// ReadSector and WriteSector must be exactly SectorSize bytes long.
type Volume interface {
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
	SectorSize() uint32
	SectorCount() uint32
	Size() uint64
	ID() uuid.UUID
}

type SectorOutOfRange struct {
	Sector uint32
	Count  uint32
}

func (s SectorOutOfRange) Error() string {
	return fmt.Sprintf("sector %d out of range, volume has %d sectors", s.Sector, s.Count)
}

type BadBufferSize struct {
	Got, Want int
}

func (b BadBufferSize) Error() string {
	return fmt.Sprintf("sector buffer is %d bytes, expected %d", b.Got, b.Want)
}

func checkSector(v Volume, sector uint32, buf []byte) error {
	if sector >= v.SectorCount() {
		return SectorOutOfRange{sector, v.SectorCount()}
	}
	if len(buf) != int(v.SectorSize()) {
		return BadBufferSize{len(buf), int(v.SectorSize())}
	}
	return nil
}

// PrepareVolumeFile creates (or truncates) a host file of the given size.
func PrepareVolumeFile(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer func() {
		_ = f.Close()
	}()

	return f.Truncate(size)
}

// FileVolume is a Volume backed by a host file.
type FileVolume struct {
	file       *os.File
	id         uuid.UUID
	sectorSize uint32
	sectors    uint32
}

func NewVolume(path string, sectorSize uint32) (*FileVolume, error) {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &FileVolume{
		file:       f,
		id:         uuid.New(),
		sectorSize: sectorSize,
		sectors:    uint32(stat.Size() / int64(sectorSize)),
	}, nil
}

func (v *FileVolume) ReadSector(sector uint32, buf []byte) error {
	if err := checkSector(v, sector, buf); err != nil {
		return err
	}
	if _, err := v.file.ReadAt(buf, int64(sector)*int64(v.sectorSize)); err != nil && err != io.EOF {
		return fmt.Errorf("reading sector %d of %s: %w", sector, v.file.Name(), err)
	}
	return nil
}

func (v *FileVolume) WriteSector(sector uint32, buf []byte) error {
	if err := checkSector(v, sector, buf); err != nil {
		return err
	}
	if _, err := v.file.WriteAt(buf, int64(sector)*int64(v.sectorSize)); err != nil {
		return fmt.Errorf("writing sector %d of %s: %w", sector, v.file.Name(), err)
	}
	return nil
}

func (v *FileVolume) SectorSize() uint32  { return v.sectorSize }
func (v *FileVolume) SectorCount() uint32 { return v.sectors }
func (v *FileVolume) Size() uint64        { return uint64(v.sectors) * uint64(v.sectorSize) }
func (v *FileVolume) ID() uuid.UUID       { return v.id }
func (v *FileVolume) Path() string        { return v.file.Name() }

func (v *FileVolume) Close() error {
	return v.file.Close()
}

// Destroy closes the volume and removes its backing file.
func (v *FileVolume) Destroy() error {
	_ = v.Close()
	return os.Remove(v.file.Name())
}

// MemVolume keeps all sectors in memory.
type MemVolume struct {
	data       []byte
	id         uuid.UUID
	sectorSize uint32
}

func NewMemVolume(size uint64, sectorSize uint32) *MemVolume {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	size -= size % uint64(sectorSize)
	return &MemVolume{
		data:       make([]byte, size),
		id:         uuid.New(),
		sectorSize: sectorSize,
	}
}

func (v *MemVolume) ReadSector(sector uint32, buf []byte) error {
	if err := checkSector(v, sector, buf); err != nil {
		return err
	}
	off := uint64(sector) * uint64(v.sectorSize)
	copy(buf, v.data[off:off+uint64(v.sectorSize)])
	return nil
}

func (v *MemVolume) WriteSector(sector uint32, buf []byte) error {
	if err := checkSector(v, sector, buf); err != nil {
		return err
	}
	off := uint64(sector) * uint64(v.sectorSize)
	copy(v.data[off:off+uint64(v.sectorSize)], buf)
	return nil
}

func (v *MemVolume) SectorSize() uint32  { return v.sectorSize }
func (v *MemVolume) SectorCount() uint32 { return uint32(uint64(len(v.data)) / uint64(v.sectorSize)) }
func (v *MemVolume) Size() uint64        { return uint64(len(v.data)) }
func (v *MemVolume) ID() uuid.UUID       { return v.id }

// Bytes exposes the raw volume contents.
func (v *MemVolume) Bytes() []byte { return v.data }
