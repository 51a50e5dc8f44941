package myfs

import (
	"bytes"
	"encoding/binary"

	"github.com/PapiCZ/myfs/vfs"
)

const (
	// Tag identifies myfs volumes in the superblock and in the driver switch.
	Tag  byte = 'm'
	Name      = "myfs"

	superblockSector uint32 = 0
)

// Superblock is stored packed at the start of sector 0:
// blockSize(4) tag(1) bitmapStart(4) firstBlock(4) blockCount(4).
type Superblock struct {
	BlockSize   uint32
	Tag         byte
	BitmapStart uint32
	FirstBlock  uint32
	BlockCount  uint32
}

func (sb Superblock) SectorsPerBlock(sectorSize uint32) uint32 {
	return sb.BlockSize / sectorSize
}

// BitmapSectors is the length of the free-space bitmap region in sectors.
func (sb Superblock) BitmapSectors() uint32 {
	return sb.FirstBlock - sb.BitmapStart
}

// BlockIndex maps a block address to its bit in the bitmap.
func (sb Superblock) BlockIndex(addr, sectorSize uint32) (uint32, error) {
	spb := sb.SectorsPerBlock(sectorSize)
	if addr < sb.FirstBlock || (addr-sb.FirstBlock)%spb != 0 || (addr-sb.FirstBlock)/spb >= sb.BlockCount {
		return 0, OutOfRange{addr, sb.FirstBlock, sb.BlockCount}
	}
	return (addr - sb.FirstBlock) / spb, nil
}

// BlockAddr maps a bitmap index to the first sector of its block.
func (sb Superblock) BlockAddr(index, sectorSize uint32) uint32 {
	return sb.FirstBlock + index*sb.SectorsPerBlock(sectorSize)
}

func ReadSuperblock(v vfs.Volume) (Superblock, error) {
	var sb Superblock
	buf := make([]byte, v.SectorSize())
	if err := v.ReadSector(superblockSector, buf); err != nil {
		return sb, ioError("reading superblock", err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &sb); err != nil {
		return sb, err
	}
	if sb.Tag != Tag || sb.BlockSize == 0 || sb.BlockSize%v.SectorSize() != 0 {
		return Superblock{}, ErrNotFormatted
	}
	return sb, nil
}

func WriteSuperblock(v vfs.Volume, sb Superblock) error {
	out := new(bytes.Buffer)
	if err := binary.Write(out, binary.LittleEndian, sb); err != nil {
		return err
	}
	buf := make([]byte, v.SectorSize())
	copy(buf, out.Bytes())
	if err := v.WriteSector(superblockSector, buf); err != nil {
		return ioError("writing superblock", err)
	}
	return nil
}
