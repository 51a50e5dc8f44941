package myfs

import (
	"github.com/PapiCZ/myfs/vfs"
)

// AllocateBlock marks the lowest free block used and returns the address of
// its first sector. Only the touched bitmap sector is written.
func AllocateBlock(v vfs.Volume) (uint32, error) {
	sb, err := ReadSuperblock(v)
	if err != nil {
		return 0, err
	}

	bitsPerSector := v.SectorSize() * 8
	buf := make([]byte, v.SectorSize())
	for s := uint32(0); s < sb.BitmapSectors(); s++ {
		if err := v.ReadSector(sb.BitmapStart+s, buf); err != nil {
			return 0, ioError("reading free-space bitmap", err)
		}

		bitmap := Bitmap(buf)
		bit, ok := bitmap.FirstClear()
		if !ok {
			continue
		}

		index := s*bitsPerSector + bit
		if index >= sb.BlockCount {
			return 0, ErrExhausted
		}

		_ = bitmap.Set(bit)
		if err := v.WriteSector(sb.BitmapStart+s, buf); err != nil {
			return 0, ioError("writing free-space bitmap", err)
		}
		return sb.BlockAddr(index, v.SectorSize()), nil
	}

	return 0, ErrExhausted
}

// FreeBlock clears the bitmap bit of the block starting at addr.
func FreeBlock(v vfs.Volume, addr uint32) error {
	sb, err := ReadSuperblock(v)
	if err != nil {
		return err
	}

	index, err := sb.BlockIndex(addr, v.SectorSize())
	if err != nil {
		return err
	}

	bitsPerSector := v.SectorSize() * 8
	sector := sb.BitmapStart + index/bitsPerSector
	buf := make([]byte, v.SectorSize())
	if err := v.ReadSector(sector, buf); err != nil {
		return ioError("reading free-space bitmap", err)
	}
	_ = Bitmap(buf).Clear(index % bitsPerSector)
	if err := v.WriteSector(sector, buf); err != nil {
		return ioError("writing free-space bitmap", err)
	}
	return nil
}

// CountFreeBlocks counts clear bits below the recorded block count.
func CountFreeBlocks(v vfs.Volume) (uint32, error) {
	sb, err := ReadSuperblock(v)
	if err != nil {
		return 0, err
	}

	bitsPerSector := v.SectorSize() * 8
	buf := make([]byte, v.SectorSize())
	free := uint32(0)
	for s := uint32(0); s < sb.BitmapSectors(); s++ {
		if err := v.ReadSector(sb.BitmapStart+s, buf); err != nil {
			return 0, ioError("reading free-space bitmap", err)
		}
		bitmap := Bitmap(buf)
		for bit := uint32(0); bit < bitsPerSector; bit++ {
			if s*bitsPerSector+bit >= sb.BlockCount {
				return free, nil
			}
			if used, _ := bitmap.IsSet(bit); !used {
				free++
			}
		}
	}
	return free, nil
}
