package myfs

import (
	"errors"
	"fmt"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/sirupsen/logrus"
)

// Geometry is the on-volume layout computed for a block size.
type Geometry struct {
	Records       uint32
	TableSectors  uint32
	BitmapStart   uint32
	BitmapSectors uint32
	FirstBlock    uint32
	BlockCount    uint32
}

// ComputeGeometry lays out the record table, the bitmap and the block area
// of v for blockSize. The table holds one record per eight blocks.
func ComputeGeometry(v vfs.Volume, blockSize uint32) (Geometry, error) {
	ss := v.SectorSize()
	if blockSize == 0 || blockSize%ss != 0 {
		return Geometry{}, fmt.Errorf("%d is not a multiple of sector size %d: %w", blockSize, ss, ErrInvalidBlockSize)
	}
	if inode.RecordsPerSector(ss) == 0 {
		return Geometry{}, fmt.Errorf("sector size %d cannot hold a record: %w", ss, ErrInvalidBlockSize)
	}

	var g Geometry
	total := v.SectorCount()
	spb := blockSize / ss

	g.Records = uint32(v.Size() / uint64(blockSize) / 8)
	if g.Records <= uint32(RootID) {
		return Geometry{}, ErrVolumeTooSmall
	}
	g.TableSectors = inode.TableSectors(g.Records, ss)
	g.BitmapStart = inode.TableStart + g.TableSectors
	if g.BitmapStart >= total {
		return Geometry{}, ErrVolumeTooSmall
	}

	upper := (total - g.BitmapStart) / spb
	bitsPerSector := ss * 8
	g.BitmapSectors = (upper + bitsPerSector - 1) / bitsPerSector
	g.FirstBlock = g.BitmapStart + g.BitmapSectors
	if g.FirstBlock >= total {
		return Geometry{}, ErrVolumeTooSmall
	}
	g.BlockCount = (total - g.FirstBlock) / spb
	if g.BlockCount < 2 {
		return Geometry{}, ErrVolumeTooSmall
	}
	return g, nil
}

// Format writes an empty filesystem with a root directory to v and returns
// the number of blocks still free.
func (fs *FS) Format(v vfs.Volume, blockSize uint32) (uint32, error) {
	g, err := ComputeGeometry(v, blockSize)
	if err != nil {
		return 0, err
	}

	if _, err := inode.Format(v, g.Records); err != nil {
		return 0, ioError("formatting record table", err)
	}

	zero := make([]byte, v.SectorSize())
	for i := uint32(0); i < g.BitmapSectors; i++ {
		if err := v.WriteSector(g.BitmapStart+i, zero); err != nil {
			return 0, ioError("clearing free-space bitmap", err)
		}
	}

	sb := Superblock{
		BlockSize:   blockSize,
		Tag:         Tag,
		BitmapStart: g.BitmapStart,
		FirstBlock:  g.FirstBlock,
		BlockCount:  g.BlockCount,
	}
	if err := WriteSuperblock(v, sb); err != nil {
		return 0, err
	}

	if err := fs.bootstrapRoot(v, blockSize); err != nil {
		if errors.Is(err, ErrExhausted) {
			return 0, ErrVolumeTooSmall
		}
		return 0, err
	}

	// The root usually takes one block, but its two entries straddle a
	// block boundary when blocks are smaller than two entries.
	free, err := CountFreeBlocks(v)
	if err != nil {
		return 0, err
	}
	if free == 0 {
		return 0, ErrVolumeTooSmall
	}

	fs.log.WithFields(logrus.Fields{
		"volume":     v.ID(),
		"block_size": blockSize,
		"records":    g.Records,
		"blocks":     g.BlockCount,
		"free":       free,
	}).Info("volume formatted")
	return free, nil
}

func (fs *FS) bootstrapRoot(v vfs.Volume, blockSize uint32) error {
	t, _, err := records(v)
	if err != nil {
		return err
	}
	r, err := t.Create(RootID)
	if err != nil {
		return ioError("creating root record", err)
	}
	addr, err := allocateZeroed(v, blockSize/v.SectorSize())
	if err != nil {
		return err
	}
	_ = r.AddBlock(addr)
	r.SetType(inode.TypeDirectory)
	r.SetSize(0)
	r.SetRefCount(0)
	if err := saveRecord(r); err != nil {
		return err
	}

	root := &descriptor{volume: v, blockSize: blockSize, records: t, record: r}
	if err := fs.link(root, ".", RootID); err != nil {
		return err
	}
	return fs.link(root, "..", RootID)
}
