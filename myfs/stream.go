package myfs

import (
	"math"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/sirupsen/logrus"
)

func (fs *FS) Read(fd vfs.FD, p []byte) (int, error) {
	d, err := fs.table.get(fd)
	if err != nil {
		return 0, err
	}
	if err := d.refresh(); err != nil {
		return 0, err
	}
	return d.read(p)
}

func (fs *FS) Write(fd vfs.FD, p []byte) (int, error) {
	d, err := fs.table.get(fd)
	if err != nil {
		return 0, err
	}
	if err := d.refresh(); err != nil {
		return 0, err
	}
	return fs.write(d, p)
}

// Seek moves the cursor of fd. Offsets past the end of the file are allowed;
// reads there return nothing and writes extend the file.
func (fs *FS) Seek(fd vfs.FD, offset uint32) error {
	d, err := fs.table.get(fd)
	if err != nil {
		return err
	}
	d.cursor = offset
	return nil
}

// read copies bytes from the cursor into p, never past the recorded size,
// and advances the cursor by the amount copied.
func (d *descriptor) read(p []byte) (int, error) {
	v := d.volume
	ss := v.SectorSize()
	size := d.record.Size()
	cursor := d.cursor
	if cursor >= size || len(p) == 0 {
		return 0, nil
	}

	want := uint32(min(uint64(len(p)), math.MaxUint32))
	block := cursor / d.blockSize
	offset := cursor % d.blockSize
	buf := make([]byte, ss)
	n := uint32(0)

	for n < want && cursor+n < size {
		addr := d.record.BlockAddr(block)
		if addr == 0 {
			break
		}
		for offset < d.blockSize && n < want && cursor+n < size {
			if err := v.ReadSector(addr+offset/ss, buf); err != nil {
				d.cursor += n
				return int(n), ioError("reading file data", err)
			}
			start := offset % ss
			chunk := min(ss-start, want-n, size-(cursor+n))
			copy(p[n:n+chunk], buf[start:start+chunk])
			n += chunk
			offset += chunk
		}
		block++
		offset = 0
	}

	d.cursor += n
	return int(n), nil
}

// write copies p to the cursor, appending fresh blocks to the chain when it
// runs out. Running out of blocks or block list slots ends the write early
// without an error; the caller sees the short count.
func (fs *FS) write(d *descriptor, p []byte) (int, error) {
	v := d.volume
	ss := v.SectorSize()
	spb := d.blockSize / ss
	cursor := d.cursor

	want := uint32(min(uint64(len(p)), uint64(math.MaxUint32-cursor)))
	block := cursor / d.blockSize
	offset := cursor % d.blockSize
	buf := make([]byte, ss)
	n := uint32(0)
	chain := d.record.BlockCount()
	appended := false
	var failure error

walk:
	for n < want {
		if block >= inode.DirectBlocks {
			fs.log.WithFields(logrus.Fields{"record": d.record.Number(), "written": n}).Warn("write stopped: cursor is past the block list")
			break
		}
		addr := d.record.BlockAddr(block)
		for addr == 0 {
			fresh, err := allocateZeroed(v, spb)
			if err != nil {
				fs.log.WithFields(logrus.Fields{"record": d.record.Number(), "written": n}).WithError(err).Warn("write stopped: block allocation failed")
				break walk
			}
			if err := d.record.AddBlock(fresh); err != nil {
				_ = FreeBlock(v, fresh)
				fs.log.WithFields(logrus.Fields{"record": d.record.Number(), "written": n}).Warn("write stopped: block list is full")
				break walk
			}
			appended = true
			fs.log.WithFields(logrus.Fields{"record": d.record.Number(), "block": fresh}).Debug("block appended")
			// A cursor past the end of the chain leaves zeroed gap
			// blocks behind it.
			addr = d.record.BlockAddr(block)
		}

		for offset < d.blockSize && n < want {
			sector := addr + offset/ss
			start := offset % ss
			chunk := min(ss-start, want-n)
			if chunk < ss {
				if err := v.ReadSector(sector, buf); err != nil {
					failure = ioError("reading file data", err)
					break walk
				}
			}
			copy(buf[start:start+chunk], p[n:n+chunk])
			if err := v.WriteSector(sector, buf); err != nil {
				failure = ioError("writing file data", err)
				break walk
			}
			n += chunk
			offset += chunk
		}
		block++
		offset = 0
	}

	// A write that transferred nothing leaves the chain as it found it.
	if n == 0 && appended {
		for i := d.record.BlockCount() - 1; i >= chain; i-- {
			_ = FreeBlock(v, d.record.BlockAddr(uint32(i)))
			_ = d.record.SetBlockAddr(uint32(i), 0)
		}
	}

	grown := n > 0 && cursor+n > d.record.Size()
	if grown {
		d.record.SetSize(cursor + n)
	}
	if grown || appended {
		if err := saveRecord(d.record); err != nil && failure == nil {
			failure = err
		}
	}
	d.cursor = cursor + n
	return int(n), failure
}

// allocateZeroed allocates a block and clears its sectors so bytes past the
// end of a file always read as zero.
func allocateZeroed(v vfs.Volume, sectorsPerBlock uint32) (uint32, error) {
	addr, err := AllocateBlock(v)
	if err != nil {
		return 0, err
	}
	zero := make([]byte, v.SectorSize())
	for i := uint32(0); i < sectorsPerBlock; i++ {
		if err := v.WriteSector(addr+i, zero); err != nil {
			_ = FreeBlock(v, addr)
			return 0, ioError("clearing block", err)
		}
	}
	return addr, nil
}
