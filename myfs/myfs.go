// Package myfs implements a filesystem driver on top of a sector volume and
// an inode record table. Files and directories are chains of fixed-size
// blocks tracked by a free-space bitmap; directories are ordinary file
// content made of fixed-size entries.
//
// An FS is not safe for concurrent use. Callers serialize all operations.
package myfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/sirupsen/logrus"
)

// RootID is the record of the root directory.
const RootID inode.ID = 1

type FS struct {
	table *Table
	log   logrus.FieldLogger
}

var (
	_ vfs.Driver        = (*FS)(nil)
	_ vfs.Checker       = (*FS)(nil)
	_ vfs.SpaceReporter = (*FS)(nil)
)

type Option func(*FS)

func WithLogger(log logrus.FieldLogger) Option {
	return func(fs *FS) { fs.log = log }
}

func WithTableCapacity(capacity int) Option {
	return func(fs *FS) { fs.table = NewTable(capacity) }
}

func New(options ...Option) *FS {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	fs := &FS{
		table: NewTable(DefaultTableCapacity),
		log:   discard,
	}
	for _, option := range options {
		option(fs)
	}
	return fs
}

// Descriptors exposes the descriptor table of this session.
func (fs *FS) Descriptors() *Table { return fs.table }

func (fs *FS) IsIdle(v vfs.Volume) bool {
	return fs.table.IsVolumeIdle(v)
}

func (fs *FS) FreeBlocks(v vfs.Volume) (uint32, error) {
	return CountFreeBlocks(v)
}

// records opens the record table described by the superblock of v.
func records(v vfs.Volume) (*inode.Table, Superblock, error) {
	sb, err := ReadSuperblock(v)
	if err != nil {
		return nil, sb, err
	}
	count := (sb.BitmapStart - inode.TableStart) * inode.RecordsPerSector(v.SectorSize())
	return inode.NewTable(v, count), sb, nil
}

func loadRecord(t *inode.Table, id inode.ID) (*inode.Record, error) {
	r, err := t.Load(id)
	if errors.Is(err, inode.ErrNotFound) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, ioError(fmt.Sprintf("loading record %d", id), err)
	}
	return r, nil
}

func saveRecord(r *inode.Record) error {
	if err := r.Save(); err != nil {
		return ioError(fmt.Sprintf("saving record %d", r.Number()), err)
	}
	return nil
}

// descriptorFor builds an unregistered descriptor on record id.
func descriptorFor(v vfs.Volume, id inode.ID) (*descriptor, error) {
	t, sb, err := records(v)
	if err != nil {
		return nil, err
	}
	r, err := loadRecord(t, id)
	if err != nil {
		return nil, err
	}
	return &descriptor{
		volume:    v,
		blockSize: sb.BlockSize,
		records:   t,
		record:    r,
	}, nil
}

func (fs *FS) register(d *descriptor) (vfs.FD, error) {
	fd, err := fs.table.allocate(d)
	if err != nil {
		return 0, err
	}
	fs.log.WithFields(logrus.Fields{"fd": fd, "record": d.record.Number()}).Debug("descriptor opened")
	return fd, nil
}

func (fs *FS) Close(fd vfs.FD) error {
	if err := fs.table.release(fd); err != nil {
		return err
	}
	fs.log.WithField("fd", fd).Debug("descriptor closed")
	return nil
}

func (fs *FS) Closedir(fd vfs.FD) error {
	return fs.Close(fd)
}

func toFileType(t inode.Type) vfs.FileType {
	if t == inode.TypeDirectory {
		return vfs.FileTypeDirectory
	}
	return vfs.FileTypeRegular
}
