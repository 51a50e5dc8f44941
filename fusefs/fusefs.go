// Package fusefs exposes a volume handled by a registered driver as a host
// mount. Every FUSE request is translated into path based driver calls
// under one mutex, since drivers expect serialized callers.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/PapiCZ/myfs/vfsapi"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Mountpoint string
	FS         vfsapi.FS

	// Mu serializes driver calls. Pass the mutex guarding other users of
	// the same driver; a private one is created when nil.
	Mu *sync.Mutex

	FSName     string
	AllowOther bool
	Debug      bool
	Log        logrus.FieldLogger
}

// Mount mounts the volume at the configured mountpoint. The caller must
// Unmount the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.FS.Driver == nil || options.FS.Volume == nil {
		return nil, fmt.Errorf("driver and volume are required")
	}
	if options.Mu == nil {
		options.Mu = &sync.Mutex{}
	}
	if options.FSName == "" {
		options.FSName = myfs.Name
	}
	if options.Log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		options.Log = discard
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &node{options: &options, path: "/"}
	timeout := time.Second
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.FSName,
			Name:       myfs.Name,
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Log.WithField("mountpoint", options.Mountpoint).Info("volume mounted")
	return server, nil
}

// node is a file or directory reached through path.
type node struct {
	gofuse.Inode
	options *Options
	path    string
}

var (
	_ gofuse.InodeEmbedder = (*node)(nil)
	_ gofuse.NodeLookuper  = (*node)(nil)
	_ gofuse.NodeGetattrer = (*node)(nil)
	_ gofuse.NodeSetattrer = (*node)(nil)
	_ gofuse.NodeReaddirer = (*node)(nil)
	_ gofuse.NodeOpener    = (*node)(nil)
	_ gofuse.NodeReader    = (*node)(nil)
	_ gofuse.NodeWriter    = (*node)(nil)
	_ gofuse.NodeCreater   = (*node)(nil)
	_ gofuse.NodeMkdirer   = (*node)(nil)
	_ gofuse.NodeUnlinker  = (*node)(nil)
	_ gofuse.NodeRmdirer   = (*node)(nil)
	_ gofuse.NodeLinker    = (*node)(nil)
	_ gofuse.NodeStatfser  = (*node)(nil)
)

func (n *node) lock() func() {
	n.options.Mu.Lock()
	return n.options.Mu.Unlock
}

func (n *node) fail(op, path string, err error) syscall.Errno {
	errno := toErrno(err)
	if errno == syscall.EIO {
		n.options.Log.WithFields(logrus.Fields{"op": op, "path": path}).WithError(err).Error("fuse request failed")
	}
	return errno
}

func (n *node) child(ctx context.Context, path string, st vfs.Stat, out *fuse.EntryOut) *gofuse.Inode {
	fillAttr(&out.Attr, st)
	mode := uint32(syscall.S_IFREG)
	if st.IsDir() {
		mode = syscall.S_IFDIR
	}
	return n.NewInode(ctx, &node{options: n.options, path: path}, gofuse.StableAttr{Mode: mode, Ino: uint64(st.Inumber)})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	defer n.lock()()
	path := vfsapi.Join(n.path, name)
	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, path)
	if err != nil {
		return nil, n.fail("lookup", path, err)
	}
	return n.child(ctx, path, st, out), 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	defer n.lock()()
	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, n.path)
	if err != nil {
		return n.fail("getattr", n.path, err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

// Setattr accepts only size changes that keep the current size, as
// files cannot be truncated. Mode, owner and time changes are ignored.
func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	defer n.lock()()
	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, n.path)
	if err != nil {
		return n.fail("setattr", n.path, err)
	}
	if size, ok := in.GetSize(); ok && size != uint64(st.Size) {
		return syscall.ENOTSUP
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	defer n.lock()()
	infos, err := vfsapi.ReadDir(n.options.FS, n.path)
	if err != nil {
		return nil, n.fail("readdir", n.path, err)
	}
	entries := make([]fuse.DirEntry, 0, len(infos))
	for _, info := range infos {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		mode := uint32(syscall.S_IFREG)
		if info.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: info.Name(), Ino: uint64(info.Inumber()), Mode: mode})
	}
	return gofuse.NewListDirStream(entries), 0
}

// Open hands out no file handle; reads and writes reopen the path.
func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	defer n.lock()()
	file, err := vfsapi.Open(n.options.FS, n.path)
	if err != nil {
		return nil, n.fail("read", n.path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := file.Seek(off, io.SeekStart); err != nil {
		return nil, syscall.EINVAL
	}
	read, err := io.ReadFull(file, dest)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, n.fail("read", n.path, err)
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	defer n.lock()()
	file, err := vfsapi.Open(n.options.FS, n.path)
	if err != nil {
		return 0, n.fail("write", n.path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := file.Seek(off, io.SeekStart); err != nil {
		return 0, syscall.EFBIG
	}
	written, err := file.Write(data)
	if errors.Is(err, io.ErrShortWrite) {
		if written == 0 {
			return 0, syscall.ENOSPC
		}
		return uint32(written), 0
	}
	if err != nil {
		return uint32(written), n.fail("write", n.path, err)
	}
	return uint32(written), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	defer n.lock()()
	path := vfsapi.Join(n.path, name)
	if vfsapi.Exists(n.options.FS, path) {
		return nil, nil, 0, syscall.EEXIST
	}
	file, err := vfsapi.Create(n.options.FS, path)
	if err != nil {
		return nil, nil, 0, n.fail("create", path, err)
	}
	_ = file.Close()

	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, path)
	if err != nil {
		return nil, nil, 0, n.fail("create", path, err)
	}
	return n.child(ctx, path, st, out), nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	defer n.lock()()
	path := vfsapi.Join(n.path, name)
	if err := vfsapi.Mkdir(n.options.FS, path); err != nil {
		return nil, n.fail("mkdir", path, err)
	}
	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, path)
	if err != nil {
		return nil, n.fail("mkdir", path, err)
	}
	return n.child(ctx, path, st, out), 0
}

func (n *node) remove(name string, wantDir bool) syscall.Errno {
	defer n.lock()()
	path := vfsapi.Join(n.path, name)
	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, path)
	if err != nil {
		return n.fail("remove", path, err)
	}
	if st.IsDir() && !wantDir {
		return syscall.EISDIR
	}
	if !st.IsDir() && wantDir {
		return syscall.ENOTDIR
	}
	if err := vfsapi.Remove(n.options.FS, path); err != nil {
		return n.fail("remove", path, err)
	}
	return 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(name, false)
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(name, true)
}

func (n *node) Link(ctx context.Context, target gofuse.InodeEmbedder, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	source, ok := target.(*node)
	if !ok {
		return nil, syscall.EXDEV
	}

	defer n.lock()()
	path := vfsapi.Join(n.path, name)
	if err := vfsapi.Link(n.options.FS, source.path, path); err != nil {
		return nil, n.fail("link", path, err)
	}
	st, err := n.options.FS.Driver.Stat(n.options.FS.Volume, path)
	if err != nil {
		return nil, n.fail("link", path, err)
	}
	return n.child(ctx, path, st, out), 0
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	defer n.lock()()
	free, err := vfsapi.FreeBlocks(n.options.FS)
	if err != nil {
		return n.fail("statfs", n.path, err)
	}
	sb, err := myfs.ReadSuperblock(n.options.FS.Volume)
	if err != nil {
		return n.fail("statfs", n.path, err)
	}
	out.Bsize = sb.BlockSize
	out.Frsize = sb.BlockSize
	out.Blocks = uint64(sb.BlockCount)
	out.Bfree = uint64(free)
	out.Bavail = uint64(free)
	out.NameLen = myfs.MaxNameLength
	return 0
}

func fillAttr(out *fuse.Attr, st vfs.Stat) {
	out.Ino = uint64(st.Inumber)
	out.Size = uint64(st.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Nlink = st.RefCount
	if st.IsDir() {
		out.Mode = syscall.S_IFDIR | 0o755
	} else {
		out.Mode = syscall.S_IFREG | 0o644
	}
}

// toErrno maps driver and vfsapi errors onto errno values.
func toErrno(err error) syscall.Errno {
	var (
		notEmpty  vfsapi.DirectoryIsNotEmpty
		duplicate vfsapi.DuplicateDirectoryEntry
		notDir    vfsapi.NotADirectory
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, myfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, myfs.ErrWrongType), errors.As(err, &notDir):
		return syscall.ENOTDIR
	case errors.Is(err, myfs.ErrNonEmptyDirectory), errors.As(err, &notEmpty):
		return syscall.ENOTEMPTY
	case errors.As(err, &duplicate):
		return syscall.EEXIST
	case errors.Is(err, myfs.ErrStillReferenced):
		return syscall.EBUSY
	case errors.Is(err, myfs.ErrExhausted), errors.Is(err, myfs.ErrNoFreeRecord):
		return syscall.ENOSPC
	case errors.Is(err, myfs.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, myfs.ErrInvalidName), errors.Is(err, myfs.ErrReservedName):
		return syscall.EINVAL
	case errors.Is(err, myfs.ErrDescriptorTableFull):
		return syscall.EMFILE
	default:
		return syscall.EIO
	}
}
