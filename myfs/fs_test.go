package myfs_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, fs *myfs.FS, fd vfs.FD) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 700)
	for {
		n, err := fs.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			return out.Bytes()
		}
		out.Write(buf[:n])
	}
}

func listDir(t *testing.T, fs *myfs.FS, v vfs.Volume, path string) []vfs.DirEntry {
	t.Helper()
	fd, err := fs.Opendir(v, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, fs.Closedir(fd)) }()

	var entries []vfs.DirEntry
	for {
		entry, ok, err := fs.Readdir(fd)
		require.NoError(t, err)
		if !ok {
			return entries
		}
		entries = append(entries, entry)
	}
}

func names(entries []vfs.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Name)
	}
	return out
}

func requireConsistent(t *testing.T, fs *myfs.FS, v vfs.Volume) {
	t.Helper()
	problems, err := fs.Check(v)
	require.NoError(t, err)
	require.Empty(t, problems)
}

func TestFormatScenario(t *testing.T) {
	fs, v, free := formatted(t, mib, 512)
	require.Greater(t, free, uint32(0))

	root := uint32(myfs.RootID)
	require.Equal(t, []vfs.DirEntry{{Name: ".", Inumber: root}, {Name: "..", Inumber: root}}, listDir(t, fs, v, "/"))

	_, err := fs.Open(v, "/a/b.txt")
	require.ErrorIs(t, err, myfs.ErrNotFound)

	dir, err := fs.Opendir(v, "/a")
	require.NoError(t, err)
	require.NoError(t, fs.Closedir(dir))

	fd, err := fs.Open(v, "/a/b.txt")
	require.NoError(t, err)
	n, err := fs.Write(fd, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, fs.Seek(fd, 0))
	require.Equal(t, []byte("hi"), readAll(t, fs, fd))
	require.NoError(t, fs.Close(fd))

	requireConsistent(t, fs, v)
}

func TestFormatTooSmall(t *testing.T) {
	fs := myfs.New()

	_, err := fs.Format(vfs.NewMemVolume(4096, vfs.DefaultSectorSize), 512)
	require.ErrorIs(t, err, myfs.ErrVolumeTooSmall)

	_, err = fs.Format(vfs.NewMemVolume(mib, vfs.DefaultSectorSize), 700)
	require.ErrorIs(t, err, myfs.ErrInvalidBlockSize)
}

func TestRootReferenceCount(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	st, err := fs.Stat(v, "/")
	require.NoError(t, err)
	require.True(t, st.IsDir())
	require.Equal(t, uint32(2), st.RefCount)
	require.Equal(t, uint32(2*myfs.EntrySize), st.Size)

	dir, err := fs.Opendir(v, "/sub")
	require.NoError(t, err)
	require.NoError(t, fs.Closedir(dir))

	st, err = fs.Stat(v, "/")
	require.NoError(t, err)
	require.Equal(t, uint32(3), st.RefCount)

	sub, err := fs.Stat(v, "/sub")
	require.NoError(t, err)
	require.Equal(t, uint32(2), sub.RefCount)

	require.Equal(t, []vfs.DirEntry{
		{Name: ".", Inumber: sub.Inumber},
		{Name: "..", Inumber: uint32(myfs.RootID)},
	}, listDir(t, fs, v, "/sub"))
	requireConsistent(t, fs, v)
}

func TestReadWriteRoundTrip(t *testing.T) {
	for _, size := range []int{1, 511, 512, 1024, 3000, 4096, 10000} {
		fs, v, _ := formatted(t, mib, 1024)

		data := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(data)

		fd, err := fs.Open(v, "/data.bin")
		require.NoError(t, err)
		n, err := fs.Write(fd, data)
		require.NoError(t, err)
		require.Equal(t, size, n)

		require.NoError(t, fs.Seek(fd, 0))
		require.Equal(t, data, readAll(t, fs, fd), "size %d", size)
		require.NoError(t, fs.Close(fd))

		// A fresh descriptor sees the persisted size.
		fd, err = fs.Open(v, "/data.bin")
		require.NoError(t, err)
		require.Equal(t, data, readAll(t, fs, fd), "size %d", size)
		require.NoError(t, fs.Close(fd))

		requireConsistent(t, fs, v)
	}
}

func TestOverwriteKeepsSize(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, fs.Seek(fd, 6))
	_, err = fs.Write(fd, []byte("WORLD"))
	require.NoError(t, err)

	require.NoError(t, fs.Seek(fd, 0))
	require.Equal(t, []byte("hello WORLD"), readAll(t, fs, fd))
	require.NoError(t, fs.Close(fd))

	st, err := fs.Stat(v, "/f")
	require.NoError(t, err)
	require.Equal(t, uint32(11), st.Size)
}

func TestSeekPastEndLeavesZeroGap(t *testing.T) {
	fs, v, _ := formatted(t, mib, 512)

	fd, err := fs.Open(v, "/sparse")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(fd, 2000))
	n, err := fs.Write(fd, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, fs.Seek(fd, 0))
	want := append(make([]byte, 2000), 'x')
	require.Equal(t, want, readAll(t, fs, fd))
	require.NoError(t, fs.Close(fd))

	st, err := fs.Stat(v, "/sparse")
	require.NoError(t, err)
	require.Equal(t, uint32(2001), st.Size)
	require.Equal(t, 4, st.Blocks)
	requireConsistent(t, fs, v)
}

func TestWriteStopsWhenVolumeIsFull(t *testing.T) {
	fs, v, free := formatted(t, 32*1024, 1024)
	require.Equal(t, uint32(29), free)

	fd, err := fs.Open(v, "/big")
	require.NoError(t, err)
	n, err := fs.Write(fd, make([]byte, 40000))
	require.NoError(t, err)
	require.Equal(t, 29*1024, n)
	require.NoError(t, fs.Close(fd))

	left, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Zero(t, left)

	_, err = fs.Opendir(v, "/d")
	require.ErrorIs(t, err, myfs.ErrExhausted)
	requireConsistent(t, fs, v)
}

func TestWriteStopsWhenBlockListIsFull(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/big")
	require.NoError(t, err)
	n, err := fs.Write(fd, make([]byte, 70000))
	require.NoError(t, err)
	require.Equal(t, 60*1024, n)
	require.NoError(t, fs.Close(fd))
	requireConsistent(t, fs, v)
}

func TestWritePastBlockListWritesNothing(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	before, err := fs.FreeBlocks(v)
	require.NoError(t, err)

	require.NoError(t, fs.Seek(fd, 100*1024))
	n, err := fs.Write(fd, []byte("x"))
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, fs.Close(fd))

	after, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Equal(t, before, after)

	st, err := fs.Stat(v, "/f")
	require.NoError(t, err)
	require.Zero(t, st.Size)
	require.Equal(t, 1, st.Blocks)
	requireConsistent(t, fs, v)
}

func TestFailedGapWriteReleasesBlocks(t *testing.T) {
	fs, v, _ := formatted(t, 32*1024, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	before, err := fs.FreeBlocks(v)
	require.NoError(t, err)

	// The gap needs more blocks than the volume has left.
	require.NoError(t, fs.Seek(fd, 40*1024))
	n, err := fs.Write(fd, []byte("x"))
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, fs.Close(fd))

	after, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Equal(t, before, after)

	st, err := fs.Stat(v, "/f")
	require.NoError(t, err)
	require.Zero(t, st.Size)
	require.Equal(t, 1, st.Blocks)
	requireConsistent(t, fs, v)
}

func TestRecordTableFull(t *testing.T) {
	fs, v, _ := formatted(t, 32*1024, 1024)

	for _, name := range []string{"/a", "/b"} {
		fd, err := fs.Open(v, name)
		require.NoError(t, err)
		require.NoError(t, fs.Close(fd))
	}

	_, err := fs.Open(v, "/c")
	require.ErrorIs(t, err, myfs.ErrNoFreeRecord)
	requireConsistent(t, fs, v)
}

func TestLinkAndReaddir(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	st, err := fs.Stat(v, "/f")
	require.NoError(t, err)
	require.Equal(t, uint32(1), st.RefCount)

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.NoError(t, fs.Link(root, "g", st.Inumber))
	require.NoError(t, fs.Closedir(root))

	linked, err := fs.Stat(v, "/g")
	require.NoError(t, err)
	require.Equal(t, st.Inumber, linked.Inumber)
	require.Equal(t, uint32(2), linked.RefCount)

	require.Contains(t, listDir(t, fs, v, "/"), vfs.DirEntry{Name: "g", Inumber: st.Inumber})
	requireConsistent(t, fs, v)
}

func TestLinkRejectsBadTargets(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	require.ErrorIs(t, fs.Link(fd, "x", uint32(myfs.RootID)), myfs.ErrWrongType)
	require.NoError(t, fs.Close(fd))

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.ErrorIs(t, fs.Link(root, "x", 50), myfs.ErrNotFound)
	require.ErrorIs(t, fs.Link(root, "a/b", uint32(myfs.RootID)), myfs.ErrInvalidName)
	require.NoError(t, fs.Closedir(root))

	_, _, err = fs.Readdir(fd)
	require.ErrorIs(t, err, myfs.ErrBadDescriptor)
}

func TestUnlinkReclaimsStorage(t *testing.T) {
	fs, v, free := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	_, err = fs.Write(fd, make([]byte, 5000))
	require.NoError(t, err)
	st, err := fs.Stat(v, "/f")
	require.NoError(t, err)

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.NoError(t, fs.Link(root, "g", st.Inumber))

	// Dropping one of two names keeps the data.
	require.NoError(t, fs.Unlink(root, "g"))
	st, err = fs.Stat(v, "/f")
	require.NoError(t, err)
	require.Equal(t, uint32(1), st.RefCount)
	require.Equal(t, uint32(5000), st.Size)

	require.ErrorIs(t, fs.Unlink(root, "f"), myfs.ErrStillReferenced)
	require.NoError(t, fs.Close(fd))
	require.NoError(t, fs.Unlink(root, "f"))
	require.NoError(t, fs.Closedir(root))

	_, err = fs.Stat(v, "/f")
	require.ErrorIs(t, err, myfs.ErrNotFound)

	// The root grew into a second block for "g" and keeps it.
	left, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Equal(t, free-1, left)
	requireConsistent(t, fs, v)

	// The name is free again and opening it makes a new empty record.
	fd, err = fs.Open(v, "/f")
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))
	st, err = fs.Stat(v, "/f")
	require.NoError(t, err)
	require.Equal(t, uint32(0), st.Size)
	require.Equal(t, uint32(1), st.RefCount)
	requireConsistent(t, fs, v)
}

func TestUnlinkCompactsDirectory(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	for _, name := range []string{"/a", "/b", "/c", "/d"} {
		fd, err := fs.Open(v, name)
		require.NoError(t, err)
		require.NoError(t, fs.Close(fd))
	}

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(root, "b"))
	require.ErrorIs(t, fs.Unlink(root, "b"), myfs.ErrNotFound)
	require.NoError(t, fs.Closedir(root))

	var names []string
	for _, entry := range listDir(t, fs, v, "/") {
		names = append(names, entry.Name)
	}
	require.Equal(t, []string{".", "..", "a", "c", "d"}, names)

	st, err := fs.Stat(v, "/")
	require.NoError(t, err)
	require.Equal(t, uint32(5*myfs.EntrySize), st.Size)
	requireConsistent(t, fs, v)
}

func TestUnlinkDirectory(t *testing.T) {
	fs, v, free := formatted(t, mib, 1024)

	dir, err := fs.Opendir(v, "/d")
	require.NoError(t, err)
	require.NoError(t, fs.Closedir(dir))
	fd, err := fs.Open(v, "/d/x")
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.ErrorIs(t, fs.Unlink(root, "d"), myfs.ErrNonEmptyDirectory)
	require.ErrorIs(t, fs.Unlink(root, "."), myfs.ErrReservedName)
	require.ErrorIs(t, fs.Unlink(root, ".."), myfs.ErrReservedName)

	dir, err = fs.Opendir(v, "/d")
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(dir, "x"))
	require.ErrorIs(t, fs.Unlink(root, "d"), myfs.ErrStillReferenced)
	require.NoError(t, fs.Closedir(dir))

	require.NoError(t, fs.Unlink(root, "d"))
	require.NoError(t, fs.Closedir(root))

	st, err := fs.Stat(v, "/")
	require.NoError(t, err)
	require.Equal(t, uint32(2), st.RefCount)

	left, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Equal(t, free, left)
	requireConsistent(t, fs, v)
}

func TestUnlinkExtraDirectoryName(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	dir, err := fs.Opendir(v, "/d")
	require.NoError(t, err)
	require.NoError(t, fs.Closedir(dir))
	fd, err := fs.Open(v, "/d/x")
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))
	st, err := fs.Stat(v, "/d")
	require.NoError(t, err)

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.NoError(t, fs.Link(root, "alias", st.Inumber))

	require.NoError(t, fs.Unlink(root, "alias"))
	st, err = fs.Stat(v, "/d")
	require.NoError(t, err)
	require.Equal(t, uint32(2), st.RefCount)
	require.Equal(t, []string{".", "..", "x"}, names(listDir(t, fs, v, "/d")))

	require.ErrorIs(t, fs.Unlink(root, "d"), myfs.ErrNonEmptyDirectory)
	require.NoError(t, fs.Closedir(root))
	requireConsistent(t, fs, v)
}

func TestUnlinkDirectoryWithSubdirectory(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	for _, path := range []string{"/d", "/d/sub"} {
		dir, err := fs.Opendir(v, path)
		require.NoError(t, err)
		require.NoError(t, fs.Closedir(dir))
	}

	// "d" is its only name even though "sub/.." raises its count.
	st, err := fs.Stat(v, "/d")
	require.NoError(t, err)
	require.Equal(t, uint32(3), st.RefCount)

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.ErrorIs(t, fs.Unlink(root, "d"), myfs.ErrNonEmptyDirectory)
	require.NoError(t, fs.Closedir(root))

	_, err = fs.Stat(v, "/d/sub")
	require.NoError(t, err)
	requireConsistent(t, fs, v)
}

func TestUnlinkDirectoryThroughOtherParent(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	for _, path := range []string{"/d", "/e"} {
		dir, err := fs.Opendir(v, path)
		require.NoError(t, err)
		require.NoError(t, fs.Closedir(dir))
	}
	st, err := fs.Stat(v, "/d")
	require.NoError(t, err)

	e, err := fs.Opendir(v, "/e")
	require.NoError(t, err)
	require.NoError(t, fs.Link(e, "alias", st.Inumber))

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(root, "d"))
	require.NoError(t, fs.Closedir(root))

	// The last name lives in /e but the ".." backlink pointed at the root.
	require.NoError(t, fs.Unlink(e, "alias"))
	require.NoError(t, fs.Closedir(e))

	st, err = fs.Stat(v, "/")
	require.NoError(t, err)
	require.Equal(t, uint32(3), st.RefCount)
	st, err = fs.Stat(v, "/e")
	require.NoError(t, err)
	require.Equal(t, uint32(2), st.RefCount)
	requireConsistent(t, fs, v)
}

func TestUnlinkOpenNonEmptyDirectory(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	dir, err := fs.Opendir(v, "/d")
	require.NoError(t, err)
	fd, err := fs.Open(v, "/d/x")
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	root, err := fs.Opendir(v, "/")
	require.NoError(t, err)
	require.ErrorIs(t, fs.Unlink(root, "d"), myfs.ErrStillReferenced)
	require.NoError(t, fs.Closedir(dir))
	require.ErrorIs(t, fs.Unlink(root, "d"), myfs.ErrNonEmptyDirectory)
	require.NoError(t, fs.Closedir(root))
}

func TestOpendirUndoesHalfBuiltDirectory(t *testing.T) {
	fs, v, free := formatted(t, mib, 512)

	// Leave one block: enough for the new record and ".", not "..".
	var held []uint32
	for i := uint32(0); i < free-1; i++ {
		addr, err := myfs.AllocateBlock(v)
		require.NoError(t, err)
		held = append(held, addr)
	}

	_, err := fs.Opendir(v, "/d")
	require.ErrorIs(t, err, myfs.ErrExhausted)

	_, err = fs.Stat(v, "/d")
	require.ErrorIs(t, err, myfs.ErrNotFound)
	st, err := fs.Stat(v, "/")
	require.NoError(t, err)
	require.Equal(t, uint32(2), st.RefCount)
	require.Equal(t, []string{".", ".."}, names(listDir(t, fs, v, "/")))

	left, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Equal(t, uint32(1), left)

	for _, addr := range held {
		require.NoError(t, myfs.FreeBlock(v, addr))
	}
	requireConsistent(t, fs, v)
}

func TestOpendirRejectsFile(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	_, err = fs.Opendir(v, "/f")
	require.ErrorIs(t, err, myfs.ErrWrongType)
	_, err = fs.Open(v, "/f/g")
	require.ErrorIs(t, err, myfs.ErrWrongType)
}

func TestDescriptorTableFull(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024, myfs.WithTableCapacity(2))

	a, err := fs.Open(v, "/a")
	require.NoError(t, err)
	b, err := fs.Open(v, "/b")
	require.NoError(t, err)
	require.Equal(t, vfs.FD(1), a)
	require.Equal(t, vfs.FD(2), b)

	_, err = fs.Open(v, "/c")
	require.ErrorIs(t, err, myfs.ErrDescriptorTableFull)
	_, err = fs.Stat(v, "/c")
	require.ErrorIs(t, err, myfs.ErrNotFound)

	require.False(t, fs.IsIdle(v))
	require.NoError(t, fs.Close(a))
	require.NoError(t, fs.Close(b))
	require.True(t, fs.IsIdle(v))
	require.ErrorIs(t, fs.Close(b), myfs.ErrBadDescriptor)
}

func TestIdleIsPerVolume(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)
	other := vfs.NewMemVolume(mib, vfs.DefaultSectorSize)
	_, err := fs.Format(other, 1024)
	require.NoError(t, err)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)
	require.False(t, fs.IsIdle(v))
	require.True(t, fs.IsIdle(other))
	require.NoError(t, fs.Close(fd))
}

type faultyVolume struct {
	*vfs.MemVolume
	failWrites bool
}

var errDevice = errors.New("device failure")

func (f *faultyVolume) WriteSector(sector uint32, buf []byte) error {
	if f.failWrites {
		return errDevice
	}
	return f.MemVolume.WriteSector(sector, buf)
}

func TestDeviceFailureSurfacesAsIOError(t *testing.T) {
	v := &faultyVolume{MemVolume: vfs.NewMemVolume(mib, vfs.DefaultSectorSize)}
	fs := myfs.New()
	_, err := fs.Format(v, 1024)
	require.NoError(t, err)

	fd, err := fs.Open(v, "/f")
	require.NoError(t, err)

	v.failWrites = true
	_, err = fs.Write(fd, []byte("data"))
	require.ErrorIs(t, err, myfs.ErrIO)
	require.ErrorIs(t, err, errDevice)

	_, err = fs.Opendir(v, "/d")
	require.ErrorIs(t, err, myfs.ErrIO)
	require.NoError(t, fs.Close(fd))
}

func TestCheckReportsLeakedBlock(t *testing.T) {
	fs, v, _ := formatted(t, mib, 1024)

	addr, err := myfs.AllocateBlock(v)
	require.NoError(t, err)

	problems, err := fs.Check(v)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	require.Contains(t, problems[0], "no record owns it")

	require.NoError(t, myfs.FreeBlock(v, addr))
	requireConsistent(t, fs, v)
}
