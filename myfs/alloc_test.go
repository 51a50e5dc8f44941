package myfs_test

import (
	"testing"

	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

func formatted(t *testing.T, size uint64, blockSize uint32, options ...myfs.Option) (*myfs.FS, *vfs.MemVolume, uint32) {
	t.Helper()
	v := vfs.NewMemVolume(size, vfs.DefaultSectorSize)
	fs := myfs.New(options...)
	free, err := fs.Format(v, blockSize)
	require.NoError(t, err)
	return fs, v, free
}

func TestAllocateDeterministic(t *testing.T) {
	_, v, _ := formatted(t, mib, 1024)

	sb, err := myfs.ReadSuperblock(v)
	require.NoError(t, err)
	require.Equal(t, uint32(66), sb.FirstBlock)
	require.Equal(t, uint32(991), sb.BlockCount)

	// The root directory holds the first block.
	first, err := myfs.AllocateBlock(v)
	require.NoError(t, err)
	require.Equal(t, uint32(68), first)

	second, err := myfs.AllocateBlock(v)
	require.NoError(t, err)
	require.Equal(t, uint32(70), second)

	require.NoError(t, myfs.FreeBlock(v, first))
	again, err := myfs.AllocateBlock(v)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestAllocateNeverRepeats(t *testing.T) {
	_, v, free := formatted(t, 32*1024, 1024)
	sb, err := myfs.ReadSuperblock(v)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for i := uint32(0); i < free; i++ {
		addr, err := myfs.AllocateBlock(v)
		require.NoError(t, err)
		require.False(t, seen[addr], "block %d handed out twice", addr)
		seen[addr] = true

		index, err := sb.BlockIndex(addr, v.SectorSize())
		require.NoError(t, err)
		require.Less(t, index, sb.BlockCount)
	}

	_, err = myfs.AllocateBlock(v)
	require.ErrorIs(t, err, myfs.ErrExhausted)
}

func TestFreeBlockOutOfRange(t *testing.T) {
	_, v, _ := formatted(t, mib, 1024)

	for _, addr := range []uint32{0, 64, 67, 66 + 991*2} {
		err := myfs.FreeBlock(v, addr)
		require.ErrorIs(t, err, myfs.ErrOutOfRange, "address %d", addr)
	}
}

func TestAllocatorRequiresFormat(t *testing.T) {
	v := vfs.NewMemVolume(mib, vfs.DefaultSectorSize)

	_, err := myfs.AllocateBlock(v)
	require.ErrorIs(t, err, myfs.ErrNotFormatted)
	require.ErrorIs(t, myfs.FreeBlock(v, 100), myfs.ErrNotFormatted)
}

func TestCountFreeBlocks(t *testing.T) {
	fs, v, free := formatted(t, mib, 1024)
	require.Equal(t, uint32(990), free)

	_, err := myfs.AllocateBlock(v)
	require.NoError(t, err)

	n, err := fs.FreeBlocks(v)
	require.NoError(t, err)
	require.Equal(t, free-1, n)
}
