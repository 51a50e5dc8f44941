package inode_test

import (
	"testing"

	"github.com/PapiCZ/myfs/inode"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, count uint32) *inode.Table {
	t.Helper()
	v := vfs.NewMemVolume(64*1024, vfs.DefaultSectorSize)
	table, err := inode.Format(v, count)
	require.NoError(t, err)
	return table
}

func TestGeometry(t *testing.T) {
	require.Equal(t, uint32(2), inode.RecordsPerSector(512))
	require.Equal(t, uint32(3), inode.TableSectors(5, 512))
	require.Equal(t, uint32(3), inode.TableSectors(6, 512))
}

func TestFormatRoundsUpToSectors(t *testing.T) {
	table := newTable(t, 5)
	require.Equal(t, uint32(6), table.Count())
}

func TestCreateLoadSave(t *testing.T) {
	table := newTable(t, 8)

	r, err := table.Create(3)
	require.NoError(t, err)
	r.SetType(inode.TypeDirectory)
	r.SetSize(520)
	r.SetRefCount(2)
	require.NoError(t, r.AddBlock(100))
	require.NoError(t, r.AddBlock(102))
	require.NoError(t, r.Save())

	loaded, err := table.Load(3)
	require.NoError(t, err)
	require.Equal(t, inode.ID(3), loaded.Number())
	require.Equal(t, inode.TypeDirectory, loaded.Type())
	require.Equal(t, uint32(520), loaded.Size())
	require.Equal(t, uint32(2), loaded.RefCount())
	require.Equal(t, 2, loaded.BlockCount())
	require.Equal(t, uint32(102), loaded.BlockAddr(1))
	require.Zero(t, loaded.BlockAddr(2))

	// Neighbours in the same sector are untouched.
	_, err = table.Load(2)
	require.ErrorIs(t, err, inode.ErrNotFound)
}

func TestLoadRejectsInvalidIDs(t *testing.T) {
	table := newTable(t, 4)

	for _, id := range []inode.ID{0, 4, 100} {
		_, err := table.Load(id)
		require.ErrorIs(t, err, inode.ErrNotFound, "record %d", id)
	}
	_, err := table.Create(0)
	require.ErrorIs(t, err, inode.ErrNotFound)
}

func TestFindFreeAndClear(t *testing.T) {
	table := newTable(t, 4)

	id, err := table.FindFree(2)
	require.NoError(t, err)
	require.Equal(t, inode.ID(2), id)

	r2, err := table.Create(2)
	require.NoError(t, err)
	_, err = table.Create(3)
	require.NoError(t, err)

	_, err = table.FindFree(2)
	require.ErrorIs(t, err, inode.ErrNoFreeRecord)

	require.NoError(t, r2.Clear())
	id, err = table.FindFree(2)
	require.NoError(t, err)
	require.Equal(t, inode.ID(2), id)
}

func TestBlockListFull(t *testing.T) {
	table := newTable(t, 4)
	r, err := table.Create(1)
	require.NoError(t, err)

	for i := 0; i < inode.DirectBlocks; i++ {
		require.NoError(t, r.AddBlock(uint32(10+i)))
	}
	require.ErrorIs(t, r.AddBlock(99), inode.ErrBlockListFull)
	require.ErrorIs(t, r.SetBlockAddr(inode.DirectBlocks, 1), inode.ErrBlockListFull)
	require.Equal(t, inode.DirectBlocks, r.BlockCount())
}
