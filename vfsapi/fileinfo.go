package vfsapi

import "github.com/PapiCZ/myfs/vfs"

type FileInfo struct {
	name     string
	size     uint32
	isDir    bool
	inumber  uint32
	refCount uint32
	blocks   int
	addrs    []uint32
}

func newFileInfo(name string, st vfs.Stat) FileInfo {
	return FileInfo{
		name:     name,
		size:     st.Size,
		isDir:    st.IsDir(),
		inumber:  st.Inumber,
		refCount: st.RefCount,
		blocks:   st.Blocks,
		addrs:    st.Addrs,
	}
}

func (fi FileInfo) Name() string {
	return fi.name
}

func (fi FileInfo) Size() uint32 {
	return fi.size
}

func (fi FileInfo) IsDir() bool {
	return fi.isDir
}

func (fi FileInfo) Inumber() uint32 {
	return fi.inumber
}

func (fi FileInfo) RefCount() uint32 {
	return fi.refCount
}

func (fi FileInfo) Blocks() int {
	return fi.blocks
}

// BlockAddrs lists the first sector of each block of the file.
func (fi FileInfo) BlockAddrs() []uint32 {
	return fi.addrs
}
