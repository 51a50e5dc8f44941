package vfs

// FD is a descriptor handle handed out by a driver. Valid handles are
// positive.
type FD int

type FileType uint8

const (
	FileTypeRegular FileType = iota + 1
	FileTypeDirectory
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "file"
	case FileTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name    string
	Inumber uint32
}

// Stat describes a resolved path.
type Stat struct {
	Inumber  uint32
	Type     FileType
	Size     uint32
	RefCount uint32
	Blocks   int
	// Addrs lists the first sector of every block in chain order.
	Addrs []uint32
}

func (s Stat) IsDir() bool { return s.Type == FileTypeDirectory }

// Driver is the operation set a filesystem implementation registers with
// the switch. Calls must be serialized by the caller.
type Driver interface {
	IsIdle(v Volume) bool
	Format(v Volume, blockSize uint32) (uint32, error)
	Open(v Volume, path string) (FD, error)
	Read(fd FD, p []byte) (int, error)
	Write(fd FD, p []byte) (int, error)
	Seek(fd FD, offset uint32) error
	Close(fd FD) error
	Opendir(v Volume, path string) (FD, error)
	Readdir(fd FD) (DirEntry, bool, error)
	Link(fd FD, name string, inumber uint32) error
	Unlink(fd FD, name string) error
	Closedir(fd FD) error
	Stat(v Volume, path string) (Stat, error)
}

// Checker is implemented by drivers that can verify on-volume consistency.
// A nil slice means no problems were found.
type Checker interface {
	Check(v Volume) ([]string, error)
}

// SpaceReporter is implemented by drivers that can count free blocks.
type SpaceReporter interface {
	FreeBlocks(v Volume) (uint32, error)
}
