package vfsapi

import (
	"errors"
	"fmt"
	"io"

	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/vfs"
)

type DirectoryIsNotEmpty struct {
	Name string
}

func (d DirectoryIsNotEmpty) Error() string {
	return fmt.Sprintf("directory %s is not empty", d.Name)
}

type DuplicateDirectoryEntry struct {
	Name string
}

func (d DuplicateDirectoryEntry) Error() string {
	return fmt.Sprintf("%s already exists", d.Name)
}

type NotADirectory struct {
	Name string
}

func (n NotADirectory) Error() string {
	return fmt.Sprintf("%s is not a directory", n.Name)
}

var ErrUnsupported = errors.New("operation not supported by driver")

// FS pairs a driver with the volume it operates on.
type FS struct {
	Driver vfs.Driver
	Volume vfs.Volume
}

// File is an open descriptor with io.Reader, io.Writer and io.Seeker
// semantics on top of the driver calls.
type File struct {
	fs     FS
	fd     vfs.FD
	path   string
	isDir  bool
	offset int64
}

// Open opens an existing file or directory.
func Open(fs FS, path string) (*File, error) {
	st, err := fs.Driver.Stat(fs.Volume, path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		fd, err := fs.Driver.Opendir(fs.Volume, path)
		if err != nil {
			return nil, err
		}
		return &File{fs: fs, fd: fd, path: path, isDir: true}, nil
	}
	return openFile(fs, path)
}

// Create opens the regular file at path, creating it when missing.
func Create(fs FS, path string) (*File, error) {
	return openFile(fs, path)
}

func openFile(fs FS, path string) (*File, error) {
	fd, err := fs.Driver.Open(fs.Volume, path)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, fd: fd, path: path}, nil
}

func (f *File) Name() string { return f.path }

func (f *File) IsDir() bool { return f.isDir }

func (f *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.fs.Driver.Read(f.fd, p)
	f.offset += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *File) Write(p []byte) (int, error) {
	n, err := f.fs.Driver.Write(f.fd, p)
	f.offset += int64(n)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		st, err := f.Stat()
		if err != nil {
			return f.offset, err
		}
		offset += int64(st.Size())
	}
	if offset < 0 || offset > int64(^uint32(0)) {
		return f.offset, fmt.Errorf("seek to %d: offset out of range", offset)
	}
	if err := f.fs.Driver.Seek(f.fd, uint32(offset)); err != nil {
		return f.offset, err
	}
	f.offset = offset
	return offset, nil
}

func (f *File) Stat() (FileInfo, error) {
	st, err := f.fs.Driver.Stat(f.fs.Volume, f.path)
	if err != nil {
		return FileInfo{}, err
	}
	return newFileInfo(Base(f.path), st), nil
}

func (f *File) Close() error {
	if f.isDir {
		return f.fs.Driver.Closedir(f.fd)
	}
	return f.fs.Driver.Close(f.fd)
}

// ReadDir lists the directory, "." and ".." included, in entry order.
func (f *File) ReadDir() ([]FileInfo, error) {
	if !f.isDir {
		return nil, NotADirectory{f.path}
	}
	fileInfos := make([]FileInfo, 0)
	for {
		entry, ok, err := f.fs.Driver.Readdir(f.fd)
		if err != nil {
			return fileInfos, err
		}
		if !ok {
			return fileInfos, nil
		}

		st, err := f.fs.Driver.Stat(f.fs.Volume, Join(f.path, entry.Name))
		if err != nil {
			return fileInfos, err
		}
		fileInfos = append(fileInfos, newFileInfo(entry.Name, st))
	}
}

func Mkdir(fs FS, path string) error {
	if Exists(fs, path) {
		return DuplicateDirectoryEntry{path}
	}
	fd, err := fs.Driver.Opendir(fs.Volume, path)
	if err != nil {
		return err
	}
	return fs.Driver.Closedir(fd)
}

// Remove unlinks path from its parent. A directory losing its last name
// must be empty.
func Remove(fs FS, path string) error {
	parent, name := Split(path)
	if name == "" {
		return fmt.Errorf("cannot remove the root directory")
	}

	if _, err := fs.Driver.Stat(fs.Volume, path); err != nil {
		return err
	}

	fd, err := fs.Driver.Opendir(fs.Volume, parent)
	if err != nil {
		return err
	}
	err = fs.Driver.Unlink(fd, name)
	if closeErr := fs.Driver.Closedir(fd); err == nil {
		err = closeErr
	}
	if errors.Is(err, myfs.ErrNonEmptyDirectory) {
		return DirectoryIsNotEmpty{Name: path}
	}
	return err
}

// Link adds a second name for the existing path target.
func Link(fs FS, target, name string) error {
	st, err := fs.Driver.Stat(fs.Volume, target)
	if err != nil {
		return err
	}
	if Exists(fs, name) {
		return DuplicateDirectoryEntry{name}
	}

	parent, leaf := Split(name)
	fd, err := fs.Driver.Opendir(fs.Volume, parent)
	if err != nil {
		return err
	}
	err = fs.Driver.Link(fd, leaf, st.Inumber)
	if closeErr := fs.Driver.Closedir(fd); err == nil {
		err = closeErr
	}
	return err
}

// Rename moves a regular file by linking the new name and dropping the old
// one. Directories cannot be moved.
func Rename(fs FS, src, dst string) error {
	st, err := fs.Driver.Stat(fs.Volume, src)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("cannot move directory %s", src)
	}
	if err := Link(fs, src, dst); err != nil {
		return err
	}
	return Remove(fs, src)
}

func Exists(fs FS, path string) bool {
	_, err := fs.Driver.Stat(fs.Volume, path)
	return err == nil
}

func ReadDir(fs FS, path string) ([]FileInfo, error) {
	f, err := Open(fs, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return f.ReadDir()
}

func ReadFile(fs FS, path string) ([]byte, error) {
	f, err := Open(fs, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	if f.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return io.ReadAll(f)
}

// WriteFile stores data at path. An existing file is replaced by a new
// record since the driver cannot shrink files.
func WriteFile(fs FS, path string, data []byte) error {
	if st, err := fs.Driver.Stat(fs.Volume, path); err == nil {
		if st.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		if err := Remove(fs, path); err != nil {
			return err
		}
	}

	f, err := Create(fs, path)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Check runs the driver's consistency check when it has one.
func Check(fs FS) ([]string, error) {
	checker, ok := fs.Driver.(vfs.Checker)
	if !ok {
		return nil, ErrUnsupported
	}
	return checker.Check(fs.Volume)
}

func FreeBlocks(fs FS) (uint32, error) {
	reporter, ok := fs.Driver.(vfs.SpaceReporter)
	if !ok {
		return 0, ErrUnsupported
	}
	return reporter.FreeBlocks(fs.Volume)
}
