package myfs

import "fmt"

type constErr string

func (e constErr) Error() string { return string(e) }

const (
	ErrNotFormatted        constErr = "volume is not formatted as myfs"
	ErrExhausted           constErr = "no free block"
	ErrOutOfRange          constErr = "block address out of range"
	ErrDescriptorTableFull constErr = "descriptor table is full"
	ErrNotFound            constErr = "not found"
	ErrWrongType           constErr = "wrong file type"
	ErrStillReferenced     constErr = "record is still referenced by an open descriptor"
	ErrNonEmptyDirectory   constErr = "directory is not empty"
	ErrIO                  constErr = "i/o error"
	ErrNameTooLong         constErr = "name too long"
	ErrReservedName        constErr = "reserved name"
	ErrBadDescriptor       constErr = "bad descriptor"
	ErrVolumeTooSmall      constErr = "volume too small"
	ErrInvalidBlockSize    constErr = "invalid block size"
	ErrNoFreeRecord        constErr = "no free record"
	ErrInvalidName         constErr = "invalid name"
)

type OutOfRange struct {
	Addr       uint32
	FirstBlock uint32
	BlockCount uint32
}

func (o OutOfRange) Error() string {
	return fmt.Sprintf("block address %d outside allocatable region starting at %d with %d blocks", o.Addr, o.FirstBlock, o.BlockCount)
}

func (o OutOfRange) Is(target error) bool { return target == ErrOutOfRange }

type DirectoryEntryNotFound struct {
	Name string
}

func (d DirectoryEntryNotFound) Error() string {
	return fmt.Sprintf("directory entry with name %s was not found", d.Name)
}

func (d DirectoryEntryNotFound) Is(target error) bool { return target == ErrNotFound }

// IOError wraps a failure of the underlying volume.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioError(op string, err error) error {
	return &IOError{Op: op, Err: err}
}
