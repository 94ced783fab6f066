package fuse

import (
	"context"
	"errors"
	"log"
	"syscall"

	"bazil.org/fuse"
	"github.com/example/vlfs/pkg/vlfs"
)

// File is one VLFS file
type File struct {
	fs  *FS
	id  vlfs.FileID
	typ vlfs.FileType
}

// inode numbers files after the root directory.
func inode(id vlfs.FileID) uint64 {
	return uint64(id) + 2
}

// Attr sets the attributes of the file
func (f *File) Attr(ctx context.Context, attr *fuse.Attr) error {
	size, _, err := f.fs.vfs.FileSize(ctx, f.id)
	if err != nil {
		return toErrno(err)
	}
	attr.Inode = inode(f.id)
	attr.Mode = 0444
	attr.Size = size
	return nil
}

// ReadAll reads all content from the file
func (f *File) ReadAll(ctx context.Context) ([]byte, error) {
	data, err := f.fs.readFile(ctx, f.id)
	if err != nil {
		log.Printf("Read of %s failed after %d bytes: %v", FileName(f.id, f.typ), len(data), err)
		return nil, toErrno(err)
	}
	return data, nil
}

func toErrno(err error) error {
	switch {
	case errors.Is(err, vlfs.ErrFileDoesNotExist):
		return fuse.ENOENT
	case errors.Is(err, vlfs.ErrFileInUse), errors.Is(err, vlfs.ErrTooManyFilesOpen):
		return fuse.Errno(syscall.EBUSY)
	default:
		return fuse.EIO
	}
}
