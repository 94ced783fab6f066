// Package fuse mounts a VLFS image as a read-only directory.
package fuse

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"bazil.org/fuse/fs"
	"github.com/example/vlfs/pkg/vlfs"
)

// FS serves the files of one VLFS instance
type FS struct {
	vfs *vlfs.VLFS

	// VLFS opens files exclusively, so reads are taken one at a time.
	readMu sync.Mutex
}

// NewFS creates a file system over an initialized VLFS instance
func NewFS(vfs *vlfs.VLFS) *FS {
	return &FS{vfs: vfs}
}

// Root returns the root directory of the filesystem
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f}, nil
}

// FileName returns the directory entry name of a file: "<id>.<type>".
func FileName(id vlfs.FileID, typ vlfs.FileType) string {
	return fmt.Sprintf("%d.%d", uint64(id), uint16(typ))
}

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (vlfs.FileID, vlfs.FileType, error) {
	idPart, typePart, ok := strings.Cut(name, ".")
	if !ok {
		return 0, 0, fmt.Errorf("bad file name %q", name)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad file id in %q: %w", name, err)
	}
	typ, err := strconv.ParseUint(typePart, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad file type in %q: %w", name, err)
	}
	return vlfs.FileID(id), vlfs.FileType(typ), nil
}

// readFile returns the whole content of a file. A corrupted file returns
// the bytes before the damage along with the error.
func (f *FS) readFile(ctx context.Context, id vlfs.FileID) ([]byte, error) {
	f.readMu.Lock()
	defer f.readMu.Unlock()

	r, err := f.vfs.OpenFileForRead(ctx, id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
