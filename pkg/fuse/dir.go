package fuse

import (
	"context"
	"log"
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

// Dir is the root directory. It holds every file of the image.
type Dir struct {
	fs *FS
}

// Attr sets the attributes of the directory
func (d *Dir) Attr(ctx context.Context, attr *fuse.Attr) error {
	attr.Inode = 1
	attr.Mode = os.ModeDir | 0555
	return nil
}

// Lookup looks up a specific entry in the directory
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	id, typ, err := ParseFileName(name)
	if err != nil {
		return nil, fuse.ENOENT
	}
	entry, err := d.fs.vfs.FileEntry(id)
	if err != nil || entry.Type != typ {
		return nil, fuse.ENOENT
	}
	return &File{fs: d.fs, id: entry.ID, typ: entry.Type}, nil
}

// ReadDirAll returns all entries in the directory
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	files, err := d.fs.vfs.Files()
	if err != nil {
		log.Printf("Listing files failed: %v", err)
		return nil, fuse.EIO
	}
	dirents := make([]fuse.Dirent, 0, len(files))
	for _, f := range files {
		dirents = append(dirents, fuse.Dirent{
			Inode: inode(f.ID),
			Name:  FileName(f.ID, f.Type),
			Type:  fuse.DT_File,
		})
	}
	return dirents, nil
}
