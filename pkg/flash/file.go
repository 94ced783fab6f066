package flash

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileFlash is a NOR flash image stored in a regular file. It is meant for
// host tooling: images pulled from a device can be inspected and new images
// can be prepared before flashing.
type FileFlash struct {
	mu   sync.Mutex
	file *os.File
	size uint32

	// Sync forces an fsync after every mutation.
	Sync bool
}

// OpenFileFlash opens or creates the image at path. A new or short image is
// extended to size bytes of erased (0xFF) flash.
func OpenFileFlash(path string, size uint32) (*FileFlash, error) {
	if size%Block64KiB != 0 {
		return nil, fmt.Errorf("image size %d is not a multiple of 64KiB", size)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat flash image: %w", err)
	}

	// Pad the image with erased flash
	if info.Size() < int64(size) {
		erased := make([]byte, SectorSize)
		for i := range erased {
			erased[i] = 0xFF
		}
		for off := info.Size(); off < int64(size); {
			n := int64(len(erased))
			if int64(size)-off < n {
				n = int64(size) - off
			}
			if _, err := file.WriteAt(erased[:n], off); err != nil {
				file.Close()
				return nil, fmt.Errorf("failed to extend flash image: %w", err)
			}
			off += n
		}
	}

	return &FileFlash{file: file, size: size}, nil
}

// Close closes the underlying file.
func (f *FileFlash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// Size implements Flash.
func (f *FileFlash) Size() uint32 {
	return f.size
}

// Reset implements Flash.
func (f *FileFlash) Reset(ctx context.Context) error {
	return nil
}

func (f *FileFlash) sync() error {
	if !f.Sync {
		return nil
	}
	return f.file.Sync()
}

func (f *FileFlash) erase(op string, address, unit uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkErase(op, f.size, address, unit); err != nil {
		return err
	}

	erased := make([]byte, unit)
	for i := range erased {
		erased[i] = 0xFF
	}
	if _, err := f.file.WriteAt(erased, int64(address)); err != nil {
		return &OpError{Op: op, Address: address, Err: err}
	}
	return f.sync()
}

// EraseSector4KiB implements Flash.
func (f *FileFlash) EraseSector4KiB(ctx context.Context, address uint32) error {
	return f.erase("erase 4KiB", address, SectorSize)
}

// EraseBlock32KiB implements Flash.
func (f *FileFlash) EraseBlock32KiB(ctx context.Context, address uint32) error {
	return f.erase("erase 32KiB", address, Block32KiB)
}

// EraseBlock64KiB implements Flash.
func (f *FileFlash) EraseBlock64KiB(ctx context.Context, address uint32) error {
	return f.erase("erase 64KiB", address, Block64KiB)
}

// Read4KiB implements Flash.
func (f *FileFlash) Read4KiB(ctx context.Context, address uint32, length int, buf []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkRead("read", f.size, address, length, buf); err != nil {
		return nil, err
	}

	out := buf[FramingSize : FramingSize+length]
	if _, err := f.file.ReadAt(out, int64(address)); err != nil && err != io.EOF {
		return nil, &OpError{Op: "read", Address: address, Err: err}
	}
	return out, nil
}

// Write256B implements Flash. The page is ANDed into the image.
func (f *FileFlash) Write256B(ctx context.Context, address uint32, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkWrite("write", f.size, address, buf); err != nil {
		return err
	}

	var page [PageSize]byte
	if _, err := f.file.ReadAt(page[:], int64(address)); err != nil && err != io.EOF {
		return &OpError{Op: "write", Address: address, Err: err}
	}
	for i := range page {
		page[i] &= buf[FramingSize+i]
	}
	if _, err := f.file.WriteAt(page[:], int64(address)); err != nil {
		return &OpError{Op: "write", Address: address, Err: err}
	}
	return f.sync()
}
