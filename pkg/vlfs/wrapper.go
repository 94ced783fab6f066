package vlfs

import (
	"context"
	"sync"

	"github.com/example/vlfs/pkg/flash"
)

// device serializes access to the flash chip and the CRC unit. It hides the
// transport framing bytes every driver call carries.
type device struct {
	flashMu sync.Mutex
	flash   flash.Flash

	crcMu sync.Mutex
	crc   flash.Crc
}

func newDevice(f flash.Flash, c flash.Crc) *device {
	return &device{flash: f, crc: c}
}

func (d *device) size() uint32 {
	return d.flash.Size()
}

// read returns n bytes starting at address, split into driver sized reads.
func (d *device) read(ctx context.Context, address uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, flash.FramingSize+flash.MaxReadLength)

	d.flashMu.Lock()
	defer d.flashMu.Unlock()
	for len(out) < n {
		chunk := n - len(out)
		if chunk > flash.MaxReadLength {
			chunk = flash.MaxReadLength
		}
		at := address + uint32(len(out))
		data, err := d.flash.Read4KiB(ctx, at, chunk, buf)
		if err != nil {
			return nil, &FlashError{Op: "read", Address: at, Err: err}
		}
		out = append(out, data...)
	}
	return out, nil
}

// writePage programs one page. buf is a full driver buffer, framing
// included.
func (d *device) writePage(ctx context.Context, address uint32, buf *[flash.WriteBufferSize]byte) error {
	d.flashMu.Lock()
	defer d.flashMu.Unlock()
	if err := d.flash.Write256B(ctx, address, buf[:]); err != nil {
		return &FlashError{Op: "write", Address: address, Err: err}
	}
	return nil
}

func (d *device) eraseSector(ctx context.Context, address uint32) error {
	d.flashMu.Lock()
	defer d.flashMu.Unlock()
	if err := d.flash.EraseSector4KiB(ctx, address); err != nil {
		return &FlashError{Op: "erase 4KiB", Address: address, Err: err}
	}
	return nil
}

func (d *device) eraseBlock64(ctx context.Context, address uint32) error {
	d.flashMu.Lock()
	defer d.flashMu.Unlock()
	if err := d.flash.EraseBlock64KiB(ctx, address); err != nil {
		return &FlashError{Op: "erase 64KiB", Address: address, Err: err}
	}
	return nil
}

func (d *device) reset(ctx context.Context) error {
	d.flashMu.Lock()
	defer d.flashMu.Unlock()
	if err := d.flash.Reset(ctx); err != nil {
		return &FlashError{Op: "reset", Err: err}
	}
	return nil
}

func (d *device) calculateCrc(data []byte) uint32 {
	d.crcMu.Lock()
	defer d.crcMu.Unlock()
	return flash.Calculate(d.crc, data)
}
