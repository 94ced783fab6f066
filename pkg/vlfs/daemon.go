package vlfs

import (
	"context"
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/example/vlfs/pkg/flash"
)

type entryKind int

const (
	entryEraseSector entryKind = iota
	entryEraseBlock64
	entryWritePage
	entryBarrier
)

func (k entryKind) String() string {
	switch k {
	case entryEraseSector:
		return "erase sector"
	case entryEraseBlock64:
		return "erase block"
	case entryWritePage:
		return "write page"
	case entryBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// queueEntry is one pending flash mutation.
type queueEntry struct {
	kind    entryKind
	address uint32

	// crcOffset is the payload offset the page CRC is stored at, computed
	// over the payload before it. -1 leaves the page untouched.
	crcOffset int
	data      [flash.WriteBufferSize]byte

	done chan error
}

func eraseSectorEntry(address uint32) queueEntry {
	return queueEntry{kind: entryEraseSector, address: address, crcOffset: -1}
}

func writePageEntry(address uint32, crcOffset int, data *[flash.WriteBufferSize]byte) queueEntry {
	return queueEntry{kind: entryWritePage, address: address, crcOffset: crcOffset, data: *data}
}

// daemon is the only writer of the flash chip. It applies queued entries in
// order; a failed entry does not stop later ones, its error is kept and
// handed to the next barrier.
type daemon struct {
	dev     *device
	queue   chan queueEntry
	timeout time.Duration
	logger  *log.Logger
	verbose bool

	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func newDaemon(dev *device, depth int, timeout time.Duration, logger *log.Logger, verbose bool) *daemon {
	return &daemon{
		dev:      dev,
		queue:    make(chan queueEntry, depth),
		timeout:  timeout,
		logger:   logger,
		verbose:  verbose,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (d *daemon) start() {
	go d.run()
}

func (d *daemon) run() {
	defer close(d.finished)
	for {
		select {
		case e := <-d.queue:
			d.apply(e)
		case <-d.quit:
			return
		}
	}
}

func (d *daemon) apply(e queueEntry) {
	ctx := context.Background()
	var err error

	switch e.kind {
	case entryEraseSector:
		err = d.dev.eraseSector(ctx, e.address)
	case entryEraseBlock64:
		err = d.dev.eraseBlock64(ctx, e.address)
	case entryWritePage:
		if e.crcOffset >= 0 {
			payload := e.data[flash.FramingSize:]
			crc := d.dev.calculateCrc(payload[:e.crcOffset])
			binary.BigEndian.PutUint32(payload[e.crcOffset:], crc)
		}
		err = d.dev.writePage(ctx, e.address, &e.data)
	case entryBarrier:
		d.mu.Lock()
		err, d.err = d.err, nil
		d.mu.Unlock()
		e.done <- err
		return
	}

	if d.verbose {
		d.logger.Printf("vlfs: flush %s %#x", e.kind, e.address)
	}
	if err != nil {
		d.logger.Printf("vlfs: %s %#x failed: %v", e.kind, e.address, err)
		d.mu.Lock()
		if d.err == nil {
			d.err = err
		}
		d.mu.Unlock()
	}
}

// enqueue hands e to the daemon. When the queue is full it waits up to the
// configured timeout before giving up with ErrWritingQueueFull.
func (d *daemon) enqueue(ctx context.Context, e queueEntry) error {
	select {
	case <-d.quit:
		return ErrFileSystemClosed
	default:
	}

	select {
	case d.queue <- e:
		return nil
	default:
	}
	if d.timeout <= 0 {
		return ErrWritingQueueFull
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case d.queue <- e:
		return nil
	case <-timer.C:
		return ErrWritingQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrFileSystemClosed
	}
}

// sync waits until every entry enqueued before it has been applied and
// returns the first flash error seen since the previous sync.
func (d *daemon) sync(ctx context.Context) error {
	done := make(chan error, 1)
	if err := d.enqueue(ctx, queueEntry{kind: entryBarrier, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.finished:
		select {
		case err := <-done:
			return err
		default:
			return ErrFileSystemClosed
		}
	}
}

// stop makes the daemon exit once it is idle. Entries still queued are
// dropped; callers sync first.
func (d *daemon) stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
	<-d.finished
}
