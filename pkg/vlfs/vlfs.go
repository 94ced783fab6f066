// Package vlfs implements a log-structured file system on raw NOR flash.
//
// Files are flat, typed and identified by a 64-bit id. Their data lives in
// chains of 4 KiB sectors; a small double-buffered allocation table maps
// every file to the head of its chain. All flash mutation goes through a
// single daemon goroutine so that writes land in the order they were
// issued.
package vlfs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/vlfs/pkg/flash"
)

// Config holds file system tunables.
type Config struct {
	// QueueDepth is the capacity of the daemon's queue.
	QueueDepth int

	// EnqueueTimeout bounds how long a caller waits for room in a full
	// queue before getting ErrWritingQueueFull.
	EnqueueTimeout time.Duration

	// MaxFiles limits the number of files. 0 means as many as a table slot
	// holds.
	MaxFiles int

	// MaxOpenFiles limits the number of files open at once.
	MaxOpenFiles int

	// Codec protects table entries. nil means PlainCodec.
	Codec EntryCodec

	Logger  *log.Logger
	Verbose bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		QueueDepth:     64,
		EnqueueTimeout: time.Second,
		MaxFiles:       0,
		MaxOpenFiles:   10,
		Codec:          PlainCodec{},
		Logger:         log.Default(),
	}
}

// VLFS is a file system instance bound to one flash chip.
type VLFS struct {
	cfg      Config
	codec    EntryCodec
	logger   *log.Logger
	maxFiles int

	dev    *device
	daemon *daemon

	// mu guards the table and the sector map.
	mu          sync.RWMutex
	table       *allocationTable
	sectors     *sectorManager
	running     bool
	initialized bool
	closed      bool
}

// New creates a file system over f. Init must be called before use.
func New(f flash.Flash, c flash.Crc, cfg Config) (*VLFS, error) {
	size := f.Size()
	if size%flash.Block64KiB != 0 {
		return nil, fmt.Errorf("flash size %d is not a multiple of 64KiB", size)
	}
	total := size / SectorSize
	if total <= ReservedSectors {
		return nil, fmt.Errorf("flash size %d leaves no data sectors", size)
	}
	if total > uint32(NoSector) {
		return nil, fmt.Errorf("flash size %d exceeds %d sectors", size, NoSector)
	}

	if cfg.Codec == nil {
		cfg.Codec = PlainCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultConfig().MaxOpenFiles
	}
	maxFiles := tableCapacity(cfg.Codec)
	if cfg.MaxFiles > 0 && cfg.MaxFiles < maxFiles {
		maxFiles = cfg.MaxFiles
	}

	dev := newDevice(f, c)
	return &VLFS{
		cfg:      cfg,
		codec:    cfg.Codec,
		logger:   cfg.Logger,
		maxFiles: maxFiles,
		dev:      dev,
		daemon:   newDaemon(dev, cfg.QueueDepth, cfg.EnqueueTimeout, cfg.Logger, cfg.Verbose),
		table:    newAllocationTable(),
		sectors:  newSectorManager(ReservedSectors, uint16(total)),
	}, nil
}

// Init starts the daemon and loads the newest valid table, or writes an
// empty one if there is none. The sector map is rebuilt from the files'
// chains. A failed Init leaves the instance uninitialized, so it can be
// retried.
func (v *VLFS) Init(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrFileSystemClosed
	}
	if v.initialized {
		return nil
	}

	if err := v.dev.reset(ctx); err != nil {
		return err
	}
	if !v.running {
		v.daemon.start()
		v.running = true
	}

	if err := v.load(ctx); err != nil {
		v.table = newAllocationTable()
		v.sectors = newSectorManager(v.sectors.first, v.sectors.first+v.sectors.count)
		return err
	}
	v.initialized = true
	return nil
}

// load reads the table and rebuilds the sector map. The caller holds v.mu
// for writing.
func (v *VLFS) load(ctx context.Context) error {
	t, err := v.readLatestAllocationTable(ctx)
	switch {
	case err == nil:
		v.table = t
		if err := v.readFreeSectors(ctx); err != nil {
			return err
		}
		v.logger.Printf("vlfs: loaded table seq=%d slot=%d with %d files, %d free sectors",
			t.sequence, t.position, t.fileCount(), v.sectors.free)
	case errors.Is(err, ErrCodecMismatch):
		return err
	case errors.Is(err, errInvalidTable):
		v.logger.Printf("vlfs: no valid allocation table, writing a new one")
		if err := v.writeFreshTable(ctx); err != nil {
			return err
		}
		v.sectors.seed(v.dev.calculateCrc(v.sectors.bitmap()))
	default:
		return err
	}

	return v.daemon.sync(ctx)
}

// checkOpen fails unless Init succeeded and Close was not called. The
// caller holds v.mu.
func (v *VLFS) checkOpen() error {
	if v.closed {
		return ErrFileSystemClosed
	}
	if !v.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Sync waits until every queued flash operation has landed and returns the
// first flash error seen since the previous Sync.
func (v *VLFS) Sync(ctx context.Context) error {
	v.mu.RLock()
	err := v.checkOpen()
	v.mu.RUnlock()
	if err != nil {
		return err
	}
	return v.daemon.sync(ctx)
}

// Format erases the whole chip and starts over with an empty table. No file
// may be open.
func (v *VLFS) Format(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkOpen(); err != nil {
		return err
	}
	if n := len(v.table.opened); n > 0 {
		return fmt.Errorf("format: %d files open: %w", n, ErrFileInUse)
	}

	for addr := uint32(0); addr < v.dev.size(); addr += flash.Block64KiB {
		e := queueEntry{kind: entryEraseBlock64, address: addr, crcOffset: -1}
		if err := v.daemon.enqueue(ctx, e); err != nil {
			return err
		}
	}
	if err := v.writeFreshTable(ctx); err != nil {
		return err
	}
	v.sectors = newSectorManager(v.sectors.first, v.sectors.first+v.sectors.count)
	v.sectors.seed(v.dev.calculateCrc(v.sectors.bitmap()))
	v.logger.Printf("vlfs: formatted %d bytes", v.dev.size())

	return v.daemon.sync(ctx)
}

// Close flushes the queue and stops the daemon. Files still open are
// abandoned.
func (v *VLFS) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if !v.running {
		return nil
	}

	var err error
	if v.initialized {
		if n := len(v.table.opened); n > 0 {
			v.logger.Printf("vlfs: closing with %d files still open", n)
		}
		err = v.daemon.sync(ctx)
	}
	v.daemon.stop()
	return err
}
