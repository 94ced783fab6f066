package flash

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// OpStat accumulates calls to a single flash operation.
type OpStat struct {
	Count    int
	Bytes    int64
	Duration time.Duration
}

func (s *OpStat) add(bytes int, d time.Duration) {
	s.Count++
	s.Bytes += int64(bytes)
	s.Duration += d
}

// Stat is a snapshot of the counters of a StatFlash.
type Stat struct {
	EraseSector OpStat
	EraseBlock  OpStat
	Read        OpStat
	Write       OpStat
	Errors      int
}

// String formats the counters on one line.
func (s Stat) String() string {
	return fmt.Sprintf("erase4k=%d erase32k/64k=%d read=%d(%dB, %v) write=%d(%dB, %v) errors=%d",
		s.EraseSector.Count, s.EraseBlock.Count,
		s.Read.Count, s.Read.Bytes, s.Read.Duration,
		s.Write.Count, s.Write.Bytes, s.Write.Duration,
		s.Errors)
}

// StatFlash wraps a Flash and records call counts and latencies.
type StatFlash struct {
	inner Flash

	mu   sync.Mutex
	stat Stat
}

// NewStatFlash wraps inner.
func NewStatFlash(inner Flash) *StatFlash {
	return &StatFlash{inner: inner}
}

// Stat returns the counters collected so far.
func (s *StatFlash) Stat() Stat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stat
}

// ResetStat clears all counters.
func (s *StatFlash) ResetStat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stat = Stat{}
}

func (s *StatFlash) record(op *OpStat, bytes int, start time.Time, err error) {
	d := time.Since(start)
	s.mu.Lock()
	defer s.mu.Unlock()
	op.add(bytes, d)
	if err != nil {
		s.stat.Errors++
	}
}

// Size implements Flash.
func (s *StatFlash) Size() uint32 {
	return s.inner.Size()
}

// Reset implements Flash.
func (s *StatFlash) Reset(ctx context.Context) error {
	return s.inner.Reset(ctx)
}

// EraseSector4KiB implements Flash.
func (s *StatFlash) EraseSector4KiB(ctx context.Context, address uint32) error {
	start := time.Now()
	err := s.inner.EraseSector4KiB(ctx, address)
	s.record(&s.stat.EraseSector, SectorSize, start, err)
	return err
}

// EraseBlock32KiB implements Flash.
func (s *StatFlash) EraseBlock32KiB(ctx context.Context, address uint32) error {
	start := time.Now()
	err := s.inner.EraseBlock32KiB(ctx, address)
	s.record(&s.stat.EraseBlock, Block32KiB, start, err)
	return err
}

// EraseBlock64KiB implements Flash.
func (s *StatFlash) EraseBlock64KiB(ctx context.Context, address uint32) error {
	start := time.Now()
	err := s.inner.EraseBlock64KiB(ctx, address)
	s.record(&s.stat.EraseBlock, Block64KiB, start, err)
	return err
}

// Read4KiB implements Flash.
func (s *StatFlash) Read4KiB(ctx context.Context, address uint32, length int, buf []byte) ([]byte, error) {
	start := time.Now()
	out, err := s.inner.Read4KiB(ctx, address, length, buf)
	s.record(&s.stat.Read, length, start, err)
	return out, err
}

// Write256B implements Flash.
func (s *StatFlash) Write256B(ctx context.Context, address uint32, buf []byte) error {
	start := time.Now()
	err := s.inner.Write256B(ctx, address, buf)
	s.record(&s.stat.Write, PageSize, start, err)
	return err
}
