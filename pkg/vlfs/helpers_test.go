package vlfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/example/vlfs/pkg/flash"
	"github.com/stretchr/testify/require"
)

const testFlashSize = 1024 * 1024

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

// newTestFS returns an initialized file system on an erased in-memory chip.
func newTestFS(t *testing.T, mutate func(*Config)) (*VLFS, *flash.MemoryFlash) {
	t.Helper()
	mem := flash.NewMemoryFlash(testFlashSize)
	return openTestFS(t, mem, mutate), mem
}

// openTestFS initializes a file system on an existing chip. The instance
// is closed when the test ends.
func openTestFS(t *testing.T, f flash.Flash, mutate func(*Config)) *VLFS {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := New(f, flash.NewSoftwareCrc(), cfg)
	require.NoError(t, err)
	require.NoError(t, v.Init(context.Background()))
	t.Cleanup(func() {
		v.Close(context.Background())
	})
	return v
}

// reboot closes v and boots a new instance on a copy of its image.
func reboot(t *testing.T, v *VLFS, mem *flash.MemoryFlash) (*VLFS, *flash.MemoryFlash) {
	t.Helper()
	require.NoError(t, v.Close(context.Background()))
	next := flash.NewMemoryFlashFromImage(mem.Snapshot())
	return openTestFS(t, next, nil), next
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7) ^ seed
	}
	return out
}

func writeFile(t *testing.T, v *VLFS, id FileID, data []byte) {
	t.Helper()
	ctx := context.Background()
	w, err := v.OpenFileForWrite(ctx, id)
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, v *VLFS, id FileID) []byte {
	t.Helper()
	r, err := v.OpenFileForRead(context.Background(), id)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return data
}

func fileSectors(t *testing.T, v *VLFS, id FileID) []uint16 {
	t.Helper()
	entry, err := v.FileEntry(id)
	require.NoError(t, err)
	var sectors []uint16
	require.NoError(t, v.walkChainLocked(context.Background(), entry.FirstSector, func(s, _ uint16, _ bool) bool {
		sectors = append(sectors, s)
		return true
	}))
	return sectors
}

// flashOp is one mutation seen by recordingFlash.
type flashOp struct {
	op      string
	address uint32
	page    []byte
}

func (o flashOp) String() string {
	return fmt.Sprintf("%s %#x", o.op, o.address)
}

// recordingFlash logs mutations and can fail or block them.
type recordingFlash struct {
	flash.Flash

	mu   sync.Mutex
	ops  []flashOp
	fail error

	// entered, when set, receives a value every time a mutation starts;
	// release then has to be signalled before it proceeds.
	entered chan struct{}
	release chan struct{}
}

func newRecordingFlash(size uint32) *recordingFlash {
	return &recordingFlash{Flash: flash.NewMemoryFlash(size)}
}

func (r *recordingFlash) record(op string, address uint32, buf []byte) error {
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o := flashOp{op: op, address: address}
	if buf != nil {
		o.page = bytes.Clone(buf[flash.FramingSize:])
	}
	r.ops = append(r.ops, o)
	return r.fail
}

func (r *recordingFlash) operations() []flashOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]flashOp(nil), r.ops...)
}

func (r *recordingFlash) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *recordingFlash) EraseSector4KiB(ctx context.Context, address uint32) error {
	if err := r.record("erase", address, nil); err != nil {
		return err
	}
	return r.Flash.EraseSector4KiB(ctx, address)
}

func (r *recordingFlash) EraseBlock64KiB(ctx context.Context, address uint32) error {
	if err := r.record("erase64", address, nil); err != nil {
		return err
	}
	return r.Flash.EraseBlock64KiB(ctx, address)
}

func (r *recordingFlash) Write256B(ctx context.Context, address uint32, buf []byte) error {
	if err := r.record("write", address, buf); err != nil {
		return err
	}
	return r.Flash.Write256B(ctx, address, buf)
}

var errInjected = errors.New("injected flash failure")

// failingReadFlash fails the failAt-th read, counting from 1.
type failingReadFlash struct {
	flash.Flash

	mu     sync.Mutex
	reads  int
	failAt int
}

func (f *failingReadFlash) Read4KiB(ctx context.Context, address uint32, length int, buf []byte) ([]byte, error) {
	f.mu.Lock()
	f.reads++
	fail := f.reads == f.failAt
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Flash.Read4KiB(ctx, address, length, buf)
}

// requireSectorInvariant checks that the used sectors are exactly those of
// the file chains.
func requireSectorInvariant(t *testing.T, v *VLFS) {
	t.Helper()
	files, err := v.Files()
	require.NoError(t, err)

	owned := make(map[uint16]FileID)
	for _, f := range files {
		for _, s := range fileSectors(t, v, f.ID) {
			other, dup := owned[s]
			require.False(t, dup, "sector %d in files %s and %s", s, other, f.ID)
			owned[s] = f.ID
		}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	m := v.sectors
	for i := uint16(0); i < m.count; i++ {
		s := m.first + i
		_, ok := owned[s]
		require.Equal(t, ok, m.isUsed(s), "sector %d", s)
	}
	require.Equal(t, uint32(m.count)-uint32(len(owned)), m.free)
	require.Equal(t, uint32(len(owned)), m.usedCount())
}
