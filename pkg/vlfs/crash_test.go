package vlfs

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/example/vlfs/pkg/flash"
	"github.com/stretchr/testify/require"
)

// crashWorkload appends b to file 1, then creates file 2 and writes c into
// it. Errors are ignored: once power is cut the flash silently drops writes.
func crashWorkload(f flash.Flash, b, c []byte) {
	ctx := context.Background()
	v, err := New(f, flash.NewSoftwareCrc(), testConfig())
	if err != nil {
		panic(err)
	}
	if err := v.Init(ctx); err != nil {
		panic(err)
	}
	defer v.Close(ctx)

	if w, err := v.OpenFileForWrite(ctx, 1); err == nil {
		w.Write(b)
		w.Close()
	}
	if w, err := v.CreateFileAndOpenForWrite(ctx, 2); err == nil {
		w.Write(c)
		w.Close()
	}
}

func TestCrashConsistency(t *testing.T) {
	ctx := context.Background()
	a := pattern(MaxSectorData+100, 1)
	b := pattern(3000, 2)
	c := pattern(700, 3)

	base, mem := newTestFS(t, nil)
	require.NoError(t, base.CreateFileWithID(ctx, 1, 1))
	writeFile(t, base, 1, a)
	require.NoError(t, base.Close(ctx))
	image0 := mem.Snapshot()

	ab := append(append([]byte(nil), a...), b...)

	// A run without a cut gives the number of mutations to sweep over.
	full := flash.NewMemoryFlashFromImage(image0)
	full.CutPowerAfter(-1, false)
	crashWorkload(full, b, c)
	total := full.Mutations()
	require.Greater(t, total, 0)

	after := openTestFS(t, flash.NewMemoryFlashFromImage(full.Snapshot()), nil)
	require.Equal(t, ab, readFile(t, after, 1))
	require.Equal(t, c, readFile(t, after, 2))

	for _, torn := range []bool{false, true} {
		for cut := 0; cut <= total; cut++ {
			t.Run(fmt.Sprintf("torn=%v/cut=%d", torn, cut), func(t *testing.T) {
				f := flash.NewMemoryFlashFromImage(image0)
				f.CutPowerAfter(cut, torn)
				crashWorkload(f, b, c)

				v := openTestFS(t, flash.NewMemoryFlashFromImage(f.Snapshot()), nil)
				got := readFile(t, v, 1)
				require.True(t, bytes.Equal(got, a) || bytes.Equal(got, ab),
					"file 1 has %d bytes", len(got))

				ok, err := v.Exists(2)
				require.NoError(t, err)
				if ok {
					got := readFile(t, v, 2)
					require.True(t, len(got) == 0 || bytes.Equal(got, c),
						"file 2 has %d bytes", len(got))
				}
				requireSectorInvariant(t, v)
			})
		}
	}
}

// A power cut while a sector of a brand new file is linked must not lose
// the files that were already there.
func TestCrashKeepsOtherFiles(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestFS(t, nil)
	var want [][]byte
	for i := 0; i < 4; i++ {
		id, err := v.CreateFile(ctx, FileType(i))
		require.NoError(t, err)
		data := pattern(1000*(i+1), byte(i))
		writeFile(t, v, id, data)
		want = append(want, data)
	}
	require.NoError(t, v.Close(ctx))
	image0 := mem.Snapshot()

	for cut := 0; cut < 8; cut++ {
		f := flash.NewMemoryFlashFromImage(image0)
		f.CutPowerAfter(cut, true)
		func() {
			v := openTestFS(t, f, nil)
			defer v.Close(ctx)
			v.RemoveFile(ctx, 2)
			if w, err := v.CreateFileAndOpenForWrite(ctx, 9); err == nil {
				w.Write(pattern(5000, 9))
				w.Close()
			}
		}()

		v := openTestFS(t, flash.NewMemoryFlashFromImage(f.Snapshot()), nil)
		for i, data := range want {
			id := FileID(i + 1)
			ok, err := v.Exists(id)
			require.NoError(t, err)
			if id == 2 && !ok {
				continue
			}
			require.True(t, ok, "cut %d file %s", cut, id)
			require.Equal(t, data, readFile(t, v, id), "cut %d file %s", cut, id)
		}
		requireSectorInvariant(t, v)
	}
}
