package server

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"testing"

	"github.com/example/vlfs/pkg/api"
	"github.com/example/vlfs/pkg/flash"
	"github.com/example/vlfs/pkg/vlfs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const bufSize = 1024 * 1024

type testEnv struct {
	mem    *flash.MemoryFlash
	fs     *vlfs.VLFS
	client api.VLFSServiceClient
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	mem := flash.NewMemoryFlash(1024 * 1024)
	cfg := vlfs.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	fs, err := vlfs.New(mem, flash.NewSoftwareCrc(), cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Init(context.Background()))

	config := DefaultConfig()
	config.ChunkSize = 1000
	srv, err := NewVLFSServer(config, fs)
	require.NoError(t, err)

	listener := bufconn.Listen(bufSize)
	go srv.Serve(listener)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		fs.Close(context.Background())
	})
	return &testEnv{mem: mem, fs: fs, client: api.NewVLFSServiceClient(conn)}
}

func (e *testEnv) push(t *testing.T, id uint64, data []byte, chunk int) (uint64, error) {
	t.Helper()
	ctx := metadata.AppendToOutgoingContext(context.Background(), api.FileIDKey, strconv.FormatUint(id, 10))
	stream, err := e.client.WriteFile(ctx)
	require.NoError(t, err)
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if err := stream.Send(wrapperspb.Bytes(data[off:end])); err != nil {
			break
		}
	}
	n, err := stream.CloseAndRecv()
	if err != nil {
		return 0, err
	}
	return n.GetValue(), nil
}

func (e *testEnv) pull(t *testing.T, id uint64) ([]byte, error) {
	t.Helper()
	stream, err := e.client.ReadFile(context.Background(), wrapperspb.UInt64(id))
	require.NoError(t, err)
	var buf bytes.Buffer
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
		buf.Write(chunk.GetValue())
	}
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	return data
}

func TestCreateListRemove(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	first, err := env.client.CreateFile(ctx, wrapperspb.UInt32(3))
	require.NoError(t, err)
	second, err := env.client.CreateFile(ctx, wrapperspb.UInt32(4))
	require.NoError(t, err)
	require.Equal(t, first.GetValue()+1, second.GetValue())

	list, err := env.client.ListFiles(ctx, wrapperspb.Int32(api.AllTypes))
	require.NoError(t, err)
	files, err := api.FileInfosFromList(list)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, uint16(3), files[0].Type)

	list, err = env.client.ListFiles(ctx, wrapperspb.Int32(4))
	require.NoError(t, err)
	files, err = api.FileInfosFromList(list)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, second.GetValue(), files[0].ID)

	_, err = env.client.RemoveFile(ctx, wrapperspb.UInt64(first.GetValue()))
	require.NoError(t, err)
	_, err = env.client.RemoveFile(ctx, wrapperspb.UInt64(first.GetValue()))
	require.Equal(t, codes.NotFound, status.Code(err))

	free, err := env.client.Free(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	info := api.FreeInfoFromStruct(free)
	require.Equal(t, 1, info.Files)
	require.Equal(t, env.fs.FreeSectorsCount(), info.FreeSectors)
	require.Equal(t, env.fs.Free(), info.FreeBytes)
}

func TestInvalidArguments(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	_, err := env.client.CreateFile(ctx, wrapperspb.UInt32(0x10000))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.ListFiles(ctx, wrapperspb.Int32(-2))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	stream, err := env.client.WriteFile(ctx)
	require.NoError(t, err)
	_, err = stream.CloseAndRecv()
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestWriteReadFile(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	id, err := env.client.CreateFile(ctx, wrapperspb.UInt32(1))
	require.NoError(t, err)

	data := testData(3*vlfs.MaxSectorData + 123)
	n, err := env.push(t, id.GetValue(), data, 777)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), n)

	got, err := env.pull(t, id.GetValue())
	require.NoError(t, err)
	require.Equal(t, data, got)

	// A second push appends.
	_, err = env.push(t, id.GetValue(), []byte("tail"), 2)
	require.NoError(t, err)
	got, err = env.pull(t, id.GetValue())
	require.NoError(t, err)
	require.Equal(t, append(data, "tail"...), got)

	list, err := env.client.ListFiles(ctx, wrapperspb.Int32(api.AllTypes))
	require.NoError(t, err)
	files, err := api.FileInfosFromList(list)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)+4), files[0].Size)
	require.Equal(t, 5, files[0].Sectors)
	require.False(t, files[0].Opened)

	_, err = env.pull(t, 999)
	require.Equal(t, codes.NotFound, status.Code(err))
	_, err = env.push(t, 999, []byte("x"), 1)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestReadCorruptedFile(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	id, err := env.client.CreateFile(ctx, wrapperspb.UInt32(1))
	require.NoError(t, err)
	data := testData(2000)
	_, err = env.push(t, id.GetValue(), data, 500)
	require.NoError(t, err)

	entry, err := env.fs.FileEntry(vlfs.FileID(id.GetValue()))
	require.NoError(t, err)
	env.mem.Corrupt(uint32(entry.FirstSector)*vlfs.SectorSize+vlfs.PageSize+10, 0x40)

	got, err := env.pull(t, id.GetValue())
	require.Equal(t, codes.DataLoss, status.Code(err))
	require.Equal(t, data[:vlfs.MaxPageData], got)
	require.False(t, env.fs.IsFileOpened(vlfs.FileID(id.GetValue())))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{nil, codes.OK},
		{&vlfs.Error{Op: "open", FileID: 1, Err: vlfs.ErrFileDoesNotExist}, codes.NotFound},
		{vlfs.ErrFileInUse, codes.FailedPrecondition},
		{vlfs.ErrDeviceFull, codes.ResourceExhausted},
		{&vlfs.CorruptedPageError{Address: 0x4100}, codes.DataLoss},
		{&vlfs.FlashError{Op: "write", Address: 0, Err: io.ErrUnexpectedEOF}, codes.Internal},
		{vlfs.ErrFileSystemClosed, codes.Unavailable},
		{vlfs.ErrCodecMismatch, codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{io.ErrClosedPipe, codes.Unknown},
	}
	for _, tt := range tests {
		require.Equal(t, tt.code, status.Code(toStatus(tt.err)), "%v", tt.err)
	}
}

func TestNewVLFSServerRejects(t *testing.T) {
	_, err := NewVLFSServer(DefaultConfig(), nil)
	require.Error(t, err)

	fs, err := vlfs.New(flash.NewMemoryFlash(1024*1024), flash.NewSoftwareCrc(), vlfs.DefaultConfig())
	require.NoError(t, err)
	config := DefaultConfig()
	config.MaxConcurrent = 0
	_, err = NewVLFSServer(config, fs)
	require.Error(t, err)
}
