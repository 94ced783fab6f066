package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/vlfs/pkg/api"
	"github.com/example/vlfs/pkg/flash"
	"github.com/example/vlfs/pkg/server"
	"github.com/example/vlfs/pkg/vlfs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const bufSize = 1024 * 1024

// dialBufconn serves register on an in-memory listener and returns a client
// connected to it.
func dialBufconn(t *testing.T, register func(*grpc.Server)) *Client {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	register(srv)
	go srv.Serve(listener)

	config := DefaultConfig()
	config.ServerAddress = "passthrough:///bufnet"
	config.Timeout = 5 * time.Second
	config.RetryDelay = time.Millisecond
	config.ChunkSize = 1000
	config.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
	}
	c, err := NewClient(config)
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
	})
	return c
}

func setupVLFS(t *testing.T) (*Client, *vlfs.VLFS) {
	t.Helper()
	cfg := vlfs.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	fs, err := vlfs.New(flash.NewMemoryFlash(1024*1024), flash.NewSoftwareCrc(), cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Init(context.Background()))
	t.Cleanup(func() { fs.Close(context.Background()) })

	s, err := server.NewVLFSServer(server.DefaultConfig(), fs)
	require.NoError(t, err)
	return dialBufconn(t, func(g *grpc.Server) { api.RegisterVLFSServiceServer(g, s) }), fs
}

func TestPushPull(t *testing.T) {
	c, _ := setupVLFS(t)
	ctx := context.Background()

	id, err := c.CreateFile(ctx, 7)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("0123456789abcdef"), 1500)
	n, err := c.PushFile(ctx, id, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), n)

	var out bytes.Buffer
	read, err := c.PullFile(ctx, id, &out)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), read)
	require.Equal(t, data, out.Bytes())

	files, err := c.ListFiles(ctx, api.AllTypes)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, uint64(len(data)), files[0].Size)

	info, err := c.Free(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, info.Files)

	require.NoError(t, c.RemoveFile(ctx, id))
	err = c.RemoveFile(ctx, id)
	require.ErrorIs(t, err, ErrNotExist)

	var clientErr *Error
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, codes.NotFound, clientErr.Code)
	require.Equal(t, "RemoveFile", clientErr.Op)
}

func TestPushToMissingFile(t *testing.T) {
	c, _ := setupVLFS(t)
	_, err := c.PushFile(context.Background(), 42, bytes.NewReader(make([]byte, 5000)))
	require.ErrorIs(t, err, ErrNotExist)
}

func TestPushToOpenFile(t *testing.T) {
	c, fs := setupVLFS(t)
	ctx := context.Background()
	id, err := c.CreateFile(ctx, 1)
	require.NoError(t, err)

	r, err := fs.OpenFileForRead(ctx, vlfs.FileID(id))
	require.NoError(t, err)
	defer r.Close()

	_, err = c.PushFile(ctx, id, bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, ErrBusy)
}

// flakyService fails the first calls with Unavailable.
type flakyService struct {
	api.UnimplementedVLFSServiceServer
	failures int32
	calls    atomic.Int32
}

func (f *flakyService) fail() error {
	if f.calls.Add(1) <= f.failures {
		return status.Error(codes.Unavailable, "try again")
	}
	return nil
}

func (f *flakyService) Free(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return api.FreeInfo{FreeBytes: 4016, FreeSectors: 1}.Struct(), nil
}

func (f *flakyService) CreateFile(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.UInt64Value, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return wrapperspb.UInt64(1), nil
}

func TestRetries(t *testing.T) {
	svc := &flakyService{failures: 2}
	c := dialBufconn(t, func(g *grpc.Server) { api.RegisterVLFSServiceServer(g, svc) })

	info, err := c.Free(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(1), info.FreeSectors)
	require.Equal(t, int32(3), svc.calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	svc := &flakyService{failures: 100}
	c := dialBufconn(t, func(g *grpc.Server) { api.RegisterVLFSServiceServer(g, svc) })

	_, err := c.Free(context.Background())
	require.ErrorIs(t, err, ErrNoServer)
	require.Equal(t, int32(c.config.MaxRetries+1), svc.calls.Load())
}

func TestCreateIsNotRetried(t *testing.T) {
	svc := &flakyService{failures: 1}
	c := dialBufconn(t, func(g *grpc.Server) { api.RegisterVLFSServiceServer(g, svc) })

	_, err := c.CreateFile(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoServer)
	require.Equal(t, int32(1), svc.calls.Load())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"aborted", status.Error(codes.Aborted, "conflict"), true},
		{"queue full", status.Error(codes.ResourceExhausted, "write 3: writing queue full"), true},
		{"device full", status.Error(codes.ResourceExhausted, "write 3: device full"), false},
		{"not found", status.Error(codes.NotFound, "missing"), false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}
