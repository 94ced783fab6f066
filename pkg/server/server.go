// Package server exposes a VLFS instance over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/example/vlfs/pkg/api"
	"github.com/example/vlfs/pkg/vlfs"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Config contains the server configuration
type Config struct {
	// Network address to listen on (e.g. ":7300")
	ListenAddress string

	// Maximum concurrent requests
	MaxConcurrent int

	// Maximum accepted connections, 0 for no limit
	MaxConnections int

	// Size of the chunks ReadFile streams
	ChunkSize int

	// Request timeout in seconds for unary calls
	RequestTimeout int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:  ":7300",
		MaxConcurrent:  16,
		MaxConnections: 64,
		ChunkSize:      vlfs.MaxSectorData,
		RequestTimeout: 30,
	}
}

// VLFSServer implements the VLFS service
type VLFSServer struct {
	api.UnimplementedVLFSServiceServer

	config *Config
	// The file system being served
	fs *vlfs.VLFS

	// Worker pool for limiting concurrent requests
	workerPool chan struct{}

	mu         sync.Mutex
	grpcServer *grpc.Server
}

// NewVLFSServer creates a server over an initialized file system
func NewVLFSServer(config *Config, fs *vlfs.VLFS) (*VLFSServer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if fs == nil {
		return nil, errors.New("no file system")
	}
	if config.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("invalid max concurrent requests: %d", config.MaxConcurrent)
	}
	if config.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size: %d", config.ChunkSize)
	}

	// Create worker pool for controlling concurrency
	return &VLFSServer{
		config:     config,
		fs:         fs,
		workerPool: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Start listens on the configured address and serves until Stop
func (s *VLFSServer) Start() error {
	// Create listener
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop
func (s *VLFSServer) Serve(lis net.Listener) error {
	// Cap the number of accepted connections
	if s.config.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, s.config.MaxConnections)
	}

	// Create gRPC server and register the VLFS service
	grpcServer := grpc.NewServer()
	api.RegisterVLFSServiceServer(grpcServer, s)

	s.mu.Lock()
	s.grpcServer = grpcServer
	s.mu.Unlock()

	// Start serving
	log.Printf("VLFS server starting on %s", lis.Addr())
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop waits for running calls and stops serving
func (s *VLFSServer) Stop() {
	s.mu.Lock()
	grpcServer := s.grpcServer
	s.mu.Unlock()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}

// acquireWorker gets a worker from the pool or gives up with ctx
func (s *VLFSServer) acquireWorker(ctx context.Context) error {
	select {
	case s.workerPool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseWorker returns a worker to the pool
func (s *VLFSServer) releaseWorker() {
	<-s.workerPool
}

func clientAddress(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// processRequest runs one call inside the worker pool, logs it, and turns
// file system errors into gRPC statuses.
func (s *VLFSServer) processRequest(ctx context.Context, op string, process func() error) error {
	// Log request
	reqID := fmt.Sprintf("%s-%d", op, time.Now().UnixNano())
	logRequest(op, reqID, clientAddress(ctx))
	startTime := time.Now()

	// Acquire worker
	if err := s.acquireWorker(ctx); err != nil {
		err = toStatus(err)
		logError(op, reqID, err)
		return err
	}
	defer s.releaseWorker()

	// Execute the operation
	err := toStatus(process())

	// Log the result
	if err != nil {
		logError(op, reqID, err)
	}
	logResponse(op, reqID, status.Code(err), time.Since(startTime))
	return err
}

// requestContext bounds a unary call by the configured timeout.
func (s *VLFSServer) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.config.RequestTimeout)*time.Second)
}

// CreateFile implements the CreateFile RPC method
func (s *VLFSServer) CreateFile(ctx context.Context, req *wrapperspb.UInt32Value) (*wrapperspb.UInt64Value, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	var id vlfs.FileID
	err := s.processRequest(ctx, "CreateFile", func() error {
		if req.GetValue() > 0xFFFF {
			return status.Errorf(codes.InvalidArgument, "file type %d out of range", req.GetValue())
		}
		var err error
		id, err = s.fs.CreateFile(ctx, vlfs.FileType(req.GetValue()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return wrapperspb.UInt64(uint64(id)), nil
}

// RemoveFile implements the RemoveFile RPC method
func (s *VLFSServer) RemoveFile(ctx context.Context, req *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	err := s.processRequest(ctx, "RemoveFile", func() error {
		return s.fs.RemoveFile(ctx, vlfs.FileID(req.GetValue()))
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// ListFiles implements the ListFiles RPC method
func (s *VLFSServer) ListFiles(ctx context.Context, req *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	var infos []api.FileInfo
	err := s.processRequest(ctx, "ListFiles", func() error {
		// Validate the type filter
		filter := req.GetValue()
		if filter < api.AllTypes || filter > 0xFFFF {
			return status.Errorf(codes.InvalidArgument, "file type %d out of range", filter)
		}
		files, err := s.fs.Files()
		if err != nil {
			return err
		}
		for _, f := range files {
			if filter != api.AllTypes && f.Type != vlfs.FileType(filter) {
				continue
			}
			// Walk the chain for the size
			size, sectors, err := s.fs.FileSize(ctx, f.ID)
			if err != nil {
				return err
			}
			infos = append(infos, api.FileInfo{
				ID:      uint64(f.ID),
				Type:    uint16(f.Type),
				Size:    size,
				Sectors: sectors,
				Opened:  f.Opened,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return api.FileInfoList(infos), nil
}

// ReadFile implements the ReadFile RPC method. A corrupted file is streamed
// up to the damage and the call then fails with codes.DataLoss.
func (s *VLFSServer) ReadFile(req *wrapperspb.UInt64Value, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()
	return s.processRequest(ctx, "ReadFile", func() error {
		r, err := s.fs.OpenFileForRead(ctx, vlfs.FileID(req.GetValue()))
		if err != nil {
			return err
		}
		defer r.Close()

		// Stream the file in chunks, validated bytes first
		buf := make([]byte, s.config.ChunkSize)
		for {
			n, err := r.ReadContext(ctx, buf)
			if n > 0 {
				if sendErr := stream.Send(wrapperspb.Bytes(buf[:n])); sendErr != nil {
					return sendErr
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	})
}

func fileIDFromMetadata(ctx context.Context) (vlfs.FileID, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(api.FileIDKey)
	if len(values) != 1 {
		return 0, status.Errorf(codes.InvalidArgument, "expected one %s header", api.FileIDKey)
	}
	id, err := strconv.ParseUint(values[0], 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "bad %s: %v", api.FileIDKey, err)
	}
	return vlfs.FileID(id), nil
}

// WriteFile implements the WriteFile RPC method
func (s *VLFSServer) WriteFile(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, wrapperspb.UInt64Value]) error {
	ctx := stream.Context()
	return s.processRequest(ctx, "WriteFile", func() error {
		// Get the target file from metadata
		id, err := fileIDFromMetadata(ctx)
		if err != nil {
			return err
		}
		w, err := s.fs.OpenFileForWrite(ctx, id)
		if err != nil {
			return err
		}

		// Append every chunk until the client closes the stream
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				w.CloseContext(ctx)
				return err
			}
			if _, err := w.WriteContext(ctx, chunk.GetValue()); err != nil {
				w.CloseContext(ctx)
				return err
			}
		}
		// Close the writer so the data is linked before replying
		if err := w.CloseContext(ctx); err != nil {
			return err
		}
		return stream.SendAndClose(wrapperspb.UInt64(uint64(w.Written())))
	})
}

// Free implements the Free RPC method
func (s *VLFSServer) Free(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var info api.FreeInfo
	err := s.processRequest(ctx, "Free", func() error {
		files, err := s.fs.Files()
		if err != nil {
			return err
		}
		info = api.FreeInfo{
			FreeBytes:   s.fs.Free(),
			FreeSectors: s.fs.FreeSectorsCount(),
			Files:       len(files),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info.Struct(), nil
}
