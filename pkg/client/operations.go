package client

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/example/vlfs/pkg/api"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ListFiles lists the files of one type, or of every type for api.AllTypes
func (c *Client) ListFiles(ctx context.Context, fileType int32) ([]api.FileInfo, error) {
	var files []api.FileInfo
	err := c.callWithRetry(ctx, "ListFiles", func(ctx context.Context) error {
		list, err := c.vlfsClient.ListFiles(ctx, wrapperspb.Int32(fileType))
		if err != nil {
			return err
		}
		files, err = api.FileInfosFromList(list)
		return err
	})
	return files, err
}

// CreateFile creates an empty file and returns its id
func (c *Client) CreateFile(ctx context.Context, fileType uint16) (uint64, error) {
	var id uint64
	err := c.callOnce(ctx, "CreateFile", func(ctx context.Context) error {
		resp, err := c.vlfsClient.CreateFile(ctx, wrapperspb.UInt32(uint32(fileType)))
		if err != nil {
			return err
		}
		id = resp.GetValue()
		return nil
	})
	return id, err
}

// RemoveFile deletes a file
func (c *Client) RemoveFile(ctx context.Context, id uint64) error {
	return c.callOnce(ctx, "RemoveFile", func(ctx context.Context) error {
		_, err := c.vlfsClient.RemoveFile(ctx, wrapperspb.UInt64(id))
		return err
	})
}

// PullFile copies the contents of a file to w. On a corrupted file the
// bytes before the damage are still written and the error wraps
// ErrCorrupted.
func (c *Client) PullFile(ctx context.Context, id uint64, w io.Writer) (int64, error) {
	var written int64
	err := c.callOnce(ctx, "PullFile", func(ctx context.Context) error {
		// Open the read stream
		stream, err := c.vlfsClient.ReadFile(ctx, wrapperspb.UInt64(id))
		if err != nil {
			return err
		}

		// Copy chunks until the server ends the stream
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			n, err := w.Write(chunk.GetValue())
			written += int64(n)
			if err != nil {
				return fmt.Errorf("failed to write local copy: %w", err)
			}
		}
	})
	return written, err
}

// PushFile appends everything read from r to a file and returns the number
// of bytes the server stored.
func (c *Client) PushFile(ctx context.Context, id uint64, r io.Reader) (uint64, error) {
	var stored uint64
	err := c.callOnce(ctx, "PushFile", func(ctx context.Context) error {
		// The file id travels in metadata, the stream carries only data
		ctx = metadata.AppendToOutgoingContext(ctx, api.FileIDKey, strconv.FormatUint(id, 10))
		stream, err := c.vlfsClient.WriteFile(ctx)
		if err != nil {
			return err
		}

		// Send the local data in chunks
		buf := make([]byte, c.config.ChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if sendErr := stream.Send(wrapperspb.Bytes(buf[:n])); sendErr != nil {
					// The server ended the call; its status comes from CloseAndRecv.
					break
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read local file: %w", err)
			}
		}

		// Close the stream and get the stored byte count
		resp, err := stream.CloseAndRecv()
		if err != nil {
			return err
		}
		stored = resp.GetValue()
		return nil
	})
	return stored, err
}

// Free reports the space left on the device
func (c *Client) Free(ctx context.Context) (api.FreeInfo, error) {
	var info api.FreeInfo
	err := c.callWithRetry(ctx, "Free", func(ctx context.Context) error {
		resp, err := c.vlfsClient.Free(ctx, &emptypb.Empty{})
		if err != nil {
			return err
		}
		info = api.FreeInfoFromStruct(resp)
		return nil
	})
	return info, err
}
