package client

import (
	"context"
	"io"

	"github.com/example/vlfs/pkg/api"
)

// FileClient defines the operations a VLFS client offers
type FileClient interface {
	// ListFiles lists the files of one type, or of every type for api.AllTypes
	ListFiles(ctx context.Context, fileType int32) ([]api.FileInfo, error)

	// CreateFile creates an empty file and returns its id
	CreateFile(ctx context.Context, fileType uint16) (uint64, error)

	// RemoveFile deletes a file
	RemoveFile(ctx context.Context, id uint64) error

	// PullFile copies a file to w
	PullFile(ctx context.Context, id uint64, w io.Writer) (int64, error)

	// PushFile appends r to a file
	PushFile(ctx context.Context, id uint64, r io.Reader) (uint64, error)

	// Free reports the space left on the device
	Free(ctx context.Context) (api.FreeInfo, error)

	// Close releases the connection
	Close() error
}

var _ FileClient = (*Client)(nil)
