// Package client implements a host client for the VLFS service
package client

import (
	"fmt"
	"time"

	"github.com/example/vlfs/pkg/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config contains the client configuration options
type Config struct {
	// ServerAddress is the address of the VLFS server (e.g., "localhost:7300")
	ServerAddress string

	// Timeout is the default timeout for RPC operations
	Timeout time.Duration

	// MaxRetries is the maximum number of retries for idempotent operations
	MaxRetries int

	// RetryDelay is the initial delay between retries (will be multiplied by backoff factor)
	RetryDelay time.Duration

	// BackoffFactor is the multiplier for retry delay after each attempt
	BackoffFactor float64

	// ChunkSize is the size of the messages PushFile sends
	ChunkSize int

	// DialOptions are appended to the default dial options
	DialOptions []grpc.DialOption
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ServerAddress: "localhost:7300",
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		RetryDelay:    500 * time.Millisecond,
		BackoffFactor: 2.0,
		ChunkSize:     32 * 1024,
	}
}

// Client talks to one VLFS server
type Client struct {
	// gRPC connection to the server
	conn *grpc.ClientConn

	// VLFS service client
	vlfsClient api.VLFSServiceClient

	// Client configuration
	config *Config
}

// NewClient creates a new client. The connection is established lazily on
// the first call.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, config.DialOptions...)
	conn, err := grpc.NewClient(config.ServerAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return &Client{
		conn:       conn,
		vlfsClient: api.NewVLFSServiceClient(conn),
		config:     config,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
