package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/vlfs/pkg/vlfs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// callWithRetry executes an idempotent RPC call with retry logic
func (c *Client) callWithRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		// Create a context with timeout
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		err := fn(callCtx)
		cancel()

		// If successful or not retryable, return the result
		if err == nil || !isRetryableError(err) {
			return statusToError(operation, err)
		}
		lastErr = err

		// If this was the last attempt, break
		if attempt == c.config.MaxRetries {
			break
		}

		// Calculate retry delay with exponential backoff
		delay := c.config.RetryDelay * time.Duration(float64(attempt+1)*c.config.BackoffFactor)

		// Wait for the retry delay or until the context is canceled
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	// Return the last error
	return fmt.Errorf("operation %s failed after %d attempts: %w",
		operation, c.config.MaxRetries+1, statusToError(operation, lastErr))
}

// callOnce executes an RPC call that must not be repeated, such as one that
// creates a file or appends data.
func (c *Client) callOnce(ctx context.Context, operation string, fn func(context.Context) error) error {
	// Create a context with timeout
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return statusToError(operation, fn(callCtx))
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	// If it's a context error, it's not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Check gRPC error codes
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.Aborted:
			return true
		case codes.ResourceExhausted:
			// The flash queue drains on its own; a full device does not.
			return strings.Contains(s.Message(), vlfs.ErrWritingQueueFull.Error())
		default:
			// Other errors are not retryable
			return false
		}
	}

	// Default to not retryable
	return false
}
