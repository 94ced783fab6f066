package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/example/vlfs/pkg/vlfs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorCodes maps file system errors to gRPC codes, checked in order.
var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{vlfs.ErrFileDoesNotExist, codes.NotFound},
	{vlfs.ErrFileAlreadyExists, codes.AlreadyExists},
	{vlfs.ErrFileInUse, codes.FailedPrecondition},
	{vlfs.ErrFileClosed, codes.FailedPrecondition},
	{vlfs.ErrTooManyFiles, codes.ResourceExhausted},
	{vlfs.ErrTooManyFilesOpen, codes.ResourceExhausted},
	{vlfs.ErrDeviceFull, codes.ResourceExhausted},
	{vlfs.ErrWritingQueueFull, codes.ResourceExhausted},
	{vlfs.ErrCorruptedPage, codes.DataLoss},
	{vlfs.ErrCorruptedFileEntry, codes.DataLoss},
	{vlfs.ErrFileSystemClosed, codes.Unavailable},
	{vlfs.ErrNotInitialized, codes.Unavailable},
	{vlfs.ErrCodecMismatch, codes.FailedPrecondition},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// toStatus converts err into a gRPC status error. Errors that already carry
// a status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	var flashErr *vlfs.FlashError
	if errors.As(err, &flashErr) {
		return status.Error(codes.Internal, err.Error())
	}
	log.Printf("Unknown error type: %T, message: %v", err, err)
	return status.Error(codes.Unknown, err.Error())
}

// logRequest logs a received request
func logRequest(op string, reqID string, clientAddr string) {
	log.Printf("VLFS request: %s, ID: %s, Client: %s", op, reqID, clientAddr)
}

// logResponse logs the outcome of a request
func logResponse(op string, reqID string, code codes.Code, duration time.Duration) {
	log.Printf("VLFS response: %s, ID: %s, Status: %s, Duration: %s", op, reqID, code, duration)
}

// logError logs an error with its context
func logError(op string, reqID string, err error) {
	log.Printf("VLFS error: %s, ID: %s, Error: %v", op, reqID, err)
}
