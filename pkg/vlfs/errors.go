package vlfs

import (
	"errors"
	"fmt"
)

// Errors reported by the file system. Resource exhaustion errors are part of
// normal operation near capacity.
var (
	ErrFileAlreadyExists  = errors.New("file already exists")
	ErrTooManyFiles       = errors.New("too many files")
	ErrTooManyFilesOpen   = errors.New("too many files open")
	ErrFileInUse          = errors.New("file in use")
	ErrFileDoesNotExist   = errors.New("file does not exist")
	ErrDeviceFull         = errors.New("device full")
	ErrWritingQueueFull   = errors.New("writing queue full")
	ErrCorruptedPage      = errors.New("corrupted page")
	ErrCorruptedFileEntry = errors.New("corrupted file entry")
	ErrFileClosed         = errors.New("file closed")
	ErrFileSystemClosed   = errors.New("file system closed")
	ErrNotInitialized     = errors.New("file system not initialized")
	ErrCodecMismatch      = errors.New("allocation table written with another codec")
)

// FlashError wraps an error returned by the flash driver.
type FlashError struct {
	Op      string
	Address uint32
	Err     error
}

// Error implements the error interface.
func (e *FlashError) Error() string {
	return fmt.Sprintf("flash error: %s %#x: %v", e.Op, e.Address, e.Err)
}

// Unwrap returns the driver error.
func (e *FlashError) Unwrap() error {
	return e.Err
}

// CorruptedPageError reports data on flash that failed a CRC or redundant
// decode check. Address is the page or trailer field at fault.
type CorruptedPageError struct {
	Address uint32
}

// Error implements the error interface.
func (e *CorruptedPageError) Error() string {
	return fmt.Sprintf("corrupted page at %#x", e.Address)
}

// Is matches ErrCorruptedPage.
func (e *CorruptedPageError) Is(target error) bool {
	return target == ErrCorruptedPage
}

// Error adds the operation and file to an error.
type Error struct {
	Op     string
	FileID FileID
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.FileID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, id FileID, err error) error {
	return &Error{
		Op:     op,
		FileID: id,
		Err:    err,
	}
}
