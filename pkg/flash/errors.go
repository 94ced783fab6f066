package flash

import (
	"errors"
	"fmt"
)

// Errors returned by the host-side flash implementations.
var (
	ErrOutOfRange     = errors.New("address out of range")
	ErrMisaligned     = errors.New("address not aligned")
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrReadTooLong    = errors.New("read longer than 4 KiB")
)

// OpError describes a failed flash operation.
type OpError struct {
	Op      string
	Address uint32
	Err     error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("flash %s %#x: %v", e.Op, e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

func checkRange(op string, size, address uint32, length int) error {
	if uint64(address)+uint64(length) > uint64(size) {
		return &OpError{Op: op, Address: address, Err: ErrOutOfRange}
	}
	return nil
}

func checkErase(op string, size, address, unit uint32) error {
	if address%unit != 0 {
		return &OpError{Op: op, Address: address, Err: ErrMisaligned}
	}
	return checkRange(op, size, address, int(unit))
}

func checkRead(op string, size, address uint32, length int, buf []byte) error {
	if length > MaxReadLength {
		return &OpError{Op: op, Address: address, Err: ErrReadTooLong}
	}
	if len(buf) < FramingSize+length {
		return &OpError{Op: op, Address: address, Err: ErrBufferTooSmall}
	}
	return checkRange(op, size, address, length)
}

func checkWrite(op string, size, address uint32, buf []byte) error {
	if address%PageSize != 0 {
		return &OpError{Op: op, Address: address, Err: ErrMisaligned}
	}
	if len(buf) < WriteBufferSize {
		return &OpError{Op: op, Address: address, Err: ErrBufferTooSmall}
	}
	return checkRange(op, size, address, PageSize)
}
