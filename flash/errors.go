package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrZeroLength = errors.New("read length must be non-zero")
var ErrOutOfRange = errors.New("address outside the user flash area")
var ErrMisaligned = errors.New("address not aligned to the flash geometry")
var ErrLocked = errors.New("flash is locked")
var ErrNotErased = errors.New("programming over non-erased flash")
var ErrWriteProtected = errors.New("page is write protected")
var ErrNotSupported = errors.New("operation not supported by this memory")

// EraseError is returned when a region could not be erased, either because
// the start address was rejected or because the hardware reported a fault.
type EraseError struct {
	Addr uint32
	Err  error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("erase at 0x%08x: %v", e.Addr, e.Err)
}

func (e *EraseError) Unwrap() error { return e.Err }

// WriteErrorKind separates the ways a program operation can fail
type WriteErrorKind int

const (
	// HardwareFault means the controller rejected the program operation
	HardwareFault WriteErrorKind = iota
	// VerifyMismatch means the unit was programmed but reads back differently
	VerifyMismatch
	// InvalidTarget means the destination is misaligned or does not fit in
	// the user area. Nothing is programmed.
	InvalidTarget
)

func (k WriteErrorKind) String() string {
	switch k {
	case HardwareFault:
		return "hardware fault"
	case VerifyMismatch:
		return "verify mismatch"
	case InvalidTarget:
		return "invalid target"
	}
	return fmt.Sprintf("WriteErrorKind(%d)", int(k))
}

// WriteError is returned by Program. For a VerifyMismatch, Want and Got hold
// the unit that was requested and the unit read back.
type WriteError struct {
	Addr uint32
	Kind WriteErrorKind
	Want []byte
	Got  []byte
	Err  error
}

func (e *WriteError) Error() string {
	if e.Kind == VerifyMismatch {
		return fmt.Sprintf("write at 0x%08x: %s: wrote %x, read back %x", e.Addr, e.Kind, e.Want, e.Got)
	}
	return fmt.Sprintf("write at 0x%08x: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is returned by Read
type ReadError struct {
	Addr uint32
	Len  int
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %d bytes at 0x%08x: %v", e.Len, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsWriteError reports whether err is a WriteError of the given kind
func IsWriteError(err error, kind WriteErrorKind) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == kind
}
