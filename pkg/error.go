package pkg

import "errors"

// Driver errors.
var (
	// ErrNoDevice indicates the device is not present or lacks a required endpoint.
	ErrNoDevice = errors.New("device not present")

	// ErrAlreadyExists indicates a channel or interrupt endpoint is already bound.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound indicates a channel id has no channel bound to it.
	ErrNotFound = errors.New("not found")

	// ErrNotSupported indicates an unsupported operation or platform.
	ErrNotSupported = errors.New("not supported")

	// ErrIO indicates a transfer moved fewer bytes than required or the
	// device rejected a command.
	ErrIO = errors.New("I/O error")

	// ErrTimeout indicates a transfer or polling loop exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrNoMemory indicates insufficient memory.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOutOfRange indicates an offset or length outside a memory space.
	ErrOutOfRange = errors.New("out of range")

	// ErrMessageTooLong indicates a command exceeds the negotiated transfer size.
	ErrMessageTooLong = errors.New("message too long")

	// ErrNovramInvalid indicates the board NOVRAM failed its magic or checksum test.
	ErrNovramInvalid = errors.New("NOVRAM invalid")

	// ErrFirmwareInvalid indicates a malformed firmware image.
	ErrFirmwareInvalid = errors.New("firmware invalid")

	// ErrNotRunning indicates the interface has no active users.
	ErrNotRunning = errors.New("not running")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")
)

// TransferStatus represents the completion status of a USB transfer as
// reported by a transport.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusNoDevice                        // Device disconnected
	TransferStatusOverflow                        // Device sent more than requested
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusNoDevice:
		return "no device"
	case TransferStatusOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusNoDevice:
		return ErrNoDevice
	default:
		return ErrIO
	}
}
