//go:build linux

package linux

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Kernel Structures
// =============================================================================

// urb matches the kernel's struct usbdevfs_urb without the trailing
// isochronous frame descriptors.
type urb struct {
	typ          uint8
	endpoint     uint8
	status       int32
	flags        uint32
	buffer       uintptr
	bufferLength int32
	actualLength int32
	startFrame   int32
	streamID     uint32 // union with number_of_packets
	errorCount   int32
	signr        uint32
	userContext  uintptr
}

// ctrlTransfer matches struct usbdevfs_ctrltransfer.
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32 // milliseconds
	data        uintptr
}

// bulkTransfer matches struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // milliseconds
	data     uintptr
}

// disconnectClaim matches struct usbdevfs_disconnect_claim.
type disconnectClaim struct {
	iface  uint32
	flags  uint32
	driver [256]byte
}

// =============================================================================
// Syscall Wrappers
// =============================================================================

func openDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func closeDevice(fd int) error {
	return unix.Close(fd)
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

// readDescriptors returns the device descriptor followed by every
// configuration descriptor, as cached by the kernel.
func readDescriptors(fd int) ([]byte, error) {
	buf := make([]byte, MaxDescriptorSize)
	n, err := unix.Pread(fd, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// =============================================================================
// USBDEVFS Operations
// =============================================================================

// controlTransfer performs a synchronous control transfer on endpoint 0.
func controlTransfer(fd int, setup hal.SetupPacket, data []byte, timeout time.Duration) (int, error) {
	ctrl := ctrlTransfer{
		requestType: setup.RequestType,
		request:     setup.Request,
		value:       setup.Value,
		index:       setup.Index,
		length:      uint16(len(data)),
		timeout:     uint32(timeout.Milliseconds()),
	}
	if len(data) > 0 {
		ctrl.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlPtr(fd, ioctlUsbdevfsControl, unsafe.Pointer(&ctrl))
}

// claimInterface disconnects any kernel driver from iface and claims it.
// Kernels without USBDEVFS_DISCONNECT_CLAIM fall back to a plain claim.
func claimInterface(fd int, iface uint8) error {
	dc := disconnectClaim{iface: uint32(iface)}
	_, err := ioctlPtr(fd, ioctlUsbdevfsDisconnectClaim, unsafe.Pointer(&dc))
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		n := uint32(iface)
		_, err = ioctlPtr(fd, ioctlUsbdevfsClaimInterface, unsafe.Pointer(&n))
	}
	return err
}

func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlPtr(fd, ioctlUsbdevfsReleaseInterface, unsafe.Pointer(&n))
	return err
}

// clearHalt clears a stall condition on endpoint.
func clearHalt(fd int, endpoint uint8) error {
	ep := uint32(endpoint)
	_, err := ioctlPtr(fd, ioctlUsbdevfsClearHalt, unsafe.Pointer(&ep))
	return err
}

func resetDevice(fd int) error {
	_, err := ioctlPtr(fd, ioctlUsbdevfsReset, nil)
	return err
}

// submitURB queues u. u and its buffer must stay pinned until reaped.
func submitURB(fd int, u *urb) error {
	_, err := ioctlPtr(fd, ioctlUsbdevfsSubmitURB, unsafe.Pointer(u))
	return err
}

// discardURB cancels u. It is reaped afterwards with a cancelled status.
func discardURB(fd int, u *urb) error {
	_, err := ioctlPtr(fd, ioctlUsbdevfsDiscardURB, unsafe.Pointer(u))
	return err
}

// reapURBNDelay collects one completed URB. Returns EAGAIN if none is
// available.
func reapURBNDelay(fd int) (*urb, error) {
	var u *urb
	if _, err := ioctlPtr(fd, ioctlUsbdevfsReapURBNDelay, unsafe.Pointer(&u)); err != nil {
		return nil, err
	}
	return u, nil
}

// =============================================================================
// Status Mapping
// =============================================================================

// errnoStatus classifies a usbfs errno.
func errnoStatus(errno unix.Errno) pkg.TransferStatus {
	switch errno {
	case 0:
		return pkg.TransferStatusSuccess
	case unix.ENODEV, unix.ESHUTDOWN:
		return pkg.TransferStatusNoDevice
	case unix.EPIPE:
		return pkg.TransferStatusStall
	case unix.ETIMEDOUT:
		return pkg.TransferStatusTimeout
	case unix.ENOENT, unix.ECONNRESET:
		return pkg.TransferStatusCancelled
	case unix.EOVERFLOW:
		return pkg.TransferStatusOverflow
	default:
		return pkg.TransferStatusError
	}
}

// urbStatus classifies the status of a reaped URB (a negated errno).
func urbStatus(status int32) pkg.TransferStatus {
	return errnoStatus(unix.Errno(-status))
}

// statusError converts an ioctl failure into a driver error that still
// unwraps to the errno.
func statusError(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	return errors.Join(errnoStatus(errno).Error(), errno)
}

func isNoDevice(err error) bool {
	return errors.Is(err, unix.ENODEV)
}

func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}
