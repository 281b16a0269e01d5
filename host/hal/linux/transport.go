//go:build linux

package linux

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// Transport is an opened usbfs device with one claimed interface.
type Transport struct {
	dev   Device
	fd    int
	iface uint8
	eps   []hal.EndpointDescriptor

	mu      sync.Mutex
	pending map[*urb]chan struct{}
	gone    bool
	closed  bool

	reaped chan struct{}
}

var _ hal.Transport = (*Transport)(nil)

// Open opens dev, claims interface iface and starts the URB reaper.
func Open(dev Device, iface uint8) (*Transport, error) {
	fd, err := openDevice(dev.DevfsPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev.DevfsPath, statusError(err))
	}

	desc, err := readDescriptors(fd)
	if err != nil {
		closeDevice(fd)
		return nil, fmt.Errorf("read descriptors of %s: %w", dev.DevfsPath, statusError(err))
	}
	eps := hal.ParseEndpoints(desc, iface)
	if len(eps) == 0 {
		closeDevice(fd)
		return nil, fmt.Errorf("%w: interface %d of %s has no endpoints", pkg.ErrNoDevice, iface, dev.DevfsPath)
	}

	if err := claimInterface(fd, iface); err != nil {
		closeDevice(fd)
		return nil, fmt.Errorf("claim interface %d of %s: %w", iface, dev.DevfsPath, statusError(err))
	}

	t := &Transport{
		dev:     dev,
		fd:      fd,
		iface:   iface,
		eps:     eps,
		pending: make(map[*urb]chan struct{}),
		reaped:  make(chan struct{}),
	}
	go t.reap()

	pkg.LogDebug(pkg.ComponentHAL, "usbfs device opened",
		"path", dev.DevfsPath,
		"vid", fmt.Sprintf("0x%04x", dev.VendorID),
		"pid", fmt.Sprintf("0x%04x", dev.ProductID),
		"endpoints", len(eps))
	return t, nil
}

// Info returns the identity of the device.
func (t *Transport) Info() hal.DeviceInfo { return t.dev.DeviceInfo }

// Device returns the sysfs description the transport was opened from.
func (t *Transport) Device() Device { return t.dev }

// Endpoints returns the endpoints of the claimed interface.
func (t *Transport) Endpoints() []hal.EndpointDescriptor { return t.eps }

// BulkTransfer performs one bulk transfer.
func (t *Transport) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return t.transfer(ctx, URBTypeBulk, endpoint, data)
}

// InterruptTransfer performs one interrupt IN transfer.
func (t *Transport) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return t.transfer(ctx, URBTypeInterrupt, endpoint, data)
}

// StringDescriptor reads string descriptor index in US English.
func (t *Transport) StringDescriptor(ctx context.Context, index uint8) (string, error) {
	if t.isGone() {
		return "", pkg.ErrNoDevice
	}
	buf := make([]byte, MaxStringDescriptorSize)
	n, err := controlTransfer(t.fd, hal.StringDescriptorRequest(index, uint16(len(buf))), buf, controlTimeout(ctx))
	if err != nil {
		if isNoDevice(err) {
			t.markGone()
		}
		return "", fmt.Errorf("string descriptor %d: %w", index, statusError(err))
	}
	s, ok := hal.DecodeStringDescriptor(buf[:n])
	if !ok {
		return "", fmt.Errorf("%w: malformed string descriptor %d", pkg.ErrIO, index)
	}
	return s, nil
}

// ClearHalt clears a stall on endpoint.
func (t *Transport) ClearHalt(endpoint uint8) error {
	if err := clearHalt(t.fd, endpoint); err != nil {
		return statusError(err)
	}
	return nil
}

// Reset issues a USB port reset. The device re-enumerates afterwards and
// the transport must be reopened.
func (t *Transport) Reset() error {
	if err := resetDevice(t.fd); err != nil {
		return statusError(err)
	}
	return nil
}

// Close cancels outstanding transfers, releases the interface and closes
// the device node.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for u := range t.pending {
		discardURB(t.fd, u)
	}
	t.mu.Unlock()

	<-t.reaped

	if !t.isGone() {
		if err := releaseInterface(t.fd, t.iface); err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "release interface failed", "path", t.dev.DevfsPath, "error", err)
		}
	}
	pkg.LogDebug(pkg.ComponentHAL, "usbfs device closed", "path", t.dev.DevfsPath)
	return closeDevice(t.fd)
}

// =============================================================================
// URB Handling
// =============================================================================

func (t *Transport) transfer(ctx context.Context, typ uint8, endpoint uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	u := &urb{typ: typ, endpoint: endpoint, bufferLength: int32(len(data))}
	var pin runtime.Pinner
	defer pin.Unpin()
	pin.Pin(u)
	if len(data) > 0 {
		pin.Pin(&data[0])
		u.buffer = uintptr(unsafe.Pointer(&data[0]))
	}

	done := make(chan struct{})
	t.mu.Lock()
	if t.gone || t.closed {
		t.mu.Unlock()
		return 0, pkg.ErrNoDevice
	}
	t.pending[u] = done
	err := submitURB(t.fd, u)
	if err != nil {
		delete(t.pending, u)
	}
	t.mu.Unlock()
	if err != nil {
		if isNoDevice(err) {
			t.markGone()
		}
		return 0, fmt.Errorf("submit to endpoint %#02x: %w", endpoint, statusError(err))
	}

	select {
	case <-done:
	case <-ctx.Done():
		// The URB may complete before the discard lands; its status
		// decides below.
		discardURB(t.fd, u)
		<-done
	}

	n := int(u.actualLength)
	switch st := urbStatus(u.status); st {
	case pkg.TransferStatusSuccess:
		return n, nil
	case pkg.TransferStatusCancelled:
		if err := ctx.Err(); err != nil {
			return n, err
		}
		return n, fmt.Errorf("%w: endpoint %#02x", pkg.ErrCancelled, endpoint)
	default:
		return n, fmt.Errorf("%w: endpoint %#02x status %d", st.Error(), endpoint, u.status)
	}
}

// reap collects completed URBs until the transport is closed and drained,
// or the device disappears.
func (t *Transport) reap() {
	defer close(t.reaped)

	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLOUT}}
	timeout := int(reapInterval / time.Millisecond)
	for {
		t.mu.Lock()
		drained := t.closed && len(t.pending) == 0
		t.mu.Unlock()
		if drained {
			return
		}

		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			pkg.LogError(pkg.ComponentHAL, "usbfs poll failed", "path", t.dev.DevfsPath, "error", err)
			t.abort()
			return
		}
		if n == 0 {
			continue
		}

		if !t.reapAll() {
			t.abort()
			return
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			pkg.LogInfo(pkg.ComponentHAL, "usb device disconnected", "path", t.dev.DevfsPath)
			t.abort()
			return
		}
	}
}

// reapAll collects every completed URB. It returns false once the device
// is gone.
func (t *Transport) reapAll() bool {
	for {
		u, err := reapURBNDelay(t.fd)
		switch {
		case err == nil:
			t.complete(u)
		case isAgain(err):
			return true
		case isNoDevice(err):
			return false
		default:
			pkg.LogWarn(pkg.ComponentHAL, "reap failed", "path", t.dev.DevfsPath, "error", err)
			return true
		}
	}
}

func (t *Transport) complete(u *urb) {
	t.mu.Lock()
	done, ok := t.pending[u]
	delete(t.pending, u)
	t.mu.Unlock()
	if ok {
		close(done)
	}
}

// abort fails every outstanding transfer with a no-device status.
func (t *Transport) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone = true
	for u, done := range t.pending {
		u.status = -int32(unix.ENODEV)
		close(done)
		delete(t.pending, u)
	}
}

func (t *Transport) markGone() {
	t.mu.Lock()
	t.gone = true
	t.mu.Unlock()
}

func (t *Transport) isGone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gone
}

// controlTimeout derives a usbfs timeout from the context deadline.
func controlTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return DefaultControlTimeout
	}
	return max(time.Until(deadline), time.Millisecond)
}
