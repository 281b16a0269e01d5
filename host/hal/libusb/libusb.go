//go:build cgo

package libusb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Shared Context
// =============================================================================

// Context is a reference counted libusb context. Every Transport opened
// from it holds a reference; the context is closed once all are dropped.
type Context struct {
	usb  *gousb.Context
	refs atomic.Int32
}

// NewContext initializes libusb.
func NewContext() *Context {
	c := &Context{usb: gousb.NewContext()}
	c.refs.Store(1)
	return c
}

func (c *Context) ref() *Context {
	c.refs.Add(1)
	return c
}

// Close drops the caller's reference.
func (c *Context) Close() {
	if c.refs.Add(-1) == 0 {
		pkg.LogDebug(pkg.ComponentHAL, "closing libusb context")
		c.usb.Close()
	}
}

// Open opens every device accepted by match and claims interface iface of
// its active configuration. Devices that cannot be claimed are skipped
// with a warning.
func (c *Context) Open(match func(vid, pid uint16) bool, iface int) ([]*Transport, error) {
	devs, err := c.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return match(uint16(desc.Vendor), uint16(desc.Product))
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("%w: open devices: %v", pkg.ErrNoDevice, err)
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "some devices could not be opened", "error", err)
	}

	var transports []*Transport
	for _, dev := range devs {
		t, err := open(c, dev, iface)
		if err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "skipping device", "device", dev.String(), "error", err)
			continue
		}
		transports = append(transports, t)
	}
	return transports, nil
}

// =============================================================================
// Transport
// =============================================================================

// Transport is a libusb device with one claimed interface.
type Transport struct {
	ctx  *Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	info hal.DeviceInfo
	eps  []hal.EndpointDescriptor

	in  map[uint8]*gousb.InEndpoint
	out map[uint8]*gousb.OutEndpoint

	closeOnce sync.Once
}

var _ hal.Transport = (*Transport)(nil)

// open takes ownership of dev.
func open(c *Context, dev *gousb.Device, iface int) (_ *Transport, err error) {
	t := &Transport{
		ctx: c.ref(),
		dev: dev,
		info: hal.DeviceInfo{
			VendorID:  uint16(dev.Desc.Vendor),
			ProductID: uint16(dev.Desc.Product),
			Bus:       uint8(dev.Desc.Bus),
			Address:   uint8(dev.Desc.Address),
			Speed:     halSpeed(dev.Desc.Speed),
		},
		in:  make(map[uint8]*gousb.InEndpoint),
		out: make(map[uint8]*gousb.OutEndpoint),
	}
	defer func() {
		if err != nil {
			t.Close()
		}
	}()

	if err := dev.SetAutoDetach(true); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "kernel driver auto-detach unavailable", "device", dev.String(), "error", err)
	}
	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		return nil, fmt.Errorf("active config of %s: %w", dev, err)
	}
	if t.cfg, err = dev.Config(cfgNum); err != nil {
		return nil, fmt.Errorf("claim config %d of %s: %w", cfgNum, dev, err)
	}
	if t.intf, err = t.cfg.Interface(iface, 0); err != nil {
		return nil, fmt.Errorf("claim interface %d of %s: %w", iface, dev, err)
	}

	for _, desc := range t.intf.Setting.Endpoints {
		ep := halEndpoint(desc)
		t.eps = append(t.eps, ep)
		if desc.Direction == gousb.EndpointDirectionIn {
			if t.in[ep.Address], err = t.intf.InEndpoint(desc.Number); err != nil {
				return nil, fmt.Errorf("open endpoint %s: %w", desc, err)
			}
		} else {
			if t.out[ep.Address], err = t.intf.OutEndpoint(desc.Number); err != nil {
				return nil, fmt.Errorf("open endpoint %s: %w", desc, err)
			}
		}
	}
	slices.SortFunc(t.eps, func(a, b hal.EndpointDescriptor) int {
		return int(a.Address) - int(b.Address)
	})

	pkg.LogDebug(pkg.ComponentHAL, "libusb device opened", "device", dev.String(), "endpoints", len(t.eps))
	return t, nil
}

// Info returns the identity of the device.
func (t *Transport) Info() hal.DeviceInfo { return t.info }

// Endpoints returns the endpoints of the claimed interface.
func (t *Transport) Endpoints() []hal.EndpointDescriptor { return t.eps }

// BulkTransfer performs one bulk transfer.
func (t *Transport) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint&hal.EndpointDirIn != 0 {
		ep, ok := t.in[endpoint]
		if !ok {
			return 0, fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidParameter, endpoint)
		}
		n, err := ep.ReadContext(ctx, data)
		return n, transferError(ctx, err)
	}
	ep, ok := t.out[endpoint]
	if !ok {
		return 0, fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidParameter, endpoint)
	}
	n, err := ep.WriteContext(ctx, data)
	return n, transferError(ctx, err)
}

// InterruptTransfer performs one interrupt IN transfer. libusb picks the
// transfer type from the endpoint descriptor.
func (t *Transport) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return t.BulkTransfer(ctx, endpoint, data)
}

// StringDescriptor reads string descriptor index.
func (t *Transport) StringDescriptor(ctx context.Context, index uint8) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, err := t.dev.GetStringDescriptor(int(index))
	if err != nil {
		return "", fmt.Errorf("string descriptor %d: %w", index, transferError(ctx, err))
	}
	return s, nil
}

// Close releases the interface, the configuration and the device.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.intf != nil {
			t.intf.Close()
		}
		if t.cfg != nil {
			err = t.cfg.Close()
		}
		if cerr := t.dev.Close(); err == nil {
			err = cerr
		}
		t.ctx.Close()
	})
	return err
}

// =============================================================================
// Conversion
// =============================================================================

func halEndpoint(desc gousb.EndpointDesc) hal.EndpointDescriptor {
	interval := desc.PollInterval / time.Millisecond
	return hal.EndpointDescriptor{
		Address:       uint8(desc.Address),
		Attributes:    uint8(desc.TransferType) & 0x03,
		MaxPacketSize: uint16(desc.MaxPacketSize),
		Interval:      uint8(min(interval, 255)),
	}
}

func halSpeed(s gousb.Speed) hal.Speed {
	switch s {
	case gousb.SpeedLow:
		return hal.SpeedLow
	case gousb.SpeedFull:
		return hal.SpeedFull
	case gousb.SpeedHigh, gousb.SpeedSuper:
		return hal.SpeedHigh
	default:
		return hal.SpeedUnknown
	}
}

// transferError maps libusb failures onto driver errors. A failure caused
// by ctx is reported as the context error.
func transferError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	var status pkg.TransferStatus
	switch {
	case errors.Is(err, gousb.TransferStall), errors.Is(err, gousb.ErrorPipe):
		status = pkg.TransferStatusStall
	case errors.Is(err, gousb.TransferTimedOut), errors.Is(err, gousb.ErrorTimeout):
		status = pkg.TransferStatusTimeout
	case errors.Is(err, gousb.TransferCancelled), errors.Is(err, gousb.ErrorInterrupted):
		status = pkg.TransferStatusCancelled
	case errors.Is(err, gousb.TransferNoDevice), errors.Is(err, gousb.ErrorNoDevice):
		status = pkg.TransferStatusNoDevice
	case errors.Is(err, gousb.TransferOverflow), errors.Is(err, gousb.ErrorOverflow):
		status = pkg.TransferStatusOverflow
	default:
		status = pkg.TransferStatusError
	}
	return fmt.Errorf("%w: %v", status.Error(), err)
}
