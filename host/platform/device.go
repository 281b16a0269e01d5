package platform

import (
	"context"
	"fmt"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/host/apu"
	"github.com/aimusb/aimusb/host/ays"
	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// Version is the driver version reported to callers.
type Version struct {
	Major, Minor, Patch, Build int
	Full                       string
}

// DriverVersion is the version of this driver core.
var DriverVersion = Version{Major: 1, Minor: 0, Patch: 0, Full: "1.0.0"}

// Options configures Attach.
type Options struct {
	// Name identifies the board in log output.
	Name string

	// Entry overrides the device table lookup.
	Entry *DeviceEntry

	// Notifier receives interrupt loglist entries. May be nil.
	Notifier host.Notifier

	// OnFree runs once the interface released all of its resources.
	OnFree func()

	APU apu.Options
	AYS ays.Options
}

// Device is an attached board.
type Device struct {
	intf  *host.Interface
	entry DeviceEntry
	apu   *apu.Backend
	ays   *ays.Backend
}

// Attach creates the interface for an opened transport and installs the
// backend of its platform. The board is started by the first Open.
func Attach(ctx context.Context, tr hal.Transport, opts Options) (*Device, error) {
	info := tr.Info()
	var entry DeviceEntry
	if opts.Entry != nil {
		entry = *opts.Entry
	} else {
		var ok bool
		if entry, ok = Lookup(info.VendorID, info.ProductID); !ok {
			return nil, fmt.Errorf("%w: device %04x:%04x", pkg.ErrNotSupported, info.VendorID, info.ProductID)
		}
	}
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d.%d", entry.Name, info.Bus, info.Address)
	}

	intf, err := host.NewInterface(host.Config{
		Name:      name,
		Transport: tr,
		Platform:  entry.Platform,
		Protocol:  entry.Protocol,
		Notifier:  opts.Notifier,
		OnFree:    opts.OnFree,
	})
	if err != nil {
		return nil, err
	}
	d := &Device{intf: intf, entry: entry}
	if err := d.init(ctx, opts); err != nil {
		pkg.LogError(pkg.ComponentPlatform, "failed to initialize hardware", "device", name, "error", err)
		intf.Detach()
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentPlatform, "board attached", "device", name, "platform", entry.Platform,
		"protocol", entry.Protocol)
	return d, nil
}

func (d *Device) init(ctx context.Context, opts Options) error {
	var err error
	switch d.entry.Platform {
	case host.PlatformAPU:
		d.apu, err = apu.New(d.intf, opts.APU)
	case host.PlatformAYS, host.PlatformAYSGen2:
		d.ays, err = ays.New(ctx, d.intf, opts.AYS)
	default:
		err = fmt.Errorf("%w: platform %s", pkg.ErrNotSupported, d.entry.Platform)
	}
	return err
}

// Interface returns the underlying interface.
func (d *Device) Interface() *host.Interface { return d.intf }

// Entry returns the device table entry the board was attached with.
func (d *Device) Entry() DeviceEntry { return d.entry }

// =============================================================================
// Lifecycle
// =============================================================================

// Open registers a user; the first one starts the board.
func (d *Device) Open(ctx context.Context) error {
	return d.intf.Open(ctx)
}

// Close unregisters a user; the last one stops the board.
func (d *Device) Close(ctx context.Context) error {
	return d.intf.Close(ctx)
}

// Detach reports that the board is gone. Resources are released once
// every user has closed it.
func (d *Device) Detach() {
	d.intf.Detach()
}

// =============================================================================
// Memory
// =============================================================================

// Read copies len(buf) bytes at offset of memory space mem into buf.
func (d *Device) Read(ctx context.Context, mem host.MemType, offset uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAPU:
			return d.apu.Read(ctx, mem, offset, buf)
		case host.PlatformAYS, host.PlatformAYSGen2:
			return d.ays.Read(ctx, mem, offset, buf)
		default:
			return d.unsupported("raw memory read")
		}
	})
}

// Write stores data at offset of memory space mem.
func (d *Device) Write(ctx context.Context, mem host.MemType, offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAPU:
			return d.apu.Write(ctx, mem, offset, data)
		case host.PlatformAYS, host.PlatformAYSGen2:
			return d.ays.Write(ctx, mem, offset, data)
		default:
			return d.unsupported("raw memory write")
		}
	})
}

// MemSize returns the size of memory space mem. Global-direct aliases
// global memory.
func (d *Device) MemSize(mem host.MemType) (uint32, error) {
	var size uint32
	switch mem {
	case host.MemGlobal, host.MemGlobalDirect:
		size = d.intf.Global().Size
	case host.MemShared:
		size = d.intf.Shared().Size
	case host.MemIO:
		size = d.intf.IO().Size
	default:
		return 0, fmt.Errorf("%w: memory type %s", pkg.ErrInvalidParameter, mem)
	}
	pkg.LogDebug(pkg.ComponentPlatform, "memory size", "device", d.intf.Name(), "type", mem, "size", size)
	return size, nil
}

// =============================================================================
// NOVRAM and TCP
// =============================================================================

// NovramGet reads the NOVRAM word at addr.
func (d *Device) NovramGet(ctx context.Context, addr uint32) (uint32, error) {
	var v uint32
	err := d.intf.Exclusive(func() error {
		var err error
		switch d.entry.Platform {
		case host.PlatformAPU:
			v, err = d.apu.NovramGet(ctx, addr)
		case host.PlatformAYS, host.PlatformAYSGen2:
			v, err = d.ays.NovramGet(ctx, addr)
		default:
			err = d.unsupported("NOVRAM get")
		}
		return err
	})
	return v, err
}

// NovramSet writes the NOVRAM word at addr. APU only.
func (d *Device) NovramSet(ctx context.Context, addr, value uint32) error {
	return d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAPU:
			return d.apu.NovramSet(ctx, addr, value)
		default:
			return d.unsupported("NOVRAM set")
		}
	})
}

// TCPRegRead reads a TCP port. APU only.
func (d *Device) TCPRegRead(ctx context.Context, port uint8) (uint8, error) {
	var v uint8
	err := d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAPU:
			var err error
			v, err = d.apu.TCPRegRead(ctx, port)
			return err
		default:
			return d.unsupported("TCP register read")
		}
	})
	return v, err
}

// TCPRegWrite writes a TCP port. APU only.
func (d *Device) TCPRegWrite(ctx context.Context, port, value uint8) error {
	return d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAPU:
			return d.apu.TCPRegWrite(ctx, port, value)
		default:
			return d.unsupported("TCP register write")
		}
	})
}

// =============================================================================
// Commands
// =============================================================================

// TargetCommand sends cmd to the board software and returns the length of
// the response written to resp. AYS only.
func (d *Device) TargetCommand(ctx context.Context, cmd, resp []byte) (int, error) {
	var n int
	err := d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAYS, host.PlatformAYSGen2:
			var err error
			n, err = d.ays.TargetCommand(ctx, cmd, resp)
			return err
		default:
			return d.unsupported("target command")
		}
	})
	return n, err
}

// ComChannelCmd runs a host-IO call on the board. AYS only.
func (d *Device) ComChannelCmd(ctx context.Context, cmd, resp []byte) (int, error) {
	var n int
	err := d.intf.Exclusive(func() error {
		switch d.entry.Platform {
		case host.PlatformAYS, host.PlatformAYSGen2:
			var err error
			n, err = d.ays.ComChannelCmd(ctx, cmd, resp)
			return err
		default:
			return d.unsupported("com channel command")
		}
	})
	return n, err
}

// =============================================================================
// Information
// =============================================================================

// BoardInfo returns the board identity and the number of open users.
func (d *Device) BoardInfo() host.BoardInfo {
	return d.intf.Board()
}

// Version returns the driver version.
func (d *Device) Version() Version {
	return DriverVersion
}

func (d *Device) unsupported(op string) error {
	pkg.LogError(pkg.ComponentPlatform, "platform does not support "+op, "device", d.intf.Name(),
		"platform", d.entry.Platform)
	return fmt.Errorf("%w: %s on %s", pkg.ErrNotSupported, op, d.entry.Platform)
}
