package ays

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// Endpoint numbers and descriptors.
const (
	commandEndpoint   = 1
	interruptEndpoint = 2
	commandChannel    = 0

	versionStringIndex = 4
	expectedVersion    = "7"
)

// Transfer sizes.
const (
	// LegacyTransferSize is the transfer size every board accepts.
	LegacyTransferSize = 0x4000

	// ExpandedTransferSize is proposed in the length handshake.
	ExpandedTransferSize = 0xC000
)

// Memory sizes fixed by the platform.
const (
	GlobalMemorySize = 8 << 20
	IOMemorySize     = 256 << 10
)

// NOVRAM offsets of the board identity.
const (
	NovramSerial      = 0x04
	NovramBoardConfig = 0x08
	NovramHwVariant   = 0x0C
	NovramBoardType   = 0x10
	NovramPartNo      = 0x1C
)

// Options configures an AYS backend.
type Options struct {
	// Timeout overrides the command channel timeout.
	Timeout time.Duration

	// TransferSize is proposed in the length handshake during Start.
	// Default ExpandedTransferSize. Values up to LegacyTransferSize skip
	// the handshake.
	TransferSize int
}

// Backend drives one AYS board.
type Backend struct {
	intf *host.Interface
	opts Options
	cmd  *host.Channel
	irq  *host.InterruptEndpoint

	// transferSize is the largest command the board accepts, header
	// included. It starts at LegacyTransferSize and grows with a
	// successful handshake.
	transferSize atomic.Int64
}

var _ host.Backend = (*Backend)(nil)

// New checks the protocol version of intf, creates the command channel and
// the optional interrupt endpoint and installs the backend.
func New(ctx context.Context, intf *host.Interface, opts Options) (*Backend, error) {
	if opts.TransferSize == 0 {
		opts.TransferSize = ExpandedTransferSize
	}
	b := &Backend{intf: intf, opts: opts}
	b.transferSize.Store(LegacyTransferSize)
	name := intf.Name()
	tr := intf.Transport()

	version, err := tr.StringDescriptor(ctx, versionStringIndex)
	if err != nil {
		pkg.LogError(pkg.ComponentAYS, "failed to read interface version", "device", name, "error", err)
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentAYS, "interface version", "device", name, "version", version)
	if version != expectedVersion {
		return nil, fmt.Errorf("%w: interface version %q, want %q", pkg.ErrNotSupported, version, expectedVersion)
	}

	eps := tr.Endpoints()
	out, okOut := hal.FindEndpoint(eps, commandEndpoint, false, hal.TransferBulk)
	in, okIn := hal.FindEndpoint(eps, commandEndpoint, true, hal.TransferBulk)
	if !okOut || !okIn {
		return nil, fmt.Errorf("%w: missing command endpoints", pkg.ErrNoDevice)
	}
	if b.cmd, err = intf.CreateChannel(commandChannel, out, in); err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		b.cmd.SetTimeout(opts.Timeout)
	}

	// The Zynq bridge takes exactly LegacyTransferSize bytes without a
	// terminating zero-length packet. The ZynqMP bridge always needs one.
	if intf.Platform() == host.PlatformAYS {
		b.cmd.SetMaxTransferLength(LegacyTransferSize)
	} else {
		b.cmd.SetMaxTransferLength(0)
	}

	if ep, ok := hal.FindEndpoint(eps, interruptEndpoint, true, hal.TransferInterrupt); ok {
		if b.irq, err = intf.CreateInterruptEndpoint(ep, b.handleInterrupt); err != nil {
			return nil, err
		}
	} else {
		pkg.LogWarn(pkg.ComponentAYS, "no interrupt endpoint detected", "device", name)
	}

	intf.SetBackend(b)
	return b, nil
}

// TransferSize returns the negotiated transfer size.
func (b *Backend) TransferSize() int {
	return int(b.transferSize.Load())
}

// Channel returns the command channel.
func (b *Backend) Channel() *host.Channel {
	return b.cmd
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start reads the board identity and negotiates the transfer size.
func (b *Backend) Start(ctx context.Context) error {
	name := b.intf.Name()
	pkg.LogDebug(pkg.ComponentAYS, "starting AYS device", "device", name)

	info := b.intf.Board()
	fields := []struct {
		what   string
		offset uint32
		dst    *uint32
	}{
		{"board config", NovramBoardConfig, &info.BoardConfig},
		{"board type", NovramBoardType, &info.BoardType},
		{"part number", NovramPartNo, &info.PartNo},
		{"hw variant", NovramHwVariant, &info.HwVariant},
		{"serial", NovramSerial, &info.Serial},
	}
	for _, f := range fields {
		v, err := b.NovramGet(ctx, f.offset)
		if err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to read "+f.what+" from NOVRAM", "device", name, "error", err)
			return fmt.Errorf("read %s: %w", f.what, err)
		}
		*f.dst = v
	}

	// Boards without long command support reject the handshake; the
	// legacy size stays in effect.
	if b.opts.TransferSize > LegacyTransferSize {
		if _, err := b.LengthHandshake(ctx, b.opts.TransferSize); err != nil {
			pkg.LogWarn(pkg.ComponentAYS, "length handshake failed", "device", name, "error", err)
		}
	}

	b.intf.SetBoard(info)
	b.intf.Global().Size = GlobalMemorySize
	b.intf.IO().Size = IOMemorySize

	pkg.LogInfo(pkg.ComponentAYS, "AYS started", "device", name, "serial", info.Serial,
		"config", info.BoardConfig, "type", info.BoardType, "transfer_size", b.TransferSize())
	return nil
}

// Stop forgets the memory sizes. The board itself keeps running.
func (b *Backend) Stop(ctx context.Context) {
	pkg.LogDebug(pkg.ComponentAYS, "stopping AYS device", "device", b.intf.Name())
	b.intf.Global().Reset()
	b.intf.IO().Reset()
}

// Free releases backend state once the interface is released.
func (b *Backend) Free() {
	pkg.LogDebug(pkg.ComponentAYS, "AYS backend released", "device", b.intf.Name())
}

// handleInterrupt forwards every interrupt payload as a loglist entry.
func (b *Backend) handleInterrupt(data []byte) {
	pkg.LogDebug(pkg.ComponentIRQ, "AYS interrupt", "device", b.intf.Name(), "len", len(data))
	b.intf.Notify(data)
}
