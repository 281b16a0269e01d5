package apu

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/host/ncc"
	"github.com/aimusb/aimusb/pkg"
)

// Endpoint numbers of the bridge.
const (
	fifoOutEndpoint   = 1
	fifoInEndpoint    = 2
	configEndpoint    = 13
	pciEndpoint       = 14
	interruptEndpoint = 15
)

// Channel slots.
const (
	configChannel = 0
	pciChannel    = 1
	fifoChannel   = 2
)

// Defaults.
const (
	DefaultBootTimeout = 5 * time.Second
	MaxFirmwareSize    = 4 << 20
)

// Options configures an APU backend.
type Options struct {
	// Firmware holds the BIP_xxxx.sre images. Required for Start.
	Firmware fs.FS

	// BootTimeout bounds each wait for the BIU boot interrupt.
	// Default DefaultBootTimeout.
	BootTimeout time.Duration

	// Timeout overrides the per-transfer channel timeout.
	Timeout time.Duration

	// OnBIUInterrupt is called from the interrupt worker for every BIU
	// interrupt event. biu is 1 or 2. It must reach the board only inside
	// Interface.Exclusive (platform.Device does this). Stop does not wait
	// for a call in progress; once the board is closed, Exclusive fails
	// with ErrNotRunning.
	OnBIUInterrupt func(biu int)
}

// Backend drives one APU board.
type Backend struct {
	intf *host.Interface
	opts Options

	config *host.Channel
	pci    *host.Channel
	fifo   *host.Channel
	irq    *host.InterruptEndpoint

	ncc *ncc.Controller
	dma *ncc.DMA

	// sharedMu guards the contents of shared memory, which the interrupt
	// worker reads concurrently with callers.
	sharedMu sync.Mutex

	work   chan struct{}
	worker *irqWorker

	tcpVersion uint8
}

var _ host.Backend = (*Backend)(nil)

// New discovers the bridge endpoints of intf, creates its channels and
// interrupt endpoint and installs the backend.
func New(intf *host.Interface, opts Options) (*Backend, error) {
	if opts.BootTimeout <= 0 {
		opts.BootTimeout = DefaultBootTimeout
	}
	b := &Backend{
		intf: intf,
		opts: opts,
		work: make(chan struct{}, 1),
	}

	eps := intf.Transport().Endpoints()
	find := func(number uint8, in bool, typ hal.TransferType) (hal.EndpointDescriptor, error) {
		ep, ok := hal.FindEndpoint(eps, number, in, typ)
		if !ok {
			dir := "OUT"
			if in {
				dir = "IN"
			}
			return ep, fmt.Errorf("%w: missing %s endpoint %d %s", pkg.ErrNoDevice, typ, number, dir)
		}
		return ep, nil
	}

	channels := []struct {
		id      int
		out, in uint8
		ch      **host.Channel
	}{
		{configChannel, configEndpoint, configEndpoint, &b.config},
		{pciChannel, pciEndpoint, pciEndpoint, &b.pci},
		{fifoChannel, fifoOutEndpoint, fifoInEndpoint, &b.fifo},
	}
	for _, c := range channels {
		out, err := find(c.out, false, hal.TransferBulk)
		if err != nil {
			return nil, err
		}
		in, err := find(c.in, true, hal.TransferBulk)
		if err != nil {
			return nil, err
		}
		if *c.ch, err = intf.CreateChannel(c.id, out, in); err != nil {
			return nil, err
		}
		if opts.Timeout > 0 {
			(*c.ch).SetTimeout(opts.Timeout)
		}
	}
	b.config.SetMaxTransferLength(0)

	irqEP, err := find(interruptEndpoint, true, hal.TransferInterrupt)
	if err != nil {
		return nil, err
	}
	if b.irq, err = intf.CreateInterruptEndpoint(irqEP, b.handleInterrupt); err != nil {
		return nil, err
	}

	b.ncc = ncc.NewController(b.config, b.pci, b.fifo)
	b.dma = ncc.NewDMA(b.ncc)
	intf.SetBackend(b)
	return b, nil
}

// Controller returns the bridge controller.
func (b *Backend) Controller() *ncc.Controller {
	return b.ncc
}

// TCPVersion returns the TCP firmware version read during Start, or 0 if
// the TCP was already running.
func (b *Backend) TCPVersion() uint8 {
	return b.tcpVersion
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start brings the board up. Every step is fatal; the caller unwinds a
// failed Start with Stop.
func (b *Backend) Start(ctx context.Context) error {
	name := b.intf.Name()
	pkg.LogDebug(pkg.ComponentAPU, "starting APU", "device", name)

	steps := []struct {
		what string
		run  func(context.Context) error
	}{
		{"map PCI BARs", b.setupPCI},
		{"start TCP", b.startTCP},
		{"check NOVRAM", b.checkNovram},
		{"start BIU", b.startBIU},
		{"create global memory mirror", b.createMirror},
		{"enable interrupts", b.enableInterrupts},
		{"read board info", b.readBoardInfo},
		{"create shared memory", b.createSharedMemory},
	}
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			pkg.LogError(pkg.ComponentAPU, "failed to "+s.what, "device", name, "error", err)
			return fmt.Errorf("%s: %w", s.what, err)
		}
	}
	b.startWorker()
	b.ledOn(ctx)

	pkg.LogInfo(pkg.ComponentAPU, "APU started", "device", name, "serial", b.intf.Board().Serial)
	return nil
}

// Stop shuts the board down. It tolerates a partially completed Start.
func (b *Backend) Stop(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	pkg.LogDebug(pkg.ComponentAPU, "stopping APU", "device", b.intf.Name())

	b.stopWorker()
	if b.intf.IO().Mapped() {
		b.disableInterrupts(ctx)
	}

	global := b.intf.Global()
	global.Mirror = nil

	b.sharedMu.Lock()
	b.intf.Shared().Reset()
	b.sharedMu.Unlock()

	if b.intf.IO().Mapped() {
		b.stopBIU(ctx)
	}
	b.ledOff(ctx)

	global.Reset()
	b.intf.IO().Reset()
}

// Free releases backend state once the interface is released.
func (b *Backend) Free() {
	b.stopWorker()
	pkg.LogDebug(pkg.ComponentAPU, "APU backend released", "device", b.intf.Name())
}

func (b *Backend) readBoardInfo(ctx context.Context) error {
	info := b.intf.Board()
	fields := []struct {
		offset uint32
		dst    *uint32
	}{
		{NovramSerial, &info.Serial},
		{NovramBoardConfig, &info.BoardConfig},
		{NovramBoardType, &info.BoardType},
		{NovramBoardSubType, &info.SubType},
		{NovramPartNo, &info.PartNo},
		{NovramHwVariant, &info.HwVariant},
	}
	for _, f := range fields {
		v, err := b.NovramGet(ctx, f.offset)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	// Only the low half-word carries the serial number.
	info.Serial &= 0xFFFF
	b.intf.SetBoard(info)

	pkg.LogDebug(pkg.ComponentAPU, "board info", "device", b.intf.Name(),
		"serial", info.Serial, "config", info.BoardConfig, "type", info.BoardType)
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
