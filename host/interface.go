package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// Backend brings a platform from power-on to operational and back.
//
// Start and Stop are called with the interface I/O lock held, on the first
// open and the last close respectively. Stop must tolerate a partially
// completed Start. Free runs once, when the interface is released.
type Backend interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Free()
}

// MemorySync refreshes part of a host mirror before it is read.
type MemorySync func(ctx context.Context, offset uint32, n int) error

// Config describes an interface at attach time.
type Config struct {
	// Name identifies the board in log output. Defaults to the transport's
	// vendor:product pair.
	Name string

	// Transport is the opened device interface. The Interface owns it and
	// closes it on release.
	Transport hal.Transport

	Platform Platform
	Protocol Protocol

	// Notifier receives interrupt events. May be nil.
	Notifier Notifier

	// OnFree runs after the interface released all of its resources.
	OnFree func()
}

// Interface is one attached board.
//
// The attach reference is taken by NewInterface and dropped by Detach.
// Every successful Open takes one more reference and the matching Close
// drops it. Resources are released when the last reference is dropped.
type Interface struct {
	name      string
	transport hal.Transport
	platform  Platform
	protocol  Protocol
	notifier  Notifier
	onFree    func()

	ref      *refcount
	detached atomic.Bool

	// ioMu serializes open, close and whole caller operations. users is
	// only modified with ioMu held.
	ioMu  sync.Mutex
	users atomic.Int32

	mu       sync.Mutex
	backend  Backend
	channels [MaxChannels]*Channel
	irq      *InterruptEndpoint
	board    BoardInfo
	memSync  MemorySync

	global MemorySpace
	io     MemorySpace
	shared MemorySpace
}

// NewInterface creates an interface holding the attach reference.
func NewInterface(cfg Config) (*Interface, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: nil transport", pkg.ErrInvalidParameter)
	}
	name := cfg.Name
	if name == "" {
		info := cfg.Transport.Info()
		name = fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)
	}
	i := &Interface{
		name:      name,
		transport: cfg.Transport,
		platform:  cfg.Platform,
		protocol:  cfg.Protocol,
		notifier:  cfg.Notifier,
		onFree:    cfg.OnFree,
	}
	i.ref = newRefcount(i.free)
	i.board.Platform = cfg.Platform
	i.board.Protocol = cfg.Protocol
	i.board.HasASP = cfg.Platform.HasASP()
	pkg.LogDebug(pkg.ComponentInterface, "interface attached", "device", name, "platform", cfg.Platform)
	return i, nil
}

// Name returns the log name of the interface.
func (i *Interface) Name() string { return i.name }

// Platform returns the platform tag.
func (i *Interface) Platform() Platform { return i.platform }

// Protocol returns the protocol tag.
func (i *Interface) Protocol() Protocol { return i.protocol }

// Transport returns the underlying transport.
func (i *Interface) Transport() hal.Transport { return i.transport }

// SetBackend installs the platform backend. It must be called before the
// first Open.
func (i *Interface) SetBackend(b Backend) {
	i.mu.Lock()
	i.backend = b
	i.mu.Unlock()
}

// =============================================================================
// Channels and Interrupt Endpoint
// =============================================================================

// CreateChannel binds slot id to the given bulk OUT and bulk IN endpoints.
func (i *Interface) CreateChannel(id int, out, in hal.EndpointDescriptor) (*Channel, error) {
	if id < 0 || id >= MaxChannels {
		return nil, fmt.Errorf("%w: channel id %d", pkg.ErrInvalidParameter, id)
	}
	if out.IsIn() || out.TransferType() != hal.TransferBulk {
		return nil, fmt.Errorf("%w: endpoint %#02x is not bulk OUT", pkg.ErrInvalidParameter, out.Address)
	}
	if !in.IsIn() || in.TransferType() != hal.TransferBulk {
		return nil, fmt.Errorf("%w: endpoint %#02x is not bulk IN", pkg.ErrInvalidParameter, in.Address)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.channels[id] != nil {
		return nil, fmt.Errorf("%w: channel %d", pkg.ErrAlreadyExists, id)
	}
	c := &Channel{
		id:      id,
		intf:    i,
		out:     out,
		in:      in,
		timeout: DefaultTimeout,
	}
	i.channels[id] = c
	pkg.LogDebug(pkg.ComponentChannel, "channel created", "device", i.name, "channel", id,
		"out", out.Address, "in", in.Address)
	return c, nil
}

// Channel returns the channel bound to slot id.
func (i *Interface) Channel(id int) (*Channel, error) {
	if id < 0 || id >= MaxChannels {
		return nil, fmt.Errorf("%w: channel id %d", pkg.ErrInvalidParameter, id)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.channels[id] == nil {
		return nil, fmt.Errorf("%w: channel %d", pkg.ErrNotFound, id)
	}
	return i.channels[id], nil
}

// CreateInterruptEndpoint binds the interrupt IN endpoint. The endpoint is
// armed on the first Open and disarmed on the last Close.
func (i *Interface) CreateInterruptEndpoint(ep hal.EndpointDescriptor, handler InterruptHandler) (*InterruptEndpoint, error) {
	if !ep.IsIn() || ep.TransferType() != hal.TransferInterrupt {
		return nil, fmt.Errorf("%w: endpoint %#02x is not interrupt IN", pkg.ErrInvalidParameter, ep.Address)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.irq != nil {
		return nil, fmt.Errorf("%w: interrupt endpoint", pkg.ErrAlreadyExists)
	}
	i.irq = newInterruptEndpoint(i, ep, handler)
	return i.irq, nil
}

// InterruptEndpoint returns the bound interrupt endpoint, or nil.
func (i *Interface) InterruptEndpoint() *InterruptEndpoint {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.irq
}

// =============================================================================
// Lifecycle
// =============================================================================

// Open registers a user. The first user starts the board.
func (i *Interface) Open(ctx context.Context) error {
	i.ioMu.Lock()
	defer i.ioMu.Unlock()

	if i.detached.Load() || !i.ref.tryGet() {
		return pkg.ErrNoDevice
	}
	if i.users.Add(1) == 1 {
		if err := i.start(ctx); err != nil {
			i.users.Add(-1)
			i.ref.put()
			return err
		}
	}
	pkg.LogDebug(pkg.ComponentInterface, "opened", "device", i.name, "users", i.users.Load())
	return nil
}

// Close unregisters a user. The last user stops the board.
func (i *Interface) Close(ctx context.Context) error {
	i.ioMu.Lock()
	defer i.ioMu.Unlock()

	switch i.users.Load() {
	case 0:
		return pkg.ErrNotRunning
	case 1:
		i.stop(ctx)
	}
	users := i.users.Add(-1)
	pkg.LogDebug(pkg.ComponentInterface, "closed", "device", i.name, "users", users)
	i.ref.put()
	return nil
}

// Detach drops the attach reference. Further opens fail; the interface is
// released once every open user has closed it.
func (i *Interface) Detach() {
	if i.detached.Swap(true) {
		return
	}
	pkg.LogDebug(pkg.ComponentInterface, "interface detached", "device", i.name)
	i.ref.put()
}

// ActiveUsers returns the number of open users.
func (i *Interface) ActiveUsers() int {
	return int(i.users.Load())
}

// Exclusive runs fn under the interface I/O lock. It fails with
// ErrNotRunning if nobody holds the interface open.
func (i *Interface) Exclusive(fn func() error) error {
	i.ioMu.Lock()
	defer i.ioMu.Unlock()
	if i.users.Load() == 0 {
		return pkg.ErrNotRunning
	}
	return fn()
}

func (i *Interface) start(ctx context.Context) error {
	i.mu.Lock()
	irq, backend := i.irq, i.backend
	i.mu.Unlock()

	pkg.LogInfo(pkg.ComponentInterface, "starting", "device", i.name, "platform", i.platform)
	if irq != nil {
		if err := irq.Start(ctx); err != nil {
			return err
		}
	}
	if backend != nil {
		if err := backend.Start(ctx); err != nil {
			pkg.LogError(pkg.ComponentInterface, "start failed", "device", i.name, "error", err)
			i.stop(ctx)
			return err
		}
	}
	return nil
}

func (i *Interface) stop(ctx context.Context) {
	i.mu.Lock()
	irq, backend := i.irq, i.backend
	i.mu.Unlock()

	pkg.LogInfo(pkg.ComponentInterface, "stopping", "device", i.name)
	if backend != nil {
		backend.Stop(ctx)
	}
	if irq != nil {
		irq.Stop()
	}
}

// free releases every resource. It runs exactly once, from the final put.
func (i *Interface) free() {
	i.mu.Lock()
	irq, backend := i.irq, i.backend
	i.irq = nil
	for id := range i.channels {
		i.channels[id] = nil
	}
	i.mu.Unlock()

	if irq != nil {
		irq.Stop()
	}
	if backend != nil {
		backend.Free()
	}
	if err := i.transport.Close(); err != nil {
		pkg.LogWarn(pkg.ComponentInterface, "transport close failed", "device", i.name, "error", err)
	}
	pkg.LogDebug(pkg.ComponentInterface, "interface released", "device", i.name)
	if i.onFree != nil {
		i.onFree()
	}
}

// =============================================================================
// Board State
// =============================================================================

// Board returns the board information with the current user count.
func (i *Interface) Board() BoardInfo {
	i.mu.Lock()
	b := i.board
	i.mu.Unlock()
	b.OpenConnections = i.ActiveUsers()
	return b
}

// SetBoard stores board information read during bring-up. Platform,
// protocol and ASP flag stay as configured at attach time.
func (i *Interface) SetBoard(b BoardInfo) {
	i.mu.Lock()
	defer i.mu.Unlock()
	b.Platform = i.board.Platform
	b.Protocol = i.board.Protocol
	b.HasASP = i.board.HasASP
	i.board = b
}

// Global returns the global memory space.
func (i *Interface) Global() *MemorySpace { return &i.global }

// IO returns the I/O register space.
func (i *Interface) IO() *MemorySpace { return &i.io }

// Shared returns the shared memory space.
func (i *Interface) Shared() *MemorySpace { return &i.shared }

// SetMemorySync installs the hook run before global memory is read from
// the host mirror.
func (i *Interface) SetMemorySync(fn MemorySync) {
	i.mu.Lock()
	i.memSync = fn
	i.mu.Unlock()
}

// SyncMemory runs the installed memory sync hook, if any.
func (i *Interface) SyncMemory(ctx context.Context, offset uint32, n int) error {
	i.mu.Lock()
	fn := i.memSync
	i.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, offset, n)
}

// Notify forwards an interrupt loglist entry to the notifier.
func (i *Interface) Notify(entry []byte) {
	if i.notifier == nil {
		pkg.LogDebug(pkg.ComponentIRQ, "no notifier, event dropped", "device", i.name, "len", len(entry))
		return
	}
	if err := i.notifier.Notify(GroupIRQEvent, CommandLoglistEvent, AttrLoglistEntry, entry); err != nil {
		pkg.LogError(pkg.ComponentIRQ, "failed to send interrupt loglist entry", "device", i.name, "error", err)
	}
}
