package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// Channel is a bulk OUT/IN endpoint pair with its own lock and timeout.
//
// Send, Receive and IssueCmd each hold the channel lock for their
// duration. Multi-step exchanges that must not interleave with other
// callers use Transaction.
type Channel struct {
	id   int
	intf *Interface
	out  hal.EndpointDescriptor
	in   hal.EndpointDescriptor

	mu sync.Mutex

	// Guarded by cfgMu so configuration changes do not wait on a
	// transfer in progress.
	cfgMu             sync.RWMutex
	timeout           time.Duration
	maxTransferLength int
}

// ID returns the channel slot.
func (c *Channel) ID() int {
	return c.id
}

// Out returns the OUT endpoint descriptor.
func (c *Channel) Out() hal.EndpointDescriptor {
	return c.out
}

// In returns the IN endpoint descriptor.
func (c *Channel) In() hal.EndpointDescriptor {
	return c.in
}

// SetTimeout sets the per-transfer timeout. Non-positive values restore
// DefaultTimeout.
func (c *Channel) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.cfgMu.Lock()
	c.timeout = d
	c.cfgMu.Unlock()
}

// Timeout returns the per-transfer timeout.
func (c *Channel) Timeout() time.Duration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.timeout
}

// SetMaxTransferLength sets the largest single transfer the device
// accepts. Zero means unbounded. A send of exactly this length is not
// followed by a zero-length packet.
func (c *Channel) SetMaxTransferLength(n int) {
	if n < 0 {
		n = 0
	}
	c.cfgMu.Lock()
	c.maxTransferLength = n
	c.cfgMu.Unlock()
}

// MaxTransferLength returns the largest single transfer, or 0 if unbounded.
func (c *Channel) MaxTransferLength() int {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.maxTransferLength
}

// needsZLP reports whether a send of n bytes must be terminated with a
// zero-length packet.
func (c *Channel) needsZLP(n int) bool {
	maxp := int(c.out.MaxPacketSize)
	if n == 0 || maxp == 0 {
		return false
	}
	return n%maxp == 0 && n != c.MaxTransferLength()
}

// Send transmits buf on the OUT endpoint.
func (c *Channel) Send(ctx context.Context, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, buf)
}

// Receive reads one bulk transfer into buf and returns the byte count.
func (c *Channel) Receive(ctx context.Context, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(ctx, buf)
}

// IssueCmd sends cmd and, if resp is not empty, receives the response,
// without releasing the channel in between.
func (c *Channel) IssueCmd(ctx context.Context, cmd, resp []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(ctx, cmd); err != nil {
		return 0, err
	}
	if len(resp) == 0 {
		return 0, nil
	}
	return c.receive(ctx, resp)
}

// Tx gives unlocked access to a channel inside Transaction.
type Tx struct {
	c   *Channel
	ctx context.Context
}

// Send transmits buf on the OUT endpoint.
func (t *Tx) Send(buf []byte) error {
	return t.c.send(t.ctx, buf)
}

// Receive reads one bulk transfer into buf.
func (t *Tx) Receive(buf []byte) (int, error) {
	return t.c.receive(t.ctx, buf)
}

// Transaction runs fn while holding the channel lock.
func (c *Channel) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&Tx{c: c, ctx: ctx})
}

func (c *Channel) send(ctx context.Context, buf []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	n, err := c.intf.transport.BulkTransfer(ctx, c.out.Address, buf)
	if err != nil {
		return c.transferError("send", err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: channel %d sent %d of %d bytes", pkg.ErrIO, c.id, n, len(buf))
	}
	if c.needsZLP(len(buf)) {
		if _, err := c.intf.transport.BulkTransfer(ctx, c.out.Address, nil); err != nil {
			return c.transferError("zero-length packet", err)
		}
	}
	return nil
}

func (c *Channel) receive(ctx context.Context, buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	n, err := c.intf.transport.BulkTransfer(ctx, c.in.Address, buf)
	if err != nil {
		return n, c.transferError("receive", err)
	}
	return n, nil
}

func (c *Channel) transferError(op string, err error) error {
	pkg.LogDebug(pkg.ComponentChannel, op+" failed", "device", c.intf.name, "channel", c.id, "error", err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: channel %d %s", pkg.ErrTimeout, c.id, op)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: channel %d %s", pkg.ErrCancelled, c.id, op)
	}
	return fmt.Errorf("channel %d %s: %w", c.id, op, err)
}
