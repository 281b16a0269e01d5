package host

import (
	"context"
	"sync"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// InterruptState is the arming state of an interrupt endpoint.
type InterruptState int

// Interrupt endpoint states.
const (
	InterruptIdle  InterruptState = iota // No transfer in flight
	InterruptArmed                       // A transfer is outstanding
)

// String returns the state name.
func (s InterruptState) String() string {
	if s == InterruptArmed {
		return "armed"
	}
	return "idle"
}

// InterruptHandler receives one interrupt payload. It runs on the
// dispatcher goroutine and must not block; data is reused after it
// returns.
type InterruptHandler func(data []byte)

// InterruptEndpoint keeps one interrupt IN transfer outstanding while armed
// and hands every completed payload to its handler.
//
// A failed transfer leaves the endpoint idle until Start is called again.
type InterruptEndpoint struct {
	intf    *Interface
	ep      hal.EndpointDescriptor
	buf     []byte
	handler InterruptHandler

	mu     sync.Mutex
	state  InterruptState
	rearm  bool // Start was called while armed
	cancel context.CancelFunc
	done   chan struct{}
}

func newInterruptEndpoint(intf *Interface, ep hal.EndpointDescriptor, handler InterruptHandler) *InterruptEndpoint {
	size := int(ep.MaxPacketSize)
	if size == 0 {
		size = 64
	}
	return &InterruptEndpoint{
		intf:    intf,
		ep:      ep,
		buf:     make([]byte, size),
		handler: handler,
	}
}

// Endpoint returns the endpoint descriptor.
func (e *InterruptEndpoint) Endpoint() hal.EndpointDescriptor {
	return e.ep
}

// BufferLen returns the payload buffer length (the endpoint max packet size).
func (e *InterruptEndpoint) BufferLen() int {
	return len(e.buf)
}

// SetHandler replaces the payload handler. It takes effect with the next
// completed transfer.
func (e *InterruptEndpoint) SetHandler(h InterruptHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// State returns the current arming state.
func (e *InterruptEndpoint) State() InterruptState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start arms the endpoint. The dispatcher outlives ctx; only Stop or a
// transfer failure ends it. Starting an armed endpoint keeps it armed
// even if its outstanding transfer has already failed.
func (e *InterruptEndpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == InterruptArmed {
		e.rearm = true
		return nil
	}
	if e.done != nil {
		// Previous dispatcher failed on its own; it has already exited or
		// is about to.
		<-e.done
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = InterruptArmed
	go e.dispatch(runCtx, e.done)

	pkg.LogDebug(pkg.ComponentIRQ, "interrupt endpoint armed", "device", e.intf.name, "endpoint", e.ep.Address)
	return nil
}

// Stop disarms the endpoint and waits for the outstanding transfer to
// complete. It must not be called from the handler.
func (e *InterruptEndpoint) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.state = InterruptIdle
	e.rearm = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (e *InterruptEndpoint) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		n, err := e.intf.transport.InterruptTransfer(ctx, e.ep.Address, e.buf)
		if err != nil {
			if ctx.Err() == nil {
				pkg.LogError(pkg.ComponentIRQ, "interrupt transfer failed", "device", e.intf.name, "error", err)
			}
			e.mu.Lock()
			current := e.done == done
			retry := current && e.rearm && ctx.Err() == nil
			if current {
				e.rearm = false
				if !retry {
					e.state = InterruptIdle
				}
			}
			e.mu.Unlock()
			if retry {
				pkg.LogDebug(pkg.ComponentIRQ, "interrupt endpoint re-armed", "device", e.intf.name, "endpoint", e.ep.Address)
				continue
			}
			return
		}

		e.mu.Lock()
		h := e.handler
		e.rearm = false
		e.mu.Unlock()
		if h != nil {
			h(e.buf[:n])
		}
	}
}
