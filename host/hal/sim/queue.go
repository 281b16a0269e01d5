package sim

import (
	"context"
	"sync"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// endpointQueues holds replies waiting on IN endpoints.
type endpointQueues struct {
	mu     sync.Mutex
	queued map[uint8][][]byte
	ready  chan struct{}
	closed bool
}

func newEndpointQueues() *endpointQueues {
	return &endpointQueues{
		queued: make(map[uint8][][]byte),
		ready:  make(chan struct{}),
	}
}

// push queues data on IN endpoint ep and wakes waiting readers.
func (q *endpointQueues) push(ep uint8, data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued[ep] = append(q.queued[ep], data)
	q.wake()
}

// wake must be called with mu held.
func (q *endpointQueues) wake() {
	close(q.ready)
	q.ready = make(chan struct{})
}

// pop fills buf from the first reply queued on ep, waiting for one if
// necessary.
func (q *endpointQueues) pop(ctx context.Context, ep uint8, buf []byte) (int, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, pkg.ErrNoDevice
		}
		if r := q.queued[ep]; len(r) > 0 {
			q.queued[ep] = r[1:]
			q.mu.Unlock()
			return copy(buf, r[0]), nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ready:
		}
	}
}

// pending returns the number of replies queued on ep.
func (q *endpointQueues) pending(ep uint8) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued[ep])
}

func (q *endpointQueues) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wake()
	}
}

func (q *endpointQueues) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// interruptPipe delivers interrupt payloads to InterruptTransfer.
type interruptPipe struct {
	payloads chan []byte
	done     chan struct{}
	once     sync.Once
}

func newInterruptPipe() *interruptPipe {
	return &interruptPipe{
		payloads: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// send queues payload without blocking and reports whether it was queued.
func (p *interruptPipe) send(payload []byte) bool {
	select {
	case p.payloads <- payload:
		return true
	default:
		return false
	}
}

func (p *interruptPipe) receive(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return 0, pkg.ErrNoDevice
	case payload := <-p.payloads:
		return copy(buf, payload), nil
	}
}

func (p *interruptPipe) close() {
	p.once.Do(func() { close(p.done) })
}

func bulkEndpoint(addr uint8, maxp uint16) hal.EndpointDescriptor {
	return hal.EndpointDescriptor{Address: addr, Attributes: uint8(hal.TransferBulk), MaxPacketSize: maxp}
}

func interruptEndpoint(addr uint8, maxp uint16) hal.EndpointDescriptor {
	return hal.EndpointDescriptor{Address: addr, Attributes: uint8(hal.TransferInterrupt), MaxPacketSize: maxp, Interval: 1}
}
