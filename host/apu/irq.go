package apu

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/aimusb/aimusb/host/ncc"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Interrupt Enable
// =============================================================================

// enableInterrupts enables PCI INTA forwarding in the bridge and BIU
// interrupts on the board.
func (b *Backend) enableInterrupts(ctx context.Context) error {
	pkg.LogDebug(pkg.ComponentAPU, "enabling interrupts", "device", b.intf.Name())

	if err := b.ncc.RegWrite(ctx, ncc.RegIRQStat1, ncc.IRQStat1PCIIntA.Set(0)); err != nil {
		return err
	}
	v, err := b.ncc.RegRead(ctx, ncc.RegUSBIRQ)
	if err != nil {
		return err
	}
	v = ncc.USBIRQPCIIntAEnable.Set(v)
	v = ncc.USBIRQEnable.Set(v)
	if err := b.ncc.RegWrite(ctx, ncc.RegUSBIRQ, v); err != nil {
		return err
	}

	if err := b.ioWrite(ctx, ioIRQEvent, events); err != nil {
		return err
	}
	// Mask bits are active low.
	if err := b.ioWrite(ctx, ioIRQMask, ^uint32(events)); err != nil {
		return err
	}
	return b.ioWrite(ctx, ioIRQEvent, EventEnable)
}

// disableInterrupts stops the bridge from forwarding PCI INTA.
func (b *Backend) disableInterrupts(ctx context.Context) {
	v, err := b.ncc.RegRead(ctx, ncc.RegUSBIRQ)
	if err == nil {
		v = ncc.USBIRQPCIIntAEnable.Clear(v)
		v = ncc.USBIRQEnable.Clear(v)
		err = b.ncc.RegWrite(ctx, ncc.RegUSBIRQ, v)
	}
	if err != nil {
		pkg.LogError(pkg.ComponentAPU, "failed to disable interrupts", "device", b.intf.Name(), "error", err)
	}
}

// PCIIntAck reads and acknowledges the BIU interrupt events and clears the
// bridge PCI INTA status. It returns the events read.
func (b *Backend) PCIIntAck(ctx context.Context) (uint32, error) {
	event, err := b.ioRead(ctx, ioIRQEvent)
	if err != nil {
		return 0, err
	}
	if err := b.ioWrite(ctx, ioIRQEvent, events|EventEnable); err != nil {
		return 0, err
	}
	if err := b.ncc.RegWrite(ctx, ncc.RegIRQStat1, ncc.IRQStat1PCIIntA.Set(0)); err != nil {
		return 0, err
	}
	return event, nil
}

// =============================================================================
// Interrupt Endpoint Handler
// =============================================================================

// handleInterrupt runs on the interrupt dispatcher. The payload is the
// bridge IRQSTAT1 register.
func (b *Backend) handleInterrupt(data []byte) {
	if len(data) < 4 || len(data) != b.irq.BufferLen() {
		pkg.LogError(pkg.ComponentIRQ, "interrupt with wrong data length",
			"device", b.intf.Name(), "len", len(data), "want", b.irq.BufferLen())
		return
	}
	status := binary.LittleEndian.Uint32(data)
	pkg.LogDebug(pkg.ComponentIRQ, "bridge interrupt", "device", b.intf.Name(), "status", status)

	if !ncc.IRQStat1PCIIntA.IsSet(status) {
		return
	}
	// Pending work already covers this interrupt.
	select {
	case b.work <- struct{}{}:
	default:
	}
}

// =============================================================================
// Interrupt Worker
// =============================================================================

// irqWorker is one run of the interrupt worker goroutine.
type irqWorker struct {
	cancel context.CancelFunc
	done   chan struct{}

	// mu orders hook entry against stop: no hook starts once stopped is
	// set, and inHook tells stop whether the worker is inside a hook.
	mu      sync.Mutex
	stopped bool
	inHook  bool
}

func (b *Backend) startWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	w := &irqWorker{cancel: cancel, done: make(chan struct{})}
	b.worker = w

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.work:
				b.service(ctx, w)
			}
		}
	}()
}

// stopWorker cancels the worker and waits for it to exit, unless it is
// inside OnBIUInterrupt. A hook may be blocked on the interface I/O lock
// held by our caller; the worker exits without touching the board once
// the hook returns.
func (b *Backend) stopWorker() {
	w := b.worker
	if w == nil {
		return
	}
	b.worker = nil

	w.mu.Lock()
	w.stopped = true
	w.cancel()
	busy := w.inHook
	w.mu.Unlock()

	if busy {
		pkg.LogDebug(pkg.ComponentIRQ, "interrupt worker left in BIU hook", "device", b.intf.Name())
		return
	}
	<-w.done
}

// callHook runs OnBIUInterrupt for biu. It reports false if the worker
// was stopped before or during the call.
func (w *irqWorker) callHook(hook func(int), biu int) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.inHook = true
	w.mu.Unlock()

	hook(biu)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inHook = false
	return !w.stopped
}

// service acknowledges interrupts until the bridge reports no pending
// PCI INTA, then forwards the interrupt loglist.
func (b *Backend) service(ctx context.Context, w *irqWorker) {
	for {
		event, err := b.PCIIntAck(ctx)
		if err != nil {
			if ctx.Err() == nil {
				pkg.LogError(pkg.ComponentIRQ, "failed to acknowledge interrupt", "device", b.intf.Name(), "error", err)
			}
			return
		}
		if hook := b.opts.OnBIUInterrupt; hook != nil {
			for _, biu := range []struct {
				bit uint32
				n   int
			}{{EventBIU1, 1}, {EventBIU2, 2}} {
				if event&biu.bit != 0 && !w.callHook(hook, biu.n) {
					return
				}
			}
		}

		status, err := b.ncc.RegRead(ctx, ncc.RegIRQStat1)
		if err != nil {
			if ctx.Err() == nil {
				pkg.LogError(pkg.ComponentIRQ, "failed to read bridge interrupt status", "device", b.intf.Name(), "error", err)
			}
			return
		}
		if !ncc.IRQStat1PCIIntA.IsSet(status) {
			break
		}
	}
	b.forwardLoglist()
}

// =============================================================================
// Interrupt Loglist
// =============================================================================

// forwardLoglist drains the shared memory loglist into the notifier.
func (b *Backend) forwardLoglist() {
	var entry [LoglistEntrySize]byte
	for b.nextLoglistEntry(entry[:]) {
		b.intf.Notify(entry[:])
	}
}

// nextLoglistEntry copies the oldest unread entry into entry and advances
// the get counter. It reports false when the loglist is empty.
func (b *Backend) nextLoglistEntry(entry []byte) bool {
	b.sharedMu.Lock()
	defer b.sharedMu.Unlock()

	shared := b.intf.Shared().Mirror
	if len(shared) < LoglistOffset+loglistHeaderSize+LoglistEntries*LoglistEntrySize {
		return false
	}
	loglist := shared[LoglistOffset:]
	put := binary.LittleEndian.Uint32(loglist[0:])
	get := binary.LittleEndian.Uint32(loglist[4:])
	pkg.LogDebug(pkg.ComponentIRQ, "interrupt loglist", "device", b.intf.Name(), "put", put, "get", get)
	if get == put {
		return false
	}

	get %= LoglistEntries
	off := loglistHeaderSize + int(get)*LoglistEntrySize
	copy(entry, loglist[off:off+LoglistEntrySize])
	binary.LittleEndian.PutUint32(loglist[4:], (get+1)%LoglistEntries)
	return true
}
