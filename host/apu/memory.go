package apu

import (
	"context"
	"fmt"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/host/ncc"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Memory Setup
// =============================================================================

// createMirror allocates the global memory mirror and fills it with one
// DMA read of the whole space.
func (b *Backend) createMirror(ctx context.Context) error {
	global := b.intf.Global()
	mirror := make([]byte, global.Size)
	if err := b.dma.Read(ctx, global.BusAddress, mirror); err != nil {
		return err
	}
	global.Mirror = mirror
	return nil
}

// createSharedMemory allocates the host-side shared memory holding the
// interrupt loglist.
func (b *Backend) createSharedMemory(ctx context.Context) error {
	b.sharedMu.Lock()
	defer b.sharedMu.Unlock()

	shared := b.intf.Shared()
	shared.Mirror = make([]byte, SharedMemorySize)
	shared.Size = SharedMemorySize
	return nil
}

// =============================================================================
// Memory Access
// =============================================================================

// Read copies len(buf) bytes at offset of memory space mem into buf.
func (b *Backend) Read(ctx context.Context, mem host.MemType, offset uint32, buf []byte) error {
	switch mem {
	case host.MemShared:
		return b.sharedAccess(offset, buf, false)

	case host.MemGlobal:
		global := b.intf.Global()
		if err := global.Check(offset, len(buf)); err != nil {
			return err
		}
		if err := b.intf.SyncMemory(ctx, offset, len(buf)); err != nil {
			return err
		}
		if global.Mirror == nil {
			return fmt.Errorf("%w: global memory mirror", pkg.ErrNotRunning)
		}
		copy(buf, global.Mirror[offset:])
		return nil

	case host.MemGlobalDirect:
		global := b.intf.Global()
		if err := global.Check(offset, len(buf)); err != nil {
			return err
		}
		return b.readPCISpace(ctx, global.BusAddress+offset, buf)

	case host.MemIO:
		io := b.intf.IO()
		if err := io.Check(offset, len(buf)); err != nil {
			return err
		}
		return b.readPCISpace(ctx, io.BusAddress+offset, buf)
	}
	return fmt.Errorf("%w: memory type %s", pkg.ErrInvalidParameter, mem)
}

// Write copies data to offset of memory space mem. Global writes keep the
// mirror current.
func (b *Backend) Write(ctx context.Context, mem host.MemType, offset uint32, data []byte) error {
	switch mem {
	case host.MemShared:
		return b.sharedAccess(offset, data, true)

	case host.MemGlobal, host.MemGlobalDirect:
		global := b.intf.Global()
		if err := global.Check(offset, len(data)); err != nil {
			return err
		}
		if global.Mirror != nil {
			copy(global.Mirror[offset:], data)
		}
		return b.writePCISpace(ctx, global.BusAddress+offset, data)

	case host.MemIO:
		io := b.intf.IO()
		if err := io.Check(offset, len(data)); err != nil {
			return err
		}
		return b.writePCISpace(ctx, io.BusAddress+offset, data)
	}
	return fmt.Errorf("%w: memory type %s", pkg.ErrInvalidParameter, mem)
}

func (b *Backend) sharedAccess(offset uint32, buf []byte, write bool) error {
	b.sharedMu.Lock()
	defer b.sharedMu.Unlock()

	shared := b.intf.Shared()
	if err := shared.Check(offset, len(buf)); err != nil {
		return err
	}
	if write {
		copy(shared.Mirror[offset:], buf)
	} else {
		copy(buf, shared.Mirror[offset:])
	}
	return nil
}

// =============================================================================
// Power LED
// =============================================================================

func (b *Backend) ledOn(ctx context.Context) {
	b.setLED(ctx, true)
}

func (b *Backend) ledOff(ctx context.Context) {
	b.setLED(ctx, false)
}

// setLED drives GPIO3, which is wired to the power LED.
func (b *Backend) setLED(ctx context.Context, on bool) {
	v, err := b.ncc.RegRead(ctx, ncc.RegGPIOCtrl)
	if err == nil {
		v = ncc.GPIO3OutEnable.Update(v, on)
		v = ncc.GPIO3Data.Clear(v)
		v = ncc.GPIO3IRQEnable.Clear(v)
		v = ncc.GPIO3LEDSelect.Clear(v)
		err = b.ncc.RegWrite(ctx, ncc.RegGPIOCtrl, v)
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentAPU, "failed to switch power LED", "device", b.intf.Name(), "on", on, "error", err)
	}
}
