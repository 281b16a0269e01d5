package apu

import (
	"context"
	"encoding/binary"

	"github.com/aimusb/aimusb/pkg"
)

// setupPCI sizes and maps both BARs, enables the board on the PCI bus and
// releases the SDRAM.
func (b *Backend) setupPCI(ctx context.Context) error {
	var sizes [2]uint32
	for i, bar := range []uint32{pciBAR0, pciBAR1} {
		if err := b.ncc.PCIConfigWrite(ctx, bar, pciBARSizing); err != nil {
			return err
		}
		v, err := b.ncc.PCIConfigRead(ctx, bar)
		if err != nil {
			return err
		}
		sizes[i] = ^(v &^ pciBARFlags) + 1
	}

	global, io := b.intf.Global(), b.intf.IO()
	global.BusAddress, global.Size = 0, sizes[0]
	io.BusAddress, io.Size = sizes[0], sizes[1]

	if err := b.ncc.PCIConfigWrite(ctx, pciBAR0, global.BusAddress); err != nil {
		return err
	}
	if err := b.ncc.PCIConfigWrite(ctx, pciBAR1, io.BusAddress); err != nil {
		return err
	}
	if err := b.ncc.PCIConfigWrite(ctx, pciCommandStatus, pciEnableMemoryMaster); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentAPU, "PCI BARs mapped", "device", b.intf.Name(),
		"global", global.Size, "io", io.Size, "io_bus", io.BusAddress)

	return b.updateReset(ctx, func(v uint32) uint32 {
		return ResetSDRAMStart.Set(v)
	})
}

// =============================================================================
// I/O Register Access
// =============================================================================

func (b *Backend) ioRead(ctx context.Context, off uint32) (uint32, error) {
	return b.ncc.PCIRead(ctx, b.intf.IO().BusAddress+off)
}

func (b *Backend) ioWrite(ctx context.Context, off, v uint32) error {
	return b.ncc.PCIWrite(ctx, b.intf.IO().BusAddress+off, v)
}

// updateReset applies fn to the reset register.
func (b *Backend) updateReset(ctx context.Context, fn func(uint32) uint32) error {
	v, err := b.ioRead(ctx, ioReset)
	if err != nil {
		return err
	}
	return b.ioWrite(ctx, ioReset, fn(v))
}

// =============================================================================
// PCI Space Transfers
// =============================================================================

// readPCISpace reads len(buf) bytes at bus address addr. Aligned single
// words use one register access; everything else goes through DMA.
func (b *Backend) readPCISpace(ctx context.Context, addr uint32, buf []byte) error {
	if len(buf) == 4 && addr%4 == 0 {
		v, err := b.ncc.PCIRead(ctx, addr)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf, v)
		return nil
	}
	return b.dma.Read(ctx, addr, buf)
}

// writePCISpace writes data at bus address addr.
func (b *Backend) writePCISpace(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 4 && addr%4 == 0 {
		return b.ncc.PCIWrite(ctx, addr, binary.LittleEndian.Uint32(data))
	}
	return b.dma.Write(ctx, addr, data)
}
