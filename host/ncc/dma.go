package ncc

import (
	"context"
	"fmt"
	"sync"

	"github.com/aimusb/aimusb/pkg"
)

// maxDMALength is the largest byte count the DMA count register holds.
const maxDMALength = 1<<24 - 1

// DMA moves blocks between host buffers and the board's PCI memory through
// the bridge DMA engine.
type DMA struct {
	ncc *Controller
	mu  sync.Mutex
}

// NewDMA creates a DMA engine driven by ncc.
func NewDMA(ncc *Controller) *DMA {
	return &DMA{ncc: ncc}
}

// Write copies data to PCI address addr.
func (d *DMA) Write(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > maxDMALength {
		return fmt.Errorf("%w: DMA length %d", pkg.ErrInvalidParameter, len(data))
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentDMA, "DMA write", "addr", addr, "len", len(data))
	steps := []struct {
		reg   uint16
		value uint32
	}{
		{dmaOut.epStatus, epStatusFlush},
		{dmaOut.address, addr},
		{dmaOut.count, uint32(len(data)) | dmaCountWrite},
		{dmaOut.control, dmaControl()},
	}
	for _, s := range steps {
		if err := d.ncc.RegWrite(ctx, s.reg, s.value); err != nil {
			return err
		}
	}
	return d.ncc.FIFOWrite(ctx, data)
}

// Read fills data from PCI address addr.
func (d *DMA) Read(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > maxDMALength {
		return fmt.Errorf("%w: DMA length %d", pkg.ErrInvalidParameter, len(data))
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentDMA, "DMA read", "addr", addr, "len", len(data))
	steps := []struct {
		reg   uint16
		value uint32
	}{
		{dmaIn.epStatus, epStatusFlush},
		{dmaIn.address, addr},
		{dmaIn.count, uint32(len(data)) | dmaCountRead},
		{dmaIn.control, dmaControl()},
		{dmaIn.status, dmaStatusStart},
	}
	for _, s := range steps {
		if err := d.ncc.RegWrite(ctx, s.reg, s.value); err != nil {
			return err
		}
	}
	if err := d.ncc.FIFORead(ctx, data); err != nil {
		pkg.LogError(pkg.ComponentDMA, "failed to read DMA FIFO", "error", err)
		return err
	}
	return nil
}
