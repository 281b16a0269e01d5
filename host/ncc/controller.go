package ncc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/pkg"
)

// Controller frames bridge register and PCI commands.
type Controller struct {
	config *host.Channel
	pci    *host.Channel
	fifo   *host.Channel

	mu  sync.Mutex
	buf [regWriteLen]byte
}

// NewController creates a controller over the configuration, PCI and FIFO
// channels.
func NewController(config, pci, fifo *host.Channel) *Controller {
	return &Controller{config: config, pci: pci, fifo: fifo}
}

// regCtrl is the control byte of a configuration register command.
const regCtrl = spaceMemoryMapped<<spaceSelectShift | allBytesEnabled<<byteEnableShift

// pciCtrl returns the control word of a PCI command.
func pciCtrl(cmd uint16) uint16 {
	return cmd<<masterCommandShift | allBytesEnabled<<byteEnableShift
}

// =============================================================================
// Bridge Registers
// =============================================================================

// RegWrite writes a bridge configuration register.
func (c *Controller) RegWrite(ctx context.Context, addr uint16, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.buf[:regWriteLen]
	clear(b)
	b[0] = regCtrl
	binary.LittleEndian.PutUint16(b[2:], addr)
	binary.LittleEndian.PutUint32(b[6:], value)

	if _, err := c.config.IssueCmd(ctx, b, nil); err != nil {
		return fmt.Errorf("bridge register %#x write: %w", addr, err)
	}
	return nil
}

// RegRead reads a bridge configuration register.
func (c *Controller) RegRead(ctx context.Context, addr uint16) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.buf[:regReadLen]
	clear(b)
	b[0] = regCtrl
	binary.LittleEndian.PutUint16(b[2:], addr)

	v, err := c.readValue(ctx, c.config, b)
	if err != nil {
		return 0, fmt.Errorf("bridge register %#x read: %w", addr, err)
	}
	return v, nil
}

// =============================================================================
// PCI Bus
// =============================================================================

// PCIConfigWrite writes a PCI configuration space register of the board.
func (c *Controller) PCIConfigWrite(ctx context.Context, addr, value uint32) error {
	return c.pciWrite(ctx, pciCommandConfig, addr|1<<idselShift, value)
}

// PCIConfigRead reads a PCI configuration space register of the board.
func (c *Controller) PCIConfigRead(ctx context.Context, addr uint32) (uint32, error) {
	return c.pciRead(ctx, pciCommandConfig, addr|1<<idselShift)
}

// PCIWrite writes one 32-bit word of PCI memory space.
func (c *Controller) PCIWrite(ctx context.Context, addr, value uint32) error {
	return c.pciWrite(ctx, pciCommandMemory, addr, value)
}

// PCIRead reads one 32-bit word of PCI memory space.
func (c *Controller) PCIRead(ctx context.Context, addr uint32) (uint32, error) {
	return c.pciRead(ctx, pciCommandMemory, addr)
}

func (c *Controller) pciWrite(ctx context.Context, cmd uint16, addr, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.buf[:pciWriteLen]
	binary.LittleEndian.PutUint16(b[0:], pciCtrl(cmd))
	binary.LittleEndian.PutUint32(b[2:], addr)
	binary.LittleEndian.PutUint32(b[6:], value)

	if _, err := c.pci.IssueCmd(ctx, b, nil); err != nil {
		return fmt.Errorf("PCI write %#x: %w", addr, err)
	}
	return nil
}

func (c *Controller) pciRead(ctx context.Context, cmd uint16, addr uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.buf[:pciReadLen]
	binary.LittleEndian.PutUint16(b[0:], pciCtrl(cmd))
	binary.LittleEndian.PutUint32(b[2:], addr)

	v, err := c.readValue(ctx, c.pci, b)
	if err != nil {
		return 0, fmt.Errorf("PCI read %#x: %w", addr, err)
	}
	return v, nil
}

// readValue issues cmd and decodes the 4-byte response.
func (c *Controller) readValue(ctx context.Context, ch *host.Channel, cmd []byte) (uint32, error) {
	var resp [valueLen]byte
	n, err := ch.IssueCmd(ctx, cmd, resp[:])
	if err != nil {
		return 0, err
	}
	if n != valueLen {
		return 0, fmt.Errorf("%w: %d byte response", pkg.ErrIO, n)
	}
	return binary.LittleEndian.Uint32(resp[:]), nil
}

// =============================================================================
// FIFO
// =============================================================================

// FIFOWrite sends a DMA payload through the FIFO channel.
func (c *Controller) FIFOWrite(ctx context.Context, data []byte) error {
	if _, err := c.fifo.IssueCmd(ctx, data, nil); err != nil {
		return fmt.Errorf("FIFO write: %w", err)
	}
	return nil
}

// FIFORead receives exactly len(data) bytes from the FIFO channel.
func (c *Controller) FIFORead(ctx context.Context, data []byte) error {
	n, err := c.fifo.Receive(ctx, data)
	if err != nil {
		return fmt.Errorf("FIFO read: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: FIFO read %d of %d bytes", pkg.ErrIO, n, len(data))
	}
	return nil
}
