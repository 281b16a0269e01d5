package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// APU endpoint addresses.
const (
	APUFIFOOut   = 0x01
	APUFIFOIn    = 0x82
	APUConfigOut = 0x0D
	APUConfigIn  = 0x8D
	APUPCIOut    = 0x0E
	APUPCIIn     = 0x8E
	APUInterrupt = 0x8F
)

// Bridge registers the simulator acts on.
const (
	regUSBIRQ      = 0x24
	regIRQStat1    = 0x2C
	regDMAOutCtl   = 0x180
	regDMAOutCount = 0x190
	regDMAOutAddr  = 0x194
	regDMAInCtl    = 0x1A0
	regDMAInStatus = 0x1A4
	regDMAInCount  = 0x1B0
	regDMAInAddr   = 0x1B4

	irqPCIIntA     = 1 << 24
	irqUSBEnable   = 1 << 31
	dmaEnable      = 1 << 1
	dmaCountMask   = 0x00FFFFFF
	dmaStatusStart = 0x03000001
)

// PCI configuration space.
const (
	pciIDSEL   = 1 << 30
	pciCommand = 0x04
	pciBAR0    = 0x10
	pciBAR1    = 0x14
)

// Board I/O registers.
const (
	ioReset    = 0x000
	ioTCPPort  = 0x100
	ioIRQEvent = 0x180
	ioIRQMask  = 0x188

	resetBIU1   = 1 << 0
	resetTCP    = 1 << 4
	tcpReady    = 1 << 16
	tcpWrite    = 1 << 18
	eventBoot   = 1 << 16
	eventEnable = 1 << 31
)

// TCP ports.
const (
	tcpStatus  = 0x05
	tcpCtrl    = 0x06
	tcpAddrHi  = 0x07
	tcpAddrLo  = 0x08
	tcpWriteEE = 0x09
	tcpReadEE  = 0x0a
	tcpVersion = 0x1f

	tcpBusy  = 1 << 1
	tcpWrEna = 1 << 0
)

// APUOptions configures an APU simulator.
type APUOptions struct {
	// GlobalSize is the size of BAR0 (global memory). Default 1 MiB.
	GlobalSize uint32

	// IOSize is the size of BAR1 (I/O registers). Default 64 KiB.
	IOSize uint32

	// Novram is the initial NOVRAM image. Default DefaultNovram().
	Novram *Novram

	// TCPVersion is returned from the TCP version port. Default 0x21.
	TCPVersion uint8

	// TCPStuck keeps the TCP ready bit clear forever.
	TCPStuck bool

	// NoBootIRQ suppresses the interrupt events raised during firmware boot.
	NoBootIRQ bool

	// TCPRunning starts the simulator with the TCP already out of reset.
	TCPRunning bool
}

// APU simulates an APU carrier behind the USB-to-PCI bridge.
type APU struct {
	opts APUOptions
	eps  []hal.EndpointDescriptor
	in   *endpointQueues
	irq  *interruptPipe

	mu        sync.Mutex
	regs      map[uint16]uint32
	pciConfig map[uint32]uint32
	barSizing [2]bool
	barBase   [2]uint32
	global    []byte
	io        []byte
	novram    Novram
	tcpAddr   uint16
	tcpCtrl   uint8
	busyPolls int
	dmaWrite  *dmaTransfer
	pciWrites int
	dmaReads  int
}

// dmaTransfer is an armed DMA write waiting for its FIFO payload.
type dmaTransfer struct {
	addr uint32
	n    int
}

var _ hal.Transport = (*APU)(nil)

// NewAPU creates an APU simulator.
func NewAPU(opts APUOptions) *APU {
	if opts.GlobalSize == 0 {
		opts.GlobalSize = 1 << 20
	}
	if opts.IOSize == 0 {
		opts.IOSize = 64 << 10
	}
	if opts.TCPVersion == 0 {
		opts.TCPVersion = 0x21
	}
	if opts.Novram == nil {
		opts.Novram = DefaultNovram()
	}
	a := &APU{
		opts: opts,
		eps: []hal.EndpointDescriptor{
			bulkEndpoint(APUFIFOOut, 512),
			bulkEndpoint(APUFIFOIn, 512),
			bulkEndpoint(APUConfigOut, 64),
			bulkEndpoint(APUConfigIn, 64),
			bulkEndpoint(APUPCIOut, 64),
			bulkEndpoint(APUPCIIn, 64),
			interruptEndpoint(APUInterrupt, 4),
		},
		in:        newEndpointQueues(),
		irq:       newInterruptPipe(),
		regs:      make(map[uint16]uint32),
		pciConfig: make(map[uint32]uint32),
		global:    make([]byte, opts.GlobalSize),
		io:        make([]byte, opts.IOSize),
		novram:    *opts.Novram,
	}
	if opts.TCPRunning {
		a.ioStore(ioReset, resetTCP)
		a.ioStore(ioTCPPort, tcpReady)
	}
	return a
}

// =============================================================================
// hal.Transport
// =============================================================================

// Info returns the simulated device identity.
func (a *APU) Info() hal.DeviceInfo {
	return hal.DeviceInfo{VendorID: 0x1633, ProductID: 0x0001, Bus: 1, Address: 2, Speed: hal.SpeedHigh}
}

// Endpoints returns the bridge endpoints.
func (a *APU) Endpoints() []hal.EndpointDescriptor {
	return a.eps
}

// BulkTransfer executes bridge commands on OUT endpoints and returns
// queued replies on IN endpoints.
func (a *APU) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint&hal.EndpointDirIn != 0 {
		return a.in.pop(ctx, endpoint, data)
	}
	if a.in.isClosed() {
		return 0, pkg.ErrNoDevice
	}
	if len(data) == 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	switch endpoint {
	case APUConfigOut:
		err = a.configCommand(data)
	case APUPCIOut:
		err = a.pciCommand(data)
	case APUFIFOOut:
		err = a.fifoWrite(data)
	default:
		err = fmt.Errorf("%w: endpoint %#02x", pkg.ErrStall, endpoint)
	}
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// InterruptTransfer waits for the next bridge interrupt.
func (a *APU) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint != APUInterrupt {
		return 0, fmt.Errorf("%w: endpoint %#02x", pkg.ErrStall, endpoint)
	}
	return a.irq.receive(ctx, data)
}

// StringDescriptor returns the simulated product strings.
func (a *APU) StringDescriptor(ctx context.Context, index uint8) (string, error) {
	switch index {
	case 1:
		return "AIM GmbH", nil
	case 2:
		return "APU1553", nil
	}
	return "", pkg.ErrStall
}

// Close disconnects the simulator. Pending transfers fail with ErrNoDevice.
func (a *APU) Close() error {
	a.in.close()
	a.irq.close()
	return nil
}

// =============================================================================
// Bridge Commands
// =============================================================================

func (a *APU) configCommand(cmd []byte) error {
	if len(cmd) != 6 && len(cmd) != 10 {
		return fmt.Errorf("%w: config command of %d bytes", pkg.ErrStall, len(cmd))
	}
	addr := binary.LittleEndian.Uint16(cmd[2:])
	if len(cmd) == 6 {
		a.reply(APUConfigIn, a.regs[addr])
		return nil
	}
	a.regWrite(addr, binary.LittleEndian.Uint32(cmd[6:]))
	return nil
}

func (a *APU) regWrite(addr uint16, v uint32) {
	switch addr {
	case regIRQStat1:
		a.regs[addr] &^= v
		return
	case regDMAOutCtl:
		if v&dmaEnable != 0 {
			a.dmaWrite = &dmaTransfer{
				addr: a.regs[regDMAOutAddr],
				n:    int(a.regs[regDMAOutCount] & dmaCountMask),
			}
		}
	case regDMAInStatus:
		if v == dmaStatusStart {
			a.dmaRead()
		}
	}
	a.regs[addr] = v
}

func (a *APU) pciCommand(cmd []byte) error {
	if len(cmd) != 6 && len(cmd) != 10 {
		return fmt.Errorf("%w: PCI command of %d bytes", pkg.ErrStall, len(cmd))
	}
	ctrl := binary.LittleEndian.Uint16(cmd)
	addr := binary.LittleEndian.Uint32(cmd[2:])
	config := (ctrl>>6)&0xF == 2
	if config {
		addr &^= pciIDSEL
	}
	if len(cmd) == 6 {
		if config {
			a.reply(APUPCIIn, a.configRead(addr))
		} else {
			a.reply(APUPCIIn, a.memRead(addr))
		}
		return nil
	}
	v := binary.LittleEndian.Uint32(cmd[6:])
	if config {
		a.configWrite(addr, v)
	} else {
		a.pciWrites++
		a.memWrite(addr, v)
	}
	return nil
}

func (a *APU) reply(ep uint8, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.in.push(ep, b[:])
}

// =============================================================================
// PCI Configuration Space
// =============================================================================

func (a *APU) barSize(i int) uint32 {
	if i == 0 {
		return a.opts.GlobalSize
	}
	return a.opts.IOSize
}

func (a *APU) configRead(addr uint32) uint32 {
	if i, ok := barIndex(addr); ok {
		if a.barSizing[i] {
			return ^(a.barSize(i) - 1)
		}
		return a.barBase[i]
	}
	return a.pciConfig[addr]
}

func (a *APU) configWrite(addr, v uint32) {
	if i, ok := barIndex(addr); ok {
		a.barSizing[i] = v == 0xFFFFFFFF
		if !a.barSizing[i] {
			a.barBase[i] = v &^ (a.barSize(i) - 1)
		}
		return
	}
	a.pciConfig[addr] = v
}

func barIndex(addr uint32) (int, bool) {
	switch addr {
	case pciBAR0:
		return 0, true
	case pciBAR1:
		return 1, true
	}
	return 0, false
}

// =============================================================================
// PCI Memory Space
// =============================================================================

// decode maps a bus address to BAR index and offset.
func (a *APU) decode(addr uint32) (int, uint32, bool) {
	for i := range 2 {
		base, size := a.barBase[i], a.barSize(i)
		if addr >= base && addr-base < size {
			return i, addr - base, true
		}
	}
	return 0, 0, false
}

func (a *APU) memRead(addr uint32) uint32 {
	bar, off, ok := a.decode(addr)
	if !ok || off%4 != 0 {
		return 0xFFFFFFFF
	}
	if bar == 0 {
		return binary.LittleEndian.Uint32(a.global[off:])
	}
	return a.ioLoad(off)
}

func (a *APU) memWrite(addr, v uint32) {
	bar, off, ok := a.decode(addr)
	if !ok || off%4 != 0 {
		return
	}
	if bar == 0 {
		binary.LittleEndian.PutUint32(a.global[off:], v)
		return
	}
	a.ioWrite(off, v)
}

// =============================================================================
// DMA Engine
// =============================================================================

func (a *APU) fifoWrite(data []byte) error {
	t := a.dmaWrite
	if t == nil {
		return fmt.Errorf("%w: FIFO write without armed DMA", pkg.ErrStall)
	}
	a.dmaWrite = nil
	if len(data) != t.n {
		return fmt.Errorf("%w: FIFO write of %d bytes, DMA armed for %d", pkg.ErrStall, len(data), t.n)
	}
	bar, off, ok := a.decode(t.addr)
	if !ok {
		return nil
	}
	if bar == 0 {
		copy(a.global[off:], data)
		return nil
	}
	for i := 0; i+4 <= len(data); i += 4 {
		a.ioWrite(off+uint32(i), binary.LittleEndian.Uint32(data[i:]))
	}
	return nil
}

func (a *APU) dmaRead() {
	addr := a.regs[regDMAInAddr]
	n := int(a.regs[regDMAInCount] & dmaCountMask)
	a.dmaReads++

	out := make([]byte, n)
	bar, off, ok := a.decode(addr)
	switch {
	case !ok:
		out = out[:0]
	case bar == 0:
		out = out[:copy(out, a.global[off:])]
	default:
		for i := 0; i+4 <= n; i += 4 {
			binary.LittleEndian.PutUint32(out[i:], a.ioLoad(off+uint32(i)))
		}
	}
	a.in.push(APUFIFOIn, out)
}

// =============================================================================
// Board I/O Registers
// =============================================================================

func (a *APU) ioLoad(off uint32) uint32 {
	if int(off)+4 > len(a.io) {
		return 0xFFFFFFFF
	}
	return binary.LittleEndian.Uint32(a.io[off:])
}

func (a *APU) ioStore(off, v uint32) {
	if int(off)+4 <= len(a.io) {
		binary.LittleEndian.PutUint32(a.io[off:], v)
	}
}

func (a *APU) ioWrite(off, v uint32) {
	switch off {
	case ioReset:
		old := a.ioLoad(ioReset)
		a.ioStore(ioReset, v)
		if old&resetTCP == 0 && v&resetTCP != 0 && !a.opts.TCPStuck {
			a.ioStore(ioTCPPort, a.ioLoad(ioTCPPort)|tcpReady)
		}
		if old&resetBIU1 == 0 && v&resetBIU1 != 0 {
			a.bootEvent()
		}
	case ioTCPPort:
		a.tcpCommand(v)
	case ioIRQEvent:
		ev := a.ioLoad(ioIRQEvent) &^ (v & 0xFFFF)
		if v&eventEnable != 0 {
			ev |= eventEnable
		}
		a.ioStore(ioIRQEvent, ev)
		if v&eventBoot != 0 {
			a.bootEvent()
		}
	default:
		a.ioStore(off, v)
	}
}

func (a *APU) bootEvent() {
	if !a.opts.NoBootIRQ {
		a.ioStore(ioIRQEvent, a.ioLoad(ioIRQEvent)|1)
	}
}

// =============================================================================
// TCP and NOVRAM
// =============================================================================

func (a *APU) tcpCommand(v uint32) {
	if a.ioLoad(ioReset)&resetTCP == 0 || a.opts.TCPStuck {
		a.ioStore(ioTCPPort, v&^tcpReady)
		return
	}
	port := uint8(v>>8) & 0x1F
	data := uint8(v)
	if v&tcpWrite != 0 {
		a.tcpWrite(port, data)
	} else {
		data = a.tcpRead(port)
	}
	a.ioStore(ioTCPPort, v&^0xFF|uint32(data)|tcpReady)
}

func (a *APU) tcpRead(port uint8) uint8 {
	switch port {
	case tcpVersion:
		return a.opts.TCPVersion
	case tcpStatus:
		if a.busyPolls > 0 {
			a.busyPolls--
			return tcpBusy
		}
		return 0
	case tcpCtrl:
		return a.tcpCtrl
	case tcpReadEE:
		return a.novram[a.tcpAddr%NovramSize]
	}
	return 0
}

func (a *APU) tcpWrite(port, data uint8) {
	switch port {
	case tcpCtrl:
		a.tcpCtrl = data
	case tcpAddrLo:
		a.tcpAddr = a.tcpAddr&0x100 | uint16(data)
	case tcpAddrHi:
		a.tcpAddr = a.tcpAddr&0xFF | uint16(data&1)<<8
	case tcpWriteEE:
		if a.tcpCtrl&tcpWrEna != 0 {
			a.novram[a.tcpAddr%NovramSize] = data
			a.busyPolls = 2
		}
	}
}

// =============================================================================
// Test Hooks
// =============================================================================

// RaiseInterrupt sets BIU event bits and asserts PCI INTA. When bridge
// interrupts are enabled the IRQSTAT1 value is delivered on the interrupt
// endpoint. It reports whether a payload was delivered.
func (a *APU) RaiseInterrupt(event uint32) bool {
	a.mu.Lock()
	a.ioStore(ioIRQEvent, a.ioLoad(ioIRQEvent)|event&0xFFFF)
	a.regs[regIRQStat1] |= irqPCIIntA
	enabled := a.regs[regUSBIRQ]&(irqPCIIntA|irqUSBEnable) == irqPCIIntA|irqUSBEnable
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], a.regs[regIRQStat1])
	a.mu.Unlock()

	if !enabled {
		return false
	}
	return a.irq.send(payload[:])
}

// SendInterrupt delivers a raw interrupt payload.
func (a *APU) SendInterrupt(payload []byte) bool {
	return a.irq.send(payload)
}

// Reg returns a bridge configuration register.
func (a *APU) Reg(addr uint16) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regs[addr]
}

// IOReg returns the board I/O register at off.
func (a *APU) IOReg(off uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ioLoad(off)
}

// PCIConfig returns a PCI configuration register.
func (a *APU) PCIConfig(addr uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configRead(addr)
}

// Global returns a copy of n bytes of global memory at off.
func (a *APU) Global(off uint32, n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.global[off:int(off)+n]...)
}

// SetGlobal writes data into global memory behind the driver's back.
func (a *APU) SetGlobal(off uint32, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.global[off:], data)
}

// Novram returns a copy of the NOVRAM image.
func (a *APU) Novram() Novram {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.novram
}

// Stats reports single-word PCI memory writes and DMA reads executed.
func (a *APU) Stats() (pciWrites, dmaReads int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pciWrites, a.dmaReads
}

// Pending returns the number of replies queued on IN endpoint ep.
func (a *APU) Pending(ep uint8) int {
	return a.in.pending(ep)
}
