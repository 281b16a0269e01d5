package ncc

import "github.com/aimusb/aimusb/pkg/bitfield"

// =============================================================================
// Command Framing
// =============================================================================

const (
	spaceSelectShift   = 4
	masterCommandShift = 6
	byteEnableShift    = 0
	idselShift         = 30

	spaceMemoryMapped = 1
	allBytesEnabled   = 0xF

	pciCommandMemory = 0
	pciCommandConfig = 2
)

// Wire sizes of the command structures.
const (
	regWriteLen = 10 // ctrl u8, reserved u8, addr u16, reserved u16, data u32
	regReadLen  = 6  // ctrl u8, reserved u8, addr u16, reserved u16
	pciWriteLen = 10 // ctrl u16, addr u32, data u32
	pciReadLen  = 6  // ctrl u16, addr u32
	valueLen    = 4
)

// =============================================================================
// Bridge Registers
// =============================================================================

// Bridge configuration register addresses.
const (
	RegUSBIRQ   uint16 = 0x24 // USB interrupt enable register
	RegIRQStat1 uint16 = 0x2C // Interrupt status register 1
	RegGPIOCtrl uint16 = 0x50 // GPIO control register
)

// USB interrupt enable register fields.
var (
	USBIRQPCIIntAEnable = bitfield.Bit[uint32](24)
	USBIRQEnable        = bitfield.Bit[uint32](31)
)

// IRQSTAT1 register fields.
var (
	IRQStat1PCIIntA = bitfield.Bit[uint32](24)
)

// GPIO control register fields.
var (
	GPIO3Data      = bitfield.Bit[uint32](3)
	GPIO3OutEnable = bitfield.Bit[uint32](7)
	GPIO3IRQEnable = bitfield.Bit[uint32](11)
	GPIO3LEDSelect = bitfield.Bit[uint32](12)
)

// =============================================================================
// DMA Registers
// =============================================================================

// dmaChannel holds the register addresses of one DMA direction.
type dmaChannel struct {
	epStatus uint16
	control  uint16
	address  uint16
	count    uint16
	status   uint16
}

var (
	dmaOut = dmaChannel{epStatus: 0x32C, control: 0x180, address: 0x194, count: 0x190}
	dmaIn  = dmaChannel{epStatus: 0x34C, control: 0x1A0, address: 0x1B4, count: 0x1B0, status: 0x1A4}
)

const (
	// epStatusFlush flushes the endpoint FIFO and clears its interrupts.
	epStatusFlush = 0x0000023F

	dmaCountWrite = 0x90000000
	dmaCountRead  = 0xD0000000

	// dmaStatusStart starts a read transfer.
	dmaStatusStart = 0x03000001
)

// DMA control register fields.
var (
	DMAAddrHold         = bitfield.Bit[uint32](0)
	DMAEnable           = bitfield.Bit[uint32](1)
	DMAFIFOValidate     = bitfield.Bit[uint32](2)
	DMAPreempt          = bitfield.Bit[uint32](3)
	DMAAutoStart        = bitfield.Bit[uint32](4)
	DMAScatterGather    = bitfield.Bit[uint32](16)
	DMAValidBit         = bitfield.Bit[uint32](17)
	DMAValidBitPolling  = bitfield.Bit[uint32](18)
	DMAPollingRate      = bitfield.Bits[uint32](19, 20)
	DMAClearCount       = bitfield.Bit[uint32](21)
	DMAScatterGatherIRQ = bitfield.Bit[uint32](25)
)

// dmaControl is the control word used for both directions.
func dmaControl() uint32 {
	var v uint32
	v = DMAEnable.Set(v)
	v = DMAFIFOValidate.Set(v)
	v = DMAAutoStart.Set(v)
	v = DMAClearCount.Set(v)
	return v
}
