package apu

import "github.com/aimusb/aimusb/pkg/bitfield"

// =============================================================================
// PCI Configuration Space
// =============================================================================

const (
	pciCommandStatus = 0x04
	pciBAR0          = 0x10 // Global memory
	pciBAR1          = 0x14 // I/O registers

	// pciBARSizing is written to a BAR to read back its size mask.
	pciBARSizing = 0xFFFFFFFF

	// pciBARFlags are the read-only type bits of a memory BAR.
	pciBARFlags = 0xF

	// pciEnableMemoryMaster enables memory space and bus mastering.
	pciEnableMemoryMaster = 0x6
)

// =============================================================================
// Board I/O Registers
// =============================================================================

// Byte offsets into the I/O space.
const (
	ioReset    = 0x000
	ioTCPPort  = 0x100
	ioIRQEvent = 0x180
	ioIRQMask  = 0x188
)

// Reset register fields.
var (
	ResetBIU1       = bitfield.Bit[uint32](0)
	ResetBIU2       = bitfield.Bit[uint32](1)
	ResetFPGA1      = bitfield.Bit[uint32](2)
	ResetFPGA2      = bitfield.Bit[uint32](3)
	ResetTCP        = bitfield.Bit[uint32](4)
	ResetIRIGSource = bitfield.Bit[uint32](5)
	ResetASP        = bitfield.Bit[uint32](7)
	ResetSDRAMStart = bitfield.Bit[uint32](15)
	ResetRelais     = bitfield.Bit[uint32](30)
	ResetIRIG       = bitfield.Bit[uint32](31)
)

// TCP port register fields.
var (
	TCPData    = bitfield.Bits[uint32](0, 7)
	TCPCommand = bitfield.Bits[uint32](8, 12)
	TCPReady   = bitfield.Bit[uint32](16)
	TCPCSX     = bitfield.Bit[uint32](17)
	TCPWrite   = bitfield.Bit[uint32](18)
)

// Interrupt event register values.
const (
	EventBIU1   = 1 << 0
	EventBIU2   = 1 << 1
	EventBoot   = 1 << 16
	EventEnable = 1 << 31

	eventAll     = 0x0000FFFF
	eventMaskAll = 0x0000FFFC
	events       = EventBIU1 | EventBIU2
)

// =============================================================================
// TCP Ports
// =============================================================================

// TCP ports reachable through the TCP port register.
const (
	TCPPortStatus      = 0x05
	TCPPortCtrl        = 0x06
	TCPPortAddrHi      = 0x07
	TCPPortAddrLo      = 0x08
	TCPPortEEPROMWrite = 0x09
	TCPPortEEPROMRead  = 0x0a
	TCPPortVersion     = 0x1f

	tcpEEPROMWriteEnable = 1 << 0
	tcpEEPROMBusy        = 1 << 1
)

// =============================================================================
// NOVRAM
// =============================================================================

// NOVRAM byte offsets.
const (
	NovramMagic1       = 0x000
	NovramSerial       = 0x00c
	NovramBoardConfig  = 0x028
	NovramBoardType    = 0x02c
	NovramPartNo       = 0x048
	NovramCPUClock     = 0x050
	NovramFirmwareExt  = 0x070
	NovramBoardSubType = 0x0c8
	NovramHwVariant    = 0x0cc
	NovramMagic2       = 0x1f8
	NovramChecksum     = 0x1fc

	// NovramMagic marks a programmed NOVRAM.
	NovramMagic = 0x4c616d70
)

// =============================================================================
// Shared Memory
// =============================================================================

const (
	// SharedMemorySize is the host-side shared memory of boards without
	// an application support processor.
	SharedMemorySize = 16 << 20

	// LoglistOffset locates the interrupt loglist in shared memory.
	LoglistOffset = 0x8000

	// LoglistEntries is the ring size of the interrupt loglist.
	LoglistEntries = 256

	// LoglistEntrySize is the size of one loglist entry.
	LoglistEntrySize = 16

	loglistHeaderSize = 8
)

// =============================================================================
// Global Memory
// =============================================================================

const (
	globalClock     = 0x00
	globalBoardType = 0x3c

	// Firmware of this board family reads the board type from global
	// memory.
	boardTypeFamilyMask = 0xF0
	boardTypeFamily429  = 0x20
)
