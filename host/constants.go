package host

import (
	"fmt"
	"time"

	"github.com/aimusb/aimusb/pkg"
)

// Platform identifies the hardware family behind an interface.
type Platform uint32

// Supported platforms. Values match the board driver platform codes.
const (
	PlatformUnknown Platform = 0
	PlatformAPU     Platform = 8  // USB-to-PCI bridge with APU carrier (AI_DEVICE_USB)
	PlatformAYS     Platform = 9  // Zynq ASP with native USB (AI_DEVICE_AYS_ASP)
	PlatformAYSGen2 Platform = 11 // ZynqMP ASP with native USB (AI_DEVICE_ZYNQMP_ASP)
)

// String returns the platform name.
func (p Platform) String() string {
	switch p {
	case PlatformAPU:
		return "APU"
	case PlatformAYS:
		return "AYS-ASP"
	case PlatformAYSGen2:
		return "ZynqMP-ASP"
	default:
		return fmt.Sprintf("Platform(%d)", uint32(p))
	}
}

// HasASP reports whether the platform carries an application support
// processor. ASP boards manage their own shared memory.
func (p Platform) HasASP() bool {
	return p == PlatformAYS || p == PlatformAYSGen2
}

// Protocol identifies the avionics bus protocol served by a board.
type Protocol uint32

// Supported protocols.
const (
	ProtocolUnknown Protocol = 0
	Protocol1553    Protocol = 1
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case Protocol1553:
		return "MIL-STD-1553"
	default:
		return "unknown"
	}
}

// MemType selects a board memory space for read and write operations.
type MemType uint32

// Memory space kinds.
const (
	MemGlobal       MemType = 0 // Global memory, served from the host mirror on APU
	MemShared       MemType = 1 // Shared memory between host and board
	MemLocal        MemType = 2 // Board-local memory (not host accessible)
	MemIO           MemType = 3 // I/O register space
	MemGlobalDirect MemType = 4 // Global memory, bypassing the host mirror
)

// String returns the memory type name.
func (m MemType) String() string {
	switch m {
	case MemGlobal:
		return "global"
	case MemShared:
		return "shared"
	case MemLocal:
		return "local"
	case MemIO:
		return "io"
	case MemGlobalDirect:
		return "global-direct"
	default:
		return fmt.Sprintf("MemType(%d)", uint32(m))
	}
}

// ParseMemType returns the memory type named s, as printed by String.
func ParseMemType(s string) (MemType, error) {
	for m := MemGlobal; m <= MemGlobalDirect; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: memory type %q", pkg.ErrInvalidParameter, s)
}

// Channel limits and defaults.
const (
	// MaxChannels is the number of channel slots per interface.
	MaxChannels = 3

	// DefaultTimeout bounds every channel transfer unless overridden.
	DefaultTimeout = 5000 * time.Millisecond
)

// Notification identifiers passed to a Notifier.
const (
	GroupIRQEvent       = 0 // Interrupt event multicast group
	CommandLoglistEvent = 1 // New interrupt loglist entry
	AttrLoglistEntry    = 1 // Attribute carrying the raw entry
)
