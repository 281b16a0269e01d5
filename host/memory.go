package host

import (
	"fmt"

	"github.com/aimusb/aimusb/pkg"
)

// MemorySpace is a board memory region as seen from the bus.
type MemorySpace struct {
	BusAddress uint32 // Bus address of the region on the board
	Size       uint32 // Region size in bytes; zero when unmapped
	Mirror     []byte // Optional host-side copy
}

// Mapped reports whether the space has been set up.
func (m *MemorySpace) Mapped() bool {
	return m.Size > 0
}

// Check returns ErrOutOfRange unless [offset, offset+n) lies inside the space.
func (m *MemorySpace) Check(offset uint32, n int) error {
	if n < 0 || uint64(offset)+uint64(n) > uint64(m.Size) {
		return fmt.Errorf("%w: %d bytes at %#x exceed %#x", pkg.ErrOutOfRange, n, offset, m.Size)
	}
	return nil
}

// Reset unmaps the space and drops its mirror.
func (m *MemorySpace) Reset() {
	*m = MemorySpace{}
}

// BoardInfo describes an attached board.
type BoardInfo struct {
	Platform        Platform
	Protocol        Protocol
	Serial          uint32
	BoardConfig     uint32
	BoardType       uint32
	SubType         uint32
	PartNo          uint32
	HwVariant       uint32
	HasASP          bool // Board runs its own application support processor
	OpenConnections int  // Number of callers that currently hold the board open
}

// DriverFlagASP is set in DriverFlags when the board has an ASP.
const DriverFlagASP = 1 << 0

// DriverFlags returns the capability bits reported to callers.
func (b BoardInfo) DriverFlags() uint32 {
	var flags uint32
	if b.HasASP {
		flags |= DriverFlagASP
	}
	return flags
}
