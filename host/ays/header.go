package ays

import (
	"encoding/binary"
	"fmt"

	"github.com/aimusb/aimusb/pkg"
)

// HeaderSize is the size of a command header in bytes.
const HeaderSize = 32

// HeaderMagic starts every command header.
const HeaderMagic = 0x45434D44

// CommandID identifies the kind of a command.
type CommandID uint32

// Command identifiers.
const (
	CmdAck             CommandID = 0
	CmdMemory          CommandID = 1 // Memory read or write
	CmdTSW             CommandID = 2 // Target software command
	CmdHostIO          CommandID = 3 // Host-IO buffer read or write
	CmdHostIOCommand   CommandID = 4 // Execute the host-IO buffer
	CmdNovramRead      CommandID = 5
	CmdLength          CommandID = 6 // Announce the length of the next command
	CmdLengthHandshake CommandID = 7 // Negotiate the transfer size
)

// String returns the command name.
func (id CommandID) String() string {
	switch id {
	case CmdAck:
		return "ACK"
	case CmdMemory:
		return "MEMORY"
	case CmdTSW:
		return "TSW"
	case CmdHostIO:
		return "HOST_IO"
	case CmdHostIOCommand:
		return "HOST_IO_COMMAND"
	case CmdNovramRead:
		return "NOVRAM_READ"
	case CmdLength:
		return "LENGTH"
	case CmdLengthHandshake:
		return "LENGTH_HANDSHAKE"
	default:
		return fmt.Sprintf("CommandID(%d)", uint32(id))
	}
}

// Direction is the data direction of a command, seen from the host.
type Direction uint32

// Command directions.
const (
	DirIn    Direction = 0 // Board to host
	DirOut   Direction = 1 // Host to board
	DirInOut Direction = 2 // Both
)

// Offsets placed in target, length and handshake commands. Older board
// software still expects them.
const (
	targetInOffset  = 0x5000
	targetOutOffset = 0x2000
)

// Header is the fixed command header. All fields are little-endian on the
// wire, starting with HeaderMagic.
type Header struct {
	ID        CommandID
	Direction Direction
	Type      uint32 // Memory type
	InOffset  uint32
	InSize    uint32 // Bytes expected back from the board
	OutOffset uint32
	OutSize   uint32 // Payload bytes following the header
}

// MarshalTo writes the header to buf.
// Returns the number of bytes written (32), or 0 if buf is too small.
func (h *Header) MarshalTo(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:], HeaderMagic)
	le.PutUint32(buf[4:], uint32(h.ID))
	le.PutUint32(buf[8:], uint32(h.Direction))
	le.PutUint32(buf[12:], h.Type)
	le.PutUint32(buf[16:], h.InOffset)
	le.PutUint32(buf[20:], h.InSize)
	le.PutUint32(buf[24:], h.OutOffset)
	le.PutUint32(buf[28:], h.OutSize)
	return HeaderSize
}

// ParseHeader decodes a command header from data.
func ParseHeader(data []byte, out *Header) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header of %d bytes", pkg.ErrIO, len(data))
	}
	le := binary.LittleEndian
	if m := le.Uint32(data); m != HeaderMagic {
		return fmt.Errorf("%w: header magic %#08x", pkg.ErrIO, m)
	}
	out.ID = CommandID(le.Uint32(data[4:]))
	out.Direction = Direction(le.Uint32(data[8:]))
	out.Type = le.Uint32(data[12:])
	out.InOffset = le.Uint32(data[16:])
	out.InSize = le.Uint32(data[20:])
	out.OutOffset = le.Uint32(data[24:])
	out.OutSize = le.Uint32(data[28:])
	return nil
}

// frame returns a buffer holding the header followed by payload.
func frame(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	h.MarshalTo(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}
