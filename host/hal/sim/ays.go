package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/aimusb/aimusb/host/hal"
	"github.com/aimusb/aimusb/pkg"
)

// AYS endpoint addresses.
const (
	AYSCommandOut = 0x01
	AYSCommandIn  = 0x81
	AYSInterrupt  = 0x82
)

// Command header layout.
const (
	headerMagic = 0x45434D44
	headerSize  = 32
)

// Command identifiers.
const (
	CmdAck             = 0
	CmdMemory          = 1
	CmdTSW             = 2
	CmdHostIO          = 3
	CmdHostIOCommand   = 4
	CmdNovramRead      = 5
	CmdLength          = 6
	CmdLengthHandshake = 7
)

// Command directions.
const (
	DirIn    = 0
	DirOut   = 1
	DirInOut = 2
)

// Memory types addressed by memory commands.
const (
	memGlobal       = 0
	memShared       = 1
	memIO           = 3
	memGlobalDirect = 4
)

// ESMART service framing.
const (
	esmartMagic       = 0x45534D54
	esmartNovramGet   = 8
	esmartRequestLen  = 40
	esmartResponseLen = 44
)

// Command is one decoded command header received by the AYS simulator.
type Command struct {
	ID         uint32
	Direction  uint32
	Type       uint32
	InOffset   uint32
	InSize     uint32
	OutOffset  uint32
	OutSize    uint32
	PayloadLen int
}

// AYSOptions configures an AYS simulator.
type AYSOptions struct {
	// Gen2 selects the ZynqMP product identity.
	Gen2 bool

	// GlobalSize, SharedSize and IOSize size the memory spaces. Defaults
	// are 8 MiB, 1 MiB and 256 KiB.
	GlobalSize uint32
	SharedSize uint32
	IOSize     uint32

	// Novram maps NOVRAM offsets to values served through ESMART.
	// Offsets absent from the map answer with a failure status.
	Novram map[uint32]uint32

	// HandshakeLimit is the largest transfer size the board accepts in a
	// length handshake. Default 0xC000.
	HandshakeLimit uint32

	// ProtocolString is string descriptor 4. Default "7".
	ProtocolString string

	// NoInterrupt removes the interrupt endpoint.
	NoInterrupt bool

	// Target answers target commands. Default echoes the command.
	Target func(cmd []byte) []byte
}

// DefaultAYSNovram returns the board identity served by default.
func DefaultAYSNovram() map[uint32]uint32 {
	return map[uint32]uint32{
		0x4:  0x00000815, // serial
		0x8:  0x00000011, // board config
		0xC:  0x00000002, // hw variant
		0x10: 0x00000061, // board type
		0x1C: 0x00060100, // part number
	}
}

// AYS simulates an ASP board with the native USB command protocol.
type AYS struct {
	opts AYSOptions
	eps  []hal.EndpointDescriptor
	in   *endpointQueues
	irq  *interruptPipe

	mu       sync.Mutex
	mem      map[uint32][]byte
	hostIO   []byte
	hostResp []byte
	commands []Command
	lengths  []uint32
}

var _ hal.Transport = (*AYS)(nil)

// NewAYS creates an AYS simulator.
func NewAYS(opts AYSOptions) *AYS {
	if opts.GlobalSize == 0 {
		opts.GlobalSize = 8 << 20
	}
	if opts.SharedSize == 0 {
		opts.SharedSize = 1 << 20
	}
	if opts.IOSize == 0 {
		opts.IOSize = 256 << 10
	}
	if opts.Novram == nil {
		opts.Novram = DefaultAYSNovram()
	}
	if opts.HandshakeLimit == 0 {
		opts.HandshakeLimit = 0xC000
	}
	if opts.ProtocolString == "" {
		opts.ProtocolString = "7"
	}
	if opts.Target == nil {
		opts.Target = func(cmd []byte) []byte { return cmd }
	}
	y := &AYS{
		opts: opts,
		eps: []hal.EndpointDescriptor{
			bulkEndpoint(AYSCommandOut, 512),
			bulkEndpoint(AYSCommandIn, 512),
		},
		in:  newEndpointQueues(),
		irq: newInterruptPipe(),
		mem: map[uint32][]byte{
			memGlobal: make([]byte, opts.GlobalSize),
			memShared: make([]byte, opts.SharedSize),
			memIO:     make([]byte, opts.IOSize),
		},
	}
	y.mem[memGlobalDirect] = y.mem[memGlobal]
	if !opts.NoInterrupt {
		y.eps = append(y.eps, interruptEndpoint(AYSInterrupt, 64))
	}
	return y
}

// =============================================================================
// hal.Transport
// =============================================================================

// Info returns the simulated device identity.
func (y *AYS) Info() hal.DeviceInfo {
	pid := uint16(0x4510)
	if y.opts.Gen2 {
		pid = 0x5710
	}
	return hal.DeviceInfo{VendorID: 0x1633, ProductID: pid, Bus: 1, Address: 3, Speed: hal.SpeedHigh}
}

// Endpoints returns the command and interrupt endpoints.
func (y *AYS) Endpoints() []hal.EndpointDescriptor {
	return y.eps
}

// BulkTransfer executes commands on the OUT endpoint and returns queued
// replies on the IN endpoint.
func (y *AYS) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint&hal.EndpointDirIn != 0 {
		return y.in.pop(ctx, endpoint, data)
	}
	if y.in.isClosed() {
		return 0, pkg.ErrNoDevice
	}
	if endpoint != AYSCommandOut {
		return 0, fmt.Errorf("%w: endpoint %#02x", pkg.ErrStall, endpoint)
	}
	if len(data) == 0 {
		return 0, nil
	}
	if err := y.execute(data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// InterruptTransfer waits for the next interrupt payload.
func (y *AYS) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint != AYSInterrupt || y.opts.NoInterrupt {
		return 0, fmt.Errorf("%w: endpoint %#02x", pkg.ErrStall, endpoint)
	}
	return y.irq.receive(ctx, data)
}

// StringDescriptor returns the product strings. Index 4 carries the
// protocol string.
func (y *AYS) StringDescriptor(ctx context.Context, index uint8) (string, error) {
	switch index {
	case 1:
		return "AIM GmbH", nil
	case 2:
		if y.opts.Gen2 {
			return "ASC1553-Gen2", nil
		}
		return "ASC1553", nil
	case 4:
		return y.opts.ProtocolString, nil
	}
	return "", pkg.ErrStall
}

// Close disconnects the simulator.
func (y *AYS) Close() error {
	y.in.close()
	y.irq.close()
	return nil
}

// =============================================================================
// Command Execution
// =============================================================================

func (y *AYS) execute(data []byte) error {
	if len(data) < headerSize || binary.LittleEndian.Uint32(data) != headerMagic {
		return fmt.Errorf("%w: malformed command header", pkg.ErrStall)
	}
	w := func(i int) uint32 { return binary.LittleEndian.Uint32(data[4*i:]) }
	cmd := Command{
		ID:         w(1),
		Direction:  w(2),
		Type:       w(3),
		InOffset:   w(4),
		InSize:     w(5),
		OutOffset:  w(6),
		OutSize:    w(7),
		PayloadLen: len(data) - headerSize,
	}
	payload := data[headerSize:]

	y.mu.Lock()
	defer y.mu.Unlock()
	y.commands = append(y.commands, cmd)

	switch cmd.ID {
	case CmdMemory:
		return y.memory(cmd, payload)
	case CmdTSW:
		resp := y.opts.Target(append([]byte(nil), payload...))
		if cmd.InSize > 0 {
			y.in.push(AYSCommandIn, clip(resp, cmd.InSize))
		}
	case CmdHostIO:
		if cmd.Direction == DirOut {
			y.hostIO = append(y.hostIO[:0], payload...)
			y.ack()
		} else {
			y.in.push(AYSCommandIn, clip(y.hostResp, cmd.InSize))
		}
	case CmdHostIOCommand:
		y.hostResp = y.esmart(y.hostIO)
		y.ack()
	case CmdLength:
		if len(payload) < 4 {
			return fmt.Errorf("%w: length command without payload", pkg.ErrStall)
		}
		y.lengths = append(y.lengths, binary.LittleEndian.Uint32(payload))
		y.ack()
	case CmdLengthHandshake:
		if len(payload) < 4 {
			return fmt.Errorf("%w: handshake without payload", pkg.ErrStall)
		}
		n := min(binary.LittleEndian.Uint32(payload), y.opts.HandshakeLimit)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], n)
		y.in.push(AYSCommandIn, b[:])
	default:
		return fmt.Errorf("%w: command id %d", pkg.ErrStall, cmd.ID)
	}
	return nil
}

func (y *AYS) memory(cmd Command, payload []byte) error {
	mem, ok := y.mem[cmd.Type]
	if !ok {
		return fmt.Errorf("%w: memory type %d", pkg.ErrStall, cmd.Type)
	}
	switch cmd.Direction {
	case DirIn:
		off := int(cmd.InOffset)
		if off > len(mem) {
			off = len(mem)
		}
		end := min(off+int(cmd.InSize), len(mem))
		y.in.push(AYSCommandIn, append([]byte(nil), mem[off:end]...))
	case DirOut:
		if int(cmd.OutSize) != len(payload) || int(cmd.OutOffset)+len(payload) > len(mem) {
			y.in.push(AYSCommandIn, nil)
			return nil
		}
		copy(mem[cmd.OutOffset:], payload)
		y.ack()
	default:
		return fmt.Errorf("%w: memory direction %d", pkg.ErrStall, cmd.Direction)
	}
	return nil
}

func (y *AYS) ack() {
	y.in.push(AYSCommandIn, make([]byte, 4))
}

// esmart answers an ESMART request held in the host-IO buffer.
func (y *AYS) esmart(req []byte) []byte {
	resp := make([]byte, esmartResponseLen)
	le := binary.LittleEndian
	le.PutUint32(resp[0:], esmartMagic)
	le.PutUint32(resp[8:], esmartResponseLen)
	if len(req) < esmartRequestLen || le.Uint32(req) != esmartMagic {
		le.PutUint32(resp[32:], 0xFFFFFFFF)
		return resp
	}
	le.PutUint32(resp[4:], le.Uint32(req[4:]))
	if le.Uint32(req[4:]) != esmartNovramGet {
		le.PutUint32(resp[32:], 0xFFFFFFFE)
		return resp
	}
	v, ok := y.opts.Novram[le.Uint32(req[32:])]
	if !ok {
		le.PutUint32(resp[32:], 0xFFFFFFFD)
		return resp
	}
	le.PutUint32(resp[36:], 1)
	le.PutUint32(resp[40:], v)
	return resp
}

func clip(b []byte, n uint32) []byte {
	if uint32(len(b)) > n {
		b = b[:n]
	}
	return append([]byte(nil), b...)
}

// =============================================================================
// Test Hooks
// =============================================================================

// SendInterrupt delivers a raw interrupt payload.
func (y *AYS) SendInterrupt(payload []byte) bool {
	return y.irq.send(payload)
}

// Commands returns the headers received so far.
func (y *AYS) Commands() []Command {
	y.mu.Lock()
	defer y.mu.Unlock()
	return append([]Command(nil), y.commands...)
}

// ResetCommands forgets the recorded headers.
func (y *AYS) ResetCommands() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.commands = nil
}

// Lengths returns the values announced with length-info commands.
func (y *AYS) Lengths() []uint32 {
	y.mu.Lock()
	defer y.mu.Unlock()
	return append([]uint32(nil), y.lengths...)
}

// Memory returns a copy of n bytes of memory type typ at off.
func (y *AYS) Memory(typ, off uint32, n int) []byte {
	y.mu.Lock()
	defer y.mu.Unlock()
	return append([]byte(nil), y.mem[typ][off:int(off)+n]...)
}

// SetMemory writes data into memory type typ at off.
func (y *AYS) SetMemory(typ, off uint32, data []byte) {
	y.mu.Lock()
	defer y.mu.Unlock()
	copy(y.mem[typ][off:], data)
}
