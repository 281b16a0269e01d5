package script

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/host/ays"
	"github.com/aimusb/aimusb/host/hal/sim"
	"github.com/aimusb/aimusb/host/platform"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Mock Board
// =============================================================================

type mockBoard struct {
	mu     sync.Mutex
	mem    map[host.MemType][]byte
	novram map[uint32]uint32
	tcp    map[uint8]uint8
	err    error
}

func newMockBoard() *mockBoard {
	return &mockBoard{
		mem: map[host.MemType][]byte{
			host.MemGlobal: make([]byte, 256),
			host.MemIO:     make([]byte, 64),
		},
		novram: map[uint32]uint32{0x4: 0x815},
		tcp:    map[uint8]uint8{},
	}
}

func (m *mockBoard) space(mem host.MemType, off uint32, n int) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.mem[mem]
	if !ok {
		return nil, pkg.ErrInvalidParameter
	}
	if int(off)+n > len(b) {
		return nil, pkg.ErrOutOfRange
	}
	return b[off : int(off)+n], nil
}

func (m *mockBoard) Read(ctx context.Context, mem host.MemType, off uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.space(mem, off, len(buf))
	if err != nil {
		return err
	}
	copy(buf, b)
	return nil
}

func (m *mockBoard) Write(ctx context.Context, mem host.MemType, off uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.space(mem, off, len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (m *mockBoard) MemSize(mem host.MemType) (uint32, error) {
	b, ok := m.mem[mem]
	if !ok {
		return 0, pkg.ErrInvalidParameter
	}
	return uint32(len(b)), nil
}

func (m *mockBoard) NovramGet(ctx context.Context, addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.novram[addr]
	if !ok {
		return 0, pkg.ErrNovramInvalid
	}
	return v, nil
}

func (m *mockBoard) NovramSet(ctx context.Context, addr, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.novram[addr] = value
	return nil
}

func (m *mockBoard) TCPRegRead(ctx context.Context, port uint8) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tcp[port], nil
}

func (m *mockBoard) TCPRegWrite(ctx context.Context, port, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tcp[port] = value
	return nil
}

func (m *mockBoard) TargetCommand(ctx context.Context, cmd, resp []byte) (int, error) {
	return copy(resp, bytes.ToUpper(cmd)), nil
}

func (m *mockBoard) BoardInfo() host.BoardInfo {
	return host.BoardInfo{Platform: host.PlatformAYS, Protocol: host.Protocol1553, Serial: 0x815, HasASP: true}
}

func newTestEngine(b Board) (*Engine, *bytes.Buffer) {
	var out bytes.Buffer
	e := New(b, Options{Output: &out, Name: "test"})
	return e, &out
}

// =============================================================================
// Binding Tests
// =============================================================================

func TestRunBindings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"read32 after write32", `board.write32("global", 8, 0xDEADBEEF) print(string.format("%08X", board.read32("global", 8)))`, "DEADBEEF"},
		{"write read", `board.write("io", 0, "abc") print(board.read("io", 0, 3))`, "abc"},
		{"size", `print(board.size("io"))`, "64"},
		{"novram", `print(string.format("%x", board.novram(4)))`, "815"},
		{"set novram", `board.set_novram(8, 17) print(board.novram(8))`, "17"},
		{"tcp", `board.tcp_write(6, 3) print(board.tcp_read(6))`, "3"},
		{"target", `print(board.target("ping"))`, "PING"},
		{"target maxlen", `print(board.target("ping", 2))`, "PI"},
		{"info", `local i = board.info() print(i.platform, i.serial, i.has_asp)`, "AYS-ASP\t2069\ttrue"},
		{"sleep", `board.sleep(1) print("ok")`, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, out := newTestEngine(newMockBoard())
			defer e.Close()
			if err := e.Run(context.Background(), tt.name, tt.src); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := strings.TrimSpace(out.String()); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrite32LittleEndian(t *testing.T) {
	b := newMockBoard()
	e, _ := newTestEngine(b)
	defer e.Close()

	if err := e.Run(context.Background(), "w", `board.write32("global", 0, 0x04030201)`); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := b.mem[host.MemGlobal][:4]; !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("memory = % x, want 01 02 03 04", got)
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		boarder error
		want    error
	}{
		{"out of range", `board.read("io", 60, 8)`, nil, pkg.ErrOutOfRange},
		{"unsupported space", `board.read("shared", 0, 4)`, nil, pkg.ErrInvalidParameter},
		{"novram invalid", `board.novram(0x40)`, nil, pkg.ErrNovramInvalid},
		{"board failure", `board.read32("global", 0)`, pkg.ErrNoDevice, pkg.ErrNoDevice},
		{"syntax", `board.read(`, nil, pkg.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBoard()
			b.err = tt.boarder
			e, _ := newTestEngine(b)
			defer e.Close()
			if err := e.Run(context.Background(), tt.name, tt.src); !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRunArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad memory type", `board.read("flash", 0, 4)`},
		{"negative offset", `board.read32("global", -1)`},
		{"negative length", `board.read("global", 0, -1)`},
		{"port too large", `board.tcp_read(256)`},
		{"value too large", `board.write32("global", 0, 0x100000000)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(newMockBoard())
			defer e.Close()
			err := e.Run(context.Background(), tt.name, tt.src)
			if err == nil {
				t.Fatal("Run() succeeded, want argument error")
			}
			if e.fault != nil {
				t.Errorf("fault = %v, want none for an argument error", e.fault)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	e, _ := newTestEngine(newMockBoard())
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx, "sleep", `board.sleep(5000)`); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
}

func TestFaultCleared(t *testing.T) {
	b := newMockBoard()
	e, _ := newTestEngine(b)
	defer e.Close()

	if err := e.Run(context.Background(), "bad", `board.novram(0x40)`); err == nil {
		t.Fatal("Run() succeeded, want error")
	}
	if err := e.Run(context.Background(), "good", `board.novram(4)`); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if e.fault != nil {
		t.Errorf("fault = %v after a successful run", e.fault)
	}
}

// =============================================================================
// Eval and REPL Tests
// =============================================================================

func TestEval(t *testing.T) {
	e, out := newTestEngine(newMockBoard())
	defer e.Close()
	ctx := context.Background()

	if err := e.Eval(ctx, "x = 20"); err != nil {
		t.Fatalf("Eval(statement) error = %v", err)
	}
	if err := e.Eval(ctx, "x + 1, board.size('io')"); err != nil {
		t.Fatalf("Eval(expression) error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "21\t64" {
		t.Errorf("output = %q, want %q", got, "21\t64")
	}
	if top := e.L.GetTop(); top != 0 {
		t.Errorf("stack top = %d after Eval, want 0", top)
	}
}

// rwPipe feeds fixed input to a terminal and collects its output.
type rwPipe struct {
	in  *strings.Reader
	out bytes.Buffer
}

func (p *rwPipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *rwPipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestREPL(t *testing.T) {
	e, out := newTestEngine(newMockBoard())
	defer e.Close()

	rw := &rwPipe{in: strings.NewReader("board.write32('io', 4, 7)\rboard.read32('io', 4) * 6\rboard.novram(64)\rexit\rprint('unreached')\r")}
	if err := e.REPL(context.Background(), rw, ""); err != nil {
		t.Fatalf("REPL() error = %v", err)
	}

	got := rw.out.String()
	if !strings.Contains(got, DefaultPrompt) {
		t.Errorf("output %q lacks prompt", got)
	}
	if !strings.Contains(got, "42") {
		t.Errorf("output %q lacks result 42", got)
	}
	if !strings.Contains(got, "error:") {
		t.Errorf("output %q lacks the novram error", got)
	}
	if strings.Contains(got, "unreached") {
		t.Errorf("output %q continued past exit", got)
	}
	if out.Len() != 0 {
		t.Errorf("engine output = %q, want everything on the terminal", out.String())
	}
}

func TestREPLEndOfInput(t *testing.T) {
	e, _ := newTestEngine(newMockBoard())
	defer e.Close()

	rw := &rwPipe{in: strings.NewReader("1 + 1\r")}
	if err := e.REPL(context.Background(), rw, "> "); err != nil {
		t.Errorf("REPL() error = %v, want nil at end of input", err)
	}
}

// =============================================================================
// Simulator Tests
// =============================================================================

func TestRunAgainstSimulator(t *testing.T) {
	ctx := context.Background()
	d, err := platform.Attach(ctx, sim.NewAYS(sim.AYSOptions{}), platform.Options{
		AYS: ays.Options{Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer d.Detach()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Close(ctx)

	e, out := newTestEngine(d)
	defer e.Close()

	src := `
for i = 0, 3 do
	board.write32("global", i * 4, i + 0x100)
end
local sum = 0
for i = 0, 3 do
	sum = sum + board.read32("global", i * 4)
end
print(sum, string.format("%x", board.novram(4)))
`
	if err := e.Run(ctx, "sum", src); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "1030\t815" {
		t.Errorf("output = %q, want %q", got, "1030\t815")
	}

	var buf [4]byte
	if err := d.Read(ctx, host.MemGlobal, 12, buf[:]); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if v := binary.LittleEndian.Uint32(buf[:]); v != 0x103 {
		t.Errorf("global[12] = %#x, want 0x103", v)
	}

	// AYS boards have no TCP.
	if err := e.Run(ctx, "tcp", `board.tcp_read(0)`); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("tcp_read error = %v, want ErrNotSupported", err)
	}
}
