package script

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/pkg"
)

// Board is the set of board operations exposed to scripts.
// *platform.Device implements it.
type Board interface {
	Read(ctx context.Context, mem host.MemType, offset uint32, buf []byte) error
	Write(ctx context.Context, mem host.MemType, offset uint32, data []byte) error
	MemSize(mem host.MemType) (uint32, error)
	NovramGet(ctx context.Context, addr uint32) (uint32, error)
	NovramSet(ctx context.Context, addr, value uint32) error
	TCPRegRead(ctx context.Context, port uint8) (uint8, error)
	TCPRegWrite(ctx context.Context, port, value uint8) error
	TargetCommand(ctx context.Context, cmd, resp []byte) (int, error)
	BoardInfo() host.BoardInfo
}

// Limits on script-supplied sizes.
const (
	MaxReadSize         = 16 << 20
	DefaultTargetMaxLen = 1024
)

// Options configures an Engine.
type Options struct {
	// Output receives print output. Default os.Stdout.
	Output io.Writer

	// Name identifies the board in log output.
	Name string
}

// Engine is a Lua state bound to one board.
type Engine struct {
	L     *lua.LState
	board Board
	name  string
	out   io.Writer

	// fault is the driver error behind the last raised Lua error.
	fault error
}

// New creates an Engine with the standard Lua libraries and the board
// table installed.
func New(board Board, opts Options) *Engine {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	e := &Engine{
		L:     lua.NewState(),
		board: board,
		name:  opts.Name,
		out:   opts.Output,
	}
	e.L.SetGlobal("print", e.L.NewFunction(e.print))
	tbl := e.L.SetFuncs(e.L.NewTable(), map[string]lua.LGFunction{
		"read":       e.read,
		"write":      e.write,
		"read32":     e.read32,
		"write32":    e.write32,
		"size":       e.size,
		"novram":     e.novram,
		"set_novram": e.setNovram,
		"tcp_read":   e.tcpRead,
		"tcp_write":  e.tcpWrite,
		"target":     e.target,
		"info":       e.info,
		"sleep":      e.sleep,
	})
	e.L.SetGlobal("board", tbl)
	return e
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.L.Close()
}

// SetOutput redirects print output.
func (e *Engine) SetOutput(w io.Writer) {
	e.out = w
}

// Run executes src. name labels the chunk in errors. The script is
// aborted when ctx is done.
func (e *Engine) Run(ctx context.Context, name, src string) error {
	fn, err := e.L.Load(strings.NewReader(src), name)
	if err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrInvalidParameter, err)
	}
	return e.call(ctx, name, fn, 0)
}

// RunFile executes the script at path.
func (e *Engine) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return e.Run(ctx, path, string(src))
}

// Eval executes one line and prints the values it yields. A line that
// is an expression prints its value.
func (e *Engine) Eval(ctx context.Context, line string) error {
	fn, err := e.L.LoadString("return " + line)
	if err != nil {
		if fn, err = e.L.LoadString(line); err != nil {
			return fmt.Errorf("%w: %v", pkg.ErrInvalidParameter, err)
		}
	}
	return e.call(ctx, "eval", fn, lua.MultRet)
}

func (e *Engine) call(ctx context.Context, name string, fn *lua.LFunction, nret int) error {
	e.L.SetContext(ctx)
	defer e.L.RemoveContext()
	e.fault = nil

	top := e.L.GetTop()
	e.L.Push(fn)
	err := e.L.PCall(0, nret, nil)
	if err != nil {
		e.L.SetTop(top)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case e.fault != nil:
			return fmt.Errorf("%s: %w", name, errors.Join(e.fault, err))
		default:
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if n := e.L.GetTop() - top; n > 0 {
		vals := make([]string, n)
		for i := range n {
			vals[i] = e.L.ToStringMeta(e.L.Get(top + 1 + i)).String()
		}
		fmt.Fprintln(e.out, strings.Join(vals, "\t"))
		e.L.SetTop(top)
	}
	return nil
}

// =============================================================================
// Lua Functions
// =============================================================================

func (e *Engine) ctx() context.Context {
	if ctx := e.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// raise aborts the running script with err.
func (e *Engine) raise(L *lua.LState, op string, err error) {
	e.fault = err
	pkg.LogDebug(pkg.ComponentScript, "board operation failed", "device", e.name, "op", op, "error", err)
	L.RaiseError("%s: %v", op, err)
}

func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	vals := make([]string, n)
	for i := range n {
		vals[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	fmt.Fprintln(e.out, strings.Join(vals, "\t"))
	return 0
}

func (e *Engine) read(L *lua.LState) int {
	mem := checkMem(L, 1)
	off := checkUint32(L, 2)
	n := L.CheckInt(3)
	if n < 0 || n > MaxReadSize {
		L.ArgError(3, "length out of range")
	}
	buf := make([]byte, n)
	if err := e.board.Read(e.ctx(), mem, off, buf); err != nil {
		e.raise(L, "read", err)
	}
	L.Push(lua.LString(buf))
	return 1
}

func (e *Engine) write(L *lua.LState) int {
	mem := checkMem(L, 1)
	off := checkUint32(L, 2)
	data := L.CheckString(3)
	if err := e.board.Write(e.ctx(), mem, off, []byte(data)); err != nil {
		e.raise(L, "write", err)
	}
	return 0
}

func (e *Engine) read32(L *lua.LState) int {
	mem := checkMem(L, 1)
	off := checkUint32(L, 2)
	var buf [4]byte
	if err := e.board.Read(e.ctx(), mem, off, buf[:]); err != nil {
		e.raise(L, "read32", err)
	}
	L.Push(lua.LNumber(binary.LittleEndian.Uint32(buf[:])))
	return 1
}

func (e *Engine) write32(L *lua.LState) int {
	mem := checkMem(L, 1)
	off := checkUint32(L, 2)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], checkUint32(L, 3))
	if err := e.board.Write(e.ctx(), mem, off, buf[:]); err != nil {
		e.raise(L, "write32", err)
	}
	return 0
}

func (e *Engine) size(L *lua.LState) int {
	n, err := e.board.MemSize(checkMem(L, 1))
	if err != nil {
		e.raise(L, "size", err)
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (e *Engine) novram(L *lua.LState) int {
	v, err := e.board.NovramGet(e.ctx(), checkUint32(L, 1))
	if err != nil {
		e.raise(L, "novram", err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (e *Engine) setNovram(L *lua.LState) int {
	addr := checkUint32(L, 1)
	if err := e.board.NovramSet(e.ctx(), addr, checkUint32(L, 2)); err != nil {
		e.raise(L, "set_novram", err)
	}
	return 0
}

func (e *Engine) tcpRead(L *lua.LState) int {
	v, err := e.board.TCPRegRead(e.ctx(), checkUint8(L, 1))
	if err != nil {
		e.raise(L, "tcp_read", err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (e *Engine) tcpWrite(L *lua.LState) int {
	port := checkUint8(L, 1)
	if err := e.board.TCPRegWrite(e.ctx(), port, checkUint8(L, 2)); err != nil {
		e.raise(L, "tcp_write", err)
	}
	return 0
}

func (e *Engine) target(L *lua.LState) int {
	cmd := L.CheckString(1)
	maxLen := L.OptInt(2, DefaultTargetMaxLen)
	if maxLen < 0 || maxLen > MaxReadSize {
		L.ArgError(2, "length out of range")
	}
	resp := make([]byte, maxLen)
	n, err := e.board.TargetCommand(e.ctx(), []byte(cmd), resp)
	if err != nil {
		e.raise(L, "target", err)
	}
	L.Push(lua.LString(resp[:n]))
	return 1
}

func (e *Engine) info(L *lua.LState) int {
	bi := e.board.BoardInfo()
	tbl := L.NewTable()
	L.SetField(tbl, "platform", lua.LString(bi.Platform.String()))
	L.SetField(tbl, "protocol", lua.LString(bi.Protocol.String()))
	L.SetField(tbl, "serial", lua.LNumber(bi.Serial))
	L.SetField(tbl, "board_config", lua.LNumber(bi.BoardConfig))
	L.SetField(tbl, "board_type", lua.LNumber(bi.BoardType))
	L.SetField(tbl, "sub_type", lua.LNumber(bi.SubType))
	L.SetField(tbl, "part_no", lua.LNumber(bi.PartNo))
	L.SetField(tbl, "hw_variant", lua.LNumber(bi.HwVariant))
	L.SetField(tbl, "has_asp", lua.LBool(bi.HasASP))
	L.SetField(tbl, "open_connections", lua.LNumber(bi.OpenConnections))
	L.Push(tbl)
	return 1
}

func (e *Engine) sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond
	ctx := e.ctx()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		e.raise(L, "sleep", ctx.Err())
	}
	return 0
}

// =============================================================================
// Argument Helpers
// =============================================================================

func checkMem(L *lua.LState, n int) host.MemType {
	mem, err := host.ParseMemType(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return mem
}

func checkUint32(L *lua.LState, n int) uint32 {
	v := L.CheckInt64(n)
	if v < 0 || v > math.MaxUint32 {
		L.ArgError(n, "value out of range")
	}
	return uint32(v)
}

func checkUint8(L *lua.LState, n int) uint8 {
	v := L.CheckInt64(n)
	if v < 0 || v > math.MaxUint8 {
		L.ArgError(n, "value out of range")
	}
	return uint8(v)
}
