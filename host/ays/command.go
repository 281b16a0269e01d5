package ays

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Target Commands
// =============================================================================

// TargetCommand sends cmd to the target software and reads at most
// len(resp) bytes of response. It returns the response length.
//
// Commands longer than LegacyTransferSize are announced with LengthInfo
// first.
func (b *Backend) TargetCommand(ctx context.Context, cmd, resp []byte) (int, error) {
	size := b.TransferSize()
	total := HeaderSize + len(cmd)
	if total > size || len(resp) > size {
		pkg.LogError(pkg.ComponentAYS, "target command or response exceeds transfer size", "device", b.intf.Name(),
			"command", len(cmd), "response", len(resp), "transfer_size", size)
		return 0, fmt.Errorf("%w: command %d, response %d, transfer size %d",
			pkg.ErrInvalidParameter, len(cmd), len(resp), size)
	}

	if total > LegacyTransferSize {
		if err := b.LengthInfo(ctx, total); err != nil {
			pkg.LogWarn(pkg.ComponentAYS, "length info failed", "device", b.intf.Name(), "error", err)
		}
	}

	buf := frame(Header{
		ID:        CmdTSW,
		Direction: DirInOut,
		Type:      uint32(host.MemShared),
		InOffset:  targetInOffset,
		InSize:    uint32(len(resp)),
		OutOffset: targetOutOffset,
		OutSize:   uint32(len(cmd)),
	}, cmd)
	n, err := b.cmd.IssueCmd(ctx, buf, resp)
	if err != nil {
		return 0, err
	}
	pkg.LogDebug(pkg.ComponentAYS, "target command", "device", b.intf.Name(), "command", len(cmd), "response", n)
	return n, nil
}

// lengthCommand sends a LENGTH or LENGTH_HANDSHAKE command carrying n and
// returns the 4-byte reply.
func (b *Backend) lengthCommand(ctx context.Context, id CommandID, n int) (uint32, error) {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], uint32(n))
	buf := frame(Header{
		ID:        id,
		Direction: DirInOut,
		Type:      uint32(host.MemShared),
		InOffset:  targetInOffset,
		InSize:    4,
		OutOffset: targetOutOffset,
		OutSize:   4,
	}, payload[:])

	var reply [4]byte
	got, err := b.cmd.IssueCmd(ctx, buf, reply[:])
	if err != nil {
		return 0, err
	}
	if got != len(reply) {
		return 0, fmt.Errorf("%w: %s reply of %d bytes", pkg.ErrIO, id, got)
	}
	return binary.LittleEndian.Uint32(reply[:]), nil
}

// LengthInfo announces that the next command is n bytes long.
func (b *Backend) LengthInfo(ctx context.Context, n int) error {
	if n > b.TransferSize() {
		return fmt.Errorf("%w: length %d exceeds transfer size %d", pkg.ErrIO, n, b.TransferSize())
	}
	pkg.LogDebug(pkg.ComponentAYS, "length info", "device", b.intf.Name(), "len", n)
	_, err := b.lengthCommand(ctx, CmdLength, n)
	return err
}

// LengthHandshake proposes n as the transfer size. When the board echoes
// n unchanged, n becomes the transfer size of the backend and the maximum
// transfer length of the command channel. It returns the transfer size in
// effect afterwards.
func (b *Backend) LengthHandshake(ctx context.Context, n int) (int, error) {
	echo, err := b.lengthCommand(ctx, CmdLengthHandshake, n)
	if err != nil {
		return b.TransferSize(), err
	}
	if int(echo) == n {
		b.transferSize.Store(int64(n))
		b.cmd.SetMaxTransferLength(n)
	}
	pkg.LogInfo(pkg.ComponentAYS, "transfer size", "device", b.intf.Name(),
		"proposed", n, "echo", echo, "transfer_size", b.TransferSize())
	return b.TransferSize(), nil
}

// =============================================================================
// Host-IO
// =============================================================================

// ComChannelCmd runs one host-IO call: cmd is written to the board's
// host-IO buffer, executed, and the result read into resp. The three steps
// hold the command channel throughout. It returns the response length.
func (b *Backend) ComChannelCmd(ctx context.Context, cmd, resp []byte) (int, error) {
	name := b.intf.Name()
	if need := max(HeaderSize+len(cmd), len(resp)); need > b.TransferSize() {
		pkg.LogError(pkg.ComponentAYS, "max transfer length exceeded for host-IO command", "device", name,
			"len", need, "transfer_size", b.TransferSize())
		return 0, fmt.Errorf("%w: %d bytes, transfer size %d", pkg.ErrMessageTooLong, need, b.TransferSize())
	}

	buf := make([]byte, HeaderSize+len(cmd))
	var n int
	err := b.cmd.Transaction(ctx, func(tx *host.Tx) error {
		// Write the request into the host-IO buffer.
		h := Header{ID: CmdHostIO, Direction: DirOut, InSize: ackSize, OutSize: uint32(len(cmd))}
		h.MarshalTo(buf)
		copy(buf[HeaderSize:], cmd)
		if err := tx.Send(buf); err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to send host-IO data", "device", name, "error", err)
			return err
		}
		if _, err := tx.Receive(buf[:ackSize]); err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to receive host-IO response", "device", name, "error", err)
			return err
		}

		// Execute it.
		h = Header{ID: CmdHostIOCommand, Direction: DirOut, InSize: ackSize}
		h.MarshalTo(buf)
		if err := tx.Send(buf[:HeaderSize]); err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to trigger host-IO command", "device", name, "error", err)
			return err
		}
		if _, err := tx.Receive(buf[:ackSize]); err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to receive host-IO trigger response", "device", name, "error", err)
			return err
		}

		// Collect the result.
		h = Header{ID: CmdHostIO, Direction: DirIn, InSize: uint32(len(resp))}
		h.MarshalTo(buf)
		if err := tx.Send(buf[:HeaderSize]); err != nil {
			return err
		}
		var err error
		if n, err = tx.Receive(resp); err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to receive host-IO command response", "device", name, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
