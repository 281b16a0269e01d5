package ays

import (
	"context"
	"fmt"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/pkg"
)

// ackSize is the length of the acknowledgement for writes and host-IO
// steps.
const ackSize = 4

// Read copies len(buf) bytes at offset of memory space mem into buf, in
// chunks of at most the negotiated transfer size. A short chunk aborts
// the read with ErrIO.
func (b *Backend) Read(ctx context.Context, mem host.MemType, offset uint32, buf []byte) error {
	h := Header{ID: CmdMemory, Direction: DirIn, Type: uint32(mem)}
	var cmd [HeaderSize]byte
	size := b.TransferSize()

	for done := 0; done < len(buf); {
		chunk := min(size, len(buf)-done)
		h.InOffset = offset + uint32(done)
		h.InSize = uint32(chunk)
		h.MarshalTo(cmd[:])

		n, err := b.cmd.IssueCmd(ctx, cmd[:], buf[done:done+chunk])
		if err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to read data chunk", "device", b.intf.Name(), "error", err)
			return err
		}
		if n != chunk {
			pkg.LogWarn(pkg.ComponentAYS, "not all data could be read", "device", b.intf.Name(),
				"offset", h.InOffset, "want", chunk, "got", n)
			return fmt.Errorf("%w: read %d of %d bytes at %#x", pkg.ErrIO, n, chunk, h.InOffset)
		}
		done += n
	}
	return nil
}

// Write stores data at offset of memory space mem. Each chunk carries at
// most the negotiated transfer size minus the header and must be
// acknowledged by the board.
func (b *Backend) Write(ctx context.Context, mem host.MemType, offset uint32, data []byte) error {
	size := b.TransferSize()
	buf := make([]byte, size)
	var ack [ackSize]byte
	h := Header{ID: CmdMemory, Direction: DirOut, Type: uint32(mem), InSize: ackSize}

	for done := 0; done < len(data); {
		chunk := min(size-HeaderSize, len(data)-done)
		h.OutOffset = offset + uint32(done)
		h.OutSize = uint32(chunk)
		h.MarshalTo(buf)
		copy(buf[HeaderSize:], data[done:done+chunk])

		n, err := b.cmd.IssueCmd(ctx, buf[:HeaderSize+chunk], ack[:])
		if err != nil {
			pkg.LogError(pkg.ComponentAYS, "failed to write data chunk", "device", b.intf.Name(), "error", err)
			return err
		}
		if n != ackSize {
			pkg.LogWarn(pkg.ComponentAYS, "invalid response for write of data chunk", "device", b.intf.Name(),
				"offset", h.OutOffset, "len", n)
			return fmt.Errorf("%w: write of %d bytes at %#x not acknowledged", pkg.ErrIO, chunk, h.OutOffset)
		}
		done += chunk
	}
	return nil
}
