package apu

import (
	"context"
	"fmt"
	"time"

	"github.com/aimusb/aimusb/pkg"
)

const (
	tcpReadyPolls    = 300
	tcpPollInterval  = time.Millisecond
	bootPollInterval = 100 * time.Microsecond
	eepromBusyPolls  = 300
)

// =============================================================================
// TCP Boot
// =============================================================================

// startTCP releases the TCP from reset unless it is already running.
func (b *Backend) startTCP(ctx context.Context) error {
	reset, err := b.ioRead(ctx, ioReset)
	if err != nil {
		return err
	}
	if ResetTCP.IsSet(reset) {
		pkg.LogDebug(pkg.ComponentAPU, "TCP already started, skipping boot", "device", b.intf.Name())
		return nil
	}

	// Clears the ready bit.
	if err := b.ioWrite(ctx, ioTCPPort, 0); err != nil {
		return err
	}
	reset = ResetTCP.Set(reset)
	if err := b.ioWrite(ctx, ioReset, reset); err != nil {
		return err
	}
	if err := b.waitTCPReady(ctx); err != nil {
		return err
	}

	reset = ResetIRIG.Set(reset)
	if err := b.ioWrite(ctx, ioReset, reset); err != nil {
		return err
	}
	if err := sleep(ctx, time.Millisecond); err != nil {
		return err
	}

	version, err := b.TCPRegRead(ctx, TCPPortVersion)
	if err != nil {
		return err
	}
	b.tcpVersion = version
	pkg.LogInfo(pkg.ComponentAPU, "TCP started", "device", b.intf.Name(), "version", fmt.Sprintf("%#x", version))
	return nil
}

// waitTCPReady polls the ready bit of the TCP port register.
func (b *Backend) waitTCPReady(ctx context.Context) error {
	for range tcpReadyPolls {
		v, err := b.ioRead(ctx, ioTCPPort)
		if err != nil {
			return err
		}
		if TCPReady.IsSet(v) {
			return nil
		}
		if err := sleep(ctx, tcpPollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: TCP not ready", pkg.ErrTimeout)
}

// =============================================================================
// TCP Registers
// =============================================================================

// TCPRegRead reads TCP port port.
func (b *Backend) TCPRegRead(ctx context.Context, port uint8) (uint8, error) {
	reg := TCPCommand.Put(0, uint32(port))
	if err := b.ioWrite(ctx, ioTCPPort, reg); err != nil {
		return 0, err
	}
	if err := b.waitTCPReady(ctx); err != nil {
		return 0, err
	}
	v, err := b.ioRead(ctx, ioTCPPort)
	if err != nil {
		return 0, err
	}
	return uint8(TCPData.Get(v)), nil
}

// TCPRegWrite writes value to TCP port port.
func (b *Backend) TCPRegWrite(ctx context.Context, port, value uint8) error {
	reg := TCPCommand.Put(0, uint32(port))
	reg = TCPData.Put(reg, uint32(value))
	reg = TCPWrite.Set(reg)
	if err := b.ioWrite(ctx, ioTCPPort, reg); err != nil {
		return err
	}
	return b.waitTCPReady(ctx)
}

// =============================================================================
// NOVRAM
// =============================================================================

// setEEPROMAddress selects the NOVRAM byte the next EEPROM access targets.
func (b *Backend) setEEPROMAddress(ctx context.Context, addr uint32) error {
	if err := b.TCPRegWrite(ctx, TCPPortAddrLo, uint8(addr)); err != nil {
		return err
	}
	return b.TCPRegWrite(ctx, TCPPortAddrHi, uint8(addr>>8)&1)
}

// NovramGet reads the little-endian word at NOVRAM byte offset addr.
func (b *Backend) NovramGet(ctx context.Context, addr uint32) (uint32, error) {
	var value uint32
	for range 4 {
		if err := b.setEEPROMAddress(ctx, addr); err != nil {
			return 0, err
		}
		v, err := b.TCPRegRead(ctx, TCPPortEEPROMRead)
		if err != nil {
			return 0, err
		}
		value = value>>8 | uint32(v)<<24
		addr++
	}
	return value, nil
}

// NovramSet writes value as a little-endian word at NOVRAM byte offset
// addr.
func (b *Backend) NovramSet(ctx context.Context, addr, value uint32) error {
	if err := b.TCPRegWrite(ctx, TCPPortCtrl, tcpEEPROMWriteEnable); err != nil {
		return err
	}
	for range 4 {
		if err := b.waitEEPROMIdle(ctx); err != nil {
			return err
		}
		if err := b.setEEPROMAddress(ctx, addr); err != nil {
			return err
		}
		if err := b.TCPRegWrite(ctx, TCPPortEEPROMWrite, uint8(value)); err != nil {
			return err
		}
		value >>= 8
		addr++
	}
	if err := b.waitEEPROMIdle(ctx); err != nil {
		return err
	}
	return b.TCPRegWrite(ctx, TCPPortCtrl, 0)
}

func (b *Backend) waitEEPROMIdle(ctx context.Context) error {
	for range eepromBusyPolls {
		status, err := b.TCPRegRead(ctx, TCPPortStatus)
		if err != nil {
			return err
		}
		if status&tcpEEPROMBusy == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: NOVRAM write in progress", pkg.ErrTimeout)
}

// checkNovram validates both magic words and the checksum.
func (b *Backend) checkNovram(ctx context.Context) error {
	for _, off := range []uint32{NovramMagic1, NovramMagic2} {
		v, err := b.NovramGet(ctx, off)
		if err != nil {
			return err
		}
		if v != NovramMagic {
			return fmt.Errorf("%w: magic %#x at %#x", pkg.ErrNovramInvalid, v, off)
		}
	}

	var sum uint32
	for off := uint32(0); off < NovramChecksum; off += 4 {
		v, err := b.NovramGet(ctx, off)
		if err != nil {
			return err
		}
		sum += v
	}
	checksum, err := b.NovramGet(ctx, NovramChecksum)
	if err != nil {
		return err
	}
	if sum != checksum {
		return fmt.Errorf("%w: checksum %#x, computed %#x", pkg.ErrNovramInvalid, checksum, sum)
	}
	return nil
}
