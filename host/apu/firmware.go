package apu

import (
	"context"
	"fmt"
	"time"

	"github.com/aimusb/aimusb/pkg"
	"github.com/aimusb/aimusb/pkg/srec"
)

// FirmwareName returns the image file name for NOVRAM firmware
// extension ext.
func FirmwareName(ext uint32) string {
	return fmt.Sprintf("BIP_%04x.sre", ext)
}

// loadFirmware reads and decodes the image named by the NOVRAM firmware
// extension.
func (b *Backend) loadFirmware(ctx context.Context) (*srec.Image, error) {
	if b.opts.Firmware == nil {
		return nil, fmt.Errorf("%w: no firmware source", pkg.ErrFirmwareInvalid)
	}
	ext, err := b.NovramGet(ctx, NovramFirmwareExt)
	if err != nil {
		return nil, err
	}
	name := FirmwareName(ext)
	pkg.LogDebug(pkg.ComponentFirmware, "loading firmware", "device", b.intf.Name(), "file", name)

	f, err := b.opts.Firmware.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pkg.ErrFirmwareInvalid, name, err)
	}
	defer f.Close()

	img, err := srec.Decode(f, MaxFirmwareSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	pkg.LogDebug(pkg.ComponentFirmware, "firmware decoded", "device", b.intf.Name(),
		"file", name, "origin", img.Origin, "size", len(img.Data))
	return img, nil
}

// startBIU downloads the firmware to global memory and boots BIU 1.
func (b *Backend) startBIU(ctx context.Context) error {
	if err := b.ioWrite(ctx, ioIRQEvent, eventAll); err != nil {
		return err
	}
	if err := b.ioWrite(ctx, ioIRQMask, eventMaskAll); err != nil {
		return err
	}

	img, err := b.loadFirmware(ctx)
	if err != nil {
		return err
	}
	global := b.intf.Global()
	if len(img.Data) > int(global.Size) {
		return fmt.Errorf("%w: firmware of %d bytes exceeds global memory", pkg.ErrNoMemory, len(img.Data))
	}
	if err := b.dma.Write(ctx, global.BusAddress, img.Data); err != nil {
		return err
	}

	if err := b.updateReset(ctx, func(v uint32) uint32 {
		return ResetBIU1.Set(v)
	}); err != nil {
		return err
	}
	if err := b.waitBootIRQ(ctx); err != nil {
		return err
	}

	clock, err := b.NovramGet(ctx, NovramCPUClock)
	if err != nil {
		return err
	}
	if err := b.ncc.PCIWrite(ctx, global.BusAddress+globalClock, clock); err != nil {
		return err
	}
	boardType, err := b.NovramGet(ctx, NovramBoardType)
	if err != nil {
		return err
	}
	if boardType&boardTypeFamilyMask == boardTypeFamily429 {
		if err := b.ncc.PCIWrite(ctx, global.BusAddress+globalBoardType, boardType); err != nil {
			return err
		}
	}

	if err := b.ioWrite(ctx, ioIRQEvent, EventBoot); err != nil {
		return err
	}
	if err := b.waitBootIRQ(ctx); err != nil {
		return err
	}
	if err := b.updateReset(ctx, func(v uint32) uint32 {
		return ResetRelais.Set(v)
	}); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentFirmware, "BIU started", "device", b.intf.Name(), "board_type", boardType)
	return nil
}

// waitBootIRQ polls the event register until BIU 1 signals, then
// acknowledges the event.
func (b *Backend) waitBootIRQ(ctx context.Context) error {
	var event uint32
	raised, err := pollUntil(ctx, time.Now().Add(b.opts.BootTimeout), bootPollInterval, func() (bool, error) {
		v, err := b.ioRead(ctx, ioIRQEvent)
		event = v
		return v&EventBIU1 != 0, err
	})
	if err != nil {
		return err
	}
	if !raised {
		return fmt.Errorf("%w: no BIU boot interrupt", pkg.ErrTimeout)
	}
	return b.ioWrite(ctx, ioIRQEvent, event&EventBIU1)
}

// pollUntil calls fn every interval until it reports done or fails, or
// the deadline passes. It reports whether fn finished in time.
func pollUntil(ctx context.Context, deadline time.Time, interval time.Duration, fn func() (bool, error)) (bool, error) {
	for {
		done, err := fn()
		if err != nil || done {
			return done, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

// stopBIU puts BIU 1 back into reset.
func (b *Backend) stopBIU(ctx context.Context) {
	err := b.updateReset(ctx, func(v uint32) uint32 {
		return ResetBIU1.Clear(v)
	})
	if err != nil {
		pkg.LogError(pkg.ComponentAPU, "failed to reset BIU", "device", b.intf.Name(), "error", err)
	}
}
