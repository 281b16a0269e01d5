package platform

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimusb/aimusb/host"
	"github.com/aimusb/aimusb/host/apu"
	"github.com/aimusb/aimusb/host/ays"
	"github.com/aimusb/aimusb/host/hal/sim"
	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testFirmware() fstest.MapFS {
	return fstest.MapFS{
		"BIP_1553.sre": {Data: []byte("S00600004844521B\nS10500000102F7\nS9030000FC\n")},
	}
}

func attachAPU(t *testing.T) *Device {
	t.Helper()
	entry := APU
	d, err := Attach(context.Background(), sim.NewAPU(sim.APUOptions{}), Options{
		Entry: &entry,
		APU: apu.Options{
			Firmware:    testFirmware(),
			BootTimeout: 50 * time.Millisecond,
			Timeout:     time.Second,
		},
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	t.Cleanup(d.Detach)
	return d
}

func attachAYS(t *testing.T, gen2 bool) *Device {
	t.Helper()
	d, err := Attach(context.Background(), sim.NewAYS(sim.AYSOptions{Gen2: gen2}), Options{
		AYS: ays.Options{Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	t.Cleanup(d.Detach)
	return d
}

func open(t *testing.T, d *Device) {
	t.Helper()
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close(context.Background()) })
}

// =============================================================================
// Device Table Tests
// =============================================================================

func TestLookup(t *testing.T) {
	tests := []struct {
		vid, pid uint16
		want     string
		platform host.Platform
		ok       bool
	}{
		{VendorAIM, 0x4510, "ASC1553", host.PlatformAYS, true},
		{VendorAIM, 0x5710, "ASC1553-Gen2", host.PlatformAYSGen2, true},
		{VendorAIM, 0x0001, "", 0, false},
		{0x1234, 0x4510, "", 0, false},
	}
	for _, tt := range tests {
		got, ok := Lookup(tt.vid, tt.pid)
		if ok != tt.ok {
			t.Errorf("Lookup(%04x:%04x) ok = %v, want %v", tt.vid, tt.pid, ok, tt.ok)
			continue
		}
		if got.Name != tt.want || got.Platform != tt.platform {
			t.Errorf("Lookup(%04x:%04x) = %+v", tt.vid, tt.pid, got)
		}
		if ok && got.Protocol != host.Protocol1553 {
			t.Errorf("Lookup(%04x:%04x) protocol = %v", tt.vid, tt.pid, got.Protocol)
		}
	}
}

// =============================================================================
// Attach Tests
// =============================================================================

func TestAttachUnknownDevice(t *testing.T) {
	_, err := Attach(context.Background(), sim.NewAPU(sim.APUOptions{}), Options{})
	if !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Attach() error = %v, want ErrNotSupported", err)
	}
}

func TestAttachUnsupportedPlatform(t *testing.T) {
	var freed atomic.Int32
	entry := DeviceEntry{VendorID: VendorAIM, Name: "ACE1553", Platform: host.Platform(3), Protocol: host.Protocol1553}
	_, err := Attach(context.Background(), sim.NewAYS(sim.AYSOptions{}), Options{
		Entry:  &entry,
		OnFree: func() { freed.Add(1) },
	})
	if !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Attach() error = %v, want ErrNotSupported", err)
	}
	if freed.Load() != 1 {
		t.Errorf("interface freed %d times, want 1", freed.Load())
	}
}

func TestAttachInitFailure(t *testing.T) {
	var freed atomic.Int32
	_, err := Attach(context.Background(), sim.NewAYS(sim.AYSOptions{ProtocolString: "6"}), Options{
		OnFree: func() { freed.Add(1) },
	})
	if !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Attach() error = %v, want ErrNotSupported", err)
	}
	if freed.Load() != 1 {
		t.Errorf("interface freed %d times, want 1", freed.Load())
	}
}

func TestAttachName(t *testing.T) {
	d := attachAYS(t, true)
	if got := d.Interface().Name(); got != "ASC1553-Gen2-1.3" {
		t.Errorf("Name() = %q", got)
	}
	if d.Entry().ProductID != 0x5710 {
		t.Errorf("Entry() = %+v", d.Entry())
	}
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestCapabilities(t *testing.T) {
	ops := []struct {
		name string
		apu  bool
		ays  bool
		run  func(ctx context.Context, d *Device) error
	}{
		{"Read", true, true, func(ctx context.Context, d *Device) error {
			return d.Read(ctx, host.MemGlobal, 0, make([]byte, 4))
		}},
		{"Write", true, true, func(ctx context.Context, d *Device) error {
			return d.Write(ctx, host.MemGlobal, 0x100, []byte{1, 2, 3, 4})
		}},
		{"NovramGet", true, true, func(ctx context.Context, d *Device) error {
			_, err := d.NovramGet(ctx, 0x4)
			return err
		}},
		{"NovramSet", true, false, func(ctx context.Context, d *Device) error {
			return d.NovramSet(ctx, 0x180, 0x12345678)
		}},
		{"TCPRegRead", true, false, func(ctx context.Context, d *Device) error {
			_, err := d.TCPRegRead(ctx, apu.TCPPortVersion)
			return err
		}},
		{"TCPRegWrite", true, false, func(ctx context.Context, d *Device) error {
			return d.TCPRegWrite(ctx, apu.TCPPortCtrl, 0)
		}},
		{"TargetCommand", false, true, func(ctx context.Context, d *Device) error {
			_, err := d.TargetCommand(ctx, []byte{1, 2, 3, 4}, make([]byte, 16))
			return err
		}},
		{"ComChannelCmd", false, true, func(ctx context.Context, d *Device) error {
			_, err := d.ComChannelCmd(ctx, make([]byte, 40), make([]byte, 44))
			return err
		}},
	}

	boards := []struct {
		name   string
		attach func(t *testing.T) *Device
		isAPU  bool
	}{
		{"APU", attachAPU, true},
		{"AYS", func(t *testing.T) *Device { return attachAYS(t, false) }, false},
		{"Gen2", func(t *testing.T) *Device { return attachAYS(t, true) }, false},
	}

	for _, b := range boards {
		t.Run(b.name, func(t *testing.T) {
			d := b.attach(t)
			open(t, d)
			ctx := context.Background()
			for _, op := range ops {
				supported := op.ays
				if b.isAPU {
					supported = op.apu
				}
				err := op.run(ctx, d)
				switch {
				case supported && err != nil:
					t.Errorf("%s error = %v", op.name, err)
				case !supported && !errors.Is(err, pkg.ErrNotSupported):
					t.Errorf("%s error = %v, want ErrNotSupported", op.name, err)
				}
			}
		})
	}
}

func TestZeroLength(t *testing.T) {
	d := attachAYS(t, false)
	ctx := context.Background()

	// Zero-length transfers succeed without an open user.
	if err := d.Read(ctx, host.MemGlobal, 0, nil); err != nil {
		t.Errorf("Read(nil) error = %v", err)
	}
	if err := d.Write(ctx, host.MemIO, 0, []byte{}); err != nil {
		t.Errorf("Write(empty) error = %v", err)
	}
	if err := d.Read(ctx, host.MemGlobal, 0, make([]byte, 4)); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Read() before Open error = %v, want ErrNotRunning", err)
	}
}

func TestReadWrite(t *testing.T) {
	d := attachAYS(t, false)
	open(t, d)
	ctx := context.Background()

	want := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	if err := d.Write(ctx, host.MemGlobal, 0x1000, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got := make([]byte, len(want))
	if err := d.Read(ctx, host.MemGlobal, 0x1000, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Read() = % x, want % x", got, want)
	}
}

func TestTargetCommandEcho(t *testing.T) {
	d := attachAYS(t, false)
	open(t, d)

	resp := make([]byte, 16)
	n, err := d.TargetCommand(context.Background(), []byte{9, 8, 7, 6}, resp)
	if err != nil {
		t.Fatalf("TargetCommand() error = %v", err)
	}
	if n != 4 || resp[0] != 9 || resp[3] != 6 {
		t.Errorf("response = % x", resp[:n])
	}
}

func TestComChannelCmdRejected(t *testing.T) {
	d := attachAYS(t, false)
	open(t, d)

	// A request without the service magic is answered with a failure status.
	resp := make([]byte, 44)
	n, err := d.ComChannelCmd(context.Background(), make([]byte, 40), resp)
	if err != nil {
		t.Fatalf("ComChannelCmd() error = %v", err)
	}
	if n != 44 {
		t.Errorf("response length = %d, want 44", n)
	}
	if status := binary.LittleEndian.Uint32(resp[32:]); status != 0xFFFFFFFF {
		t.Errorf("status = %#x, want 0xffffffff", status)
	}
}

func TestNovramGetAYS(t *testing.T) {
	d := attachAYS(t, false)
	open(t, d)

	v, err := d.NovramGet(context.Background(), ays.NovramSerial)
	if err != nil {
		t.Fatalf("NovramGet() error = %v", err)
	}
	if want := sim.DefaultAYSNovram()[ays.NovramSerial]; v != want {
		t.Errorf("NovramGet() = %#x, want %#x", v, want)
	}
}

// =============================================================================
// Information Tests
// =============================================================================

func TestMemSize(t *testing.T) {
	tests := []struct {
		mem  host.MemType
		want uint32
		err  error
	}{
		{host.MemGlobal, ays.GlobalMemorySize, nil},
		{host.MemGlobalDirect, ays.GlobalMemorySize, nil},
		{host.MemIO, ays.IOMemorySize, nil},
		{host.MemShared, 0, nil},
		{host.MemLocal, 0, pkg.ErrInvalidParameter},
		{host.MemType(42), 0, pkg.ErrInvalidParameter},
	}

	d := attachAYS(t, false)
	open(t, d)
	for _, tt := range tests {
		got, err := d.MemSize(tt.mem)
		if !errors.Is(err, tt.err) {
			t.Errorf("MemSize(%v) error = %v, want %v", tt.mem, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("MemSize(%v) = %#x, want %#x", tt.mem, got, tt.want)
		}
	}
}

func TestMemSizeAPUShared(t *testing.T) {
	d := attachAPU(t)
	open(t, d)

	got, err := d.MemSize(host.MemShared)
	if err != nil {
		t.Fatalf("MemSize() error = %v", err)
	}
	if got != apu.SharedMemorySize {
		t.Errorf("MemSize(shared) = %#x, want %#x", got, apu.SharedMemorySize)
	}
}

func TestBoardInfo(t *testing.T) {
	d := attachAYS(t, true)
	ctx := context.Background()

	if got := d.BoardInfo().OpenConnections; got != 0 {
		t.Errorf("OpenConnections before Open = %d", got)
	}
	open(t, d)
	if err := d.Open(ctx); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer d.Close(ctx)

	info := d.BoardInfo()
	if info.OpenConnections != 2 {
		t.Errorf("OpenConnections = %d, want 2", info.OpenConnections)
	}
	if info.Platform != host.PlatformAYSGen2 || !info.HasASP {
		t.Errorf("BoardInfo() = %+v", info)
	}
	if info.Serial != sim.DefaultAYSNovram()[ays.NovramSerial] {
		t.Errorf("Serial = %#x", info.Serial)
	}
	if info.DriverFlags()&host.DriverFlagASP == 0 {
		t.Error("ASP driver flag not set")
	}
}

func TestVersion(t *testing.T) {
	d := attachAYS(t, false)
	v := d.Version()
	if v != DriverVersion {
		t.Errorf("Version() = %+v", v)
	}
	if v.Full == "" {
		t.Error("empty version string")
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestConcurrentOpenClose(t *testing.T) {
	var freed atomic.Int32
	d, err := Attach(context.Background(), sim.NewAYS(sim.AYSOptions{}), Options{
		AYS:    ays.Options{Timeout: time.Second, TransferSize: ays.LegacyTransferSize},
		OnFree: func() { freed.Add(1) },
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				if err := d.Open(ctx); err != nil {
					return err
				}
				if err := d.Read(ctx, host.MemIO, 0, make([]byte, 8)); err != nil {
					d.Close(ctx)
					return err
				}
				if err := d.Close(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker error = %v", err)
	}
	if n := d.Interface().ActiveUsers(); n != 0 {
		t.Errorf("ActiveUsers() = %d, want 0", n)
	}

	d.Detach()
	if freed.Load() != 1 {
		t.Errorf("interface freed %d times, want 1", freed.Load())
	}
	if err := d.Open(context.Background()); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Open() after Detach error = %v, want ErrNoDevice", err)
	}
}
