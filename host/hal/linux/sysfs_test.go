//go:build linux

package linux

import (
	"testing"

	"github.com/aimusb/aimusb/host/hal"
)

// =============================================================================
// Path Tests
// =============================================================================

func TestFormatPadded(t *testing.T) {
	tests := []struct {
		val      uint8
		width    int
		expected string
	}{
		{0, 3, "000"},
		{1, 3, "001"},
		{12, 3, "012"},
		{123, 3, "123"},
		{9, 1, "9"},
		{255, 3, "255"},
	}

	for _, tt := range tests {
		buf := make([]byte, 10)
		n := formatPadded(buf, tt.val, tt.width)
		if got := string(buf[:n]); got != tt.expected {
			t.Errorf("formatPadded(%d, %d) = %q, want %q", tt.val, tt.width, got, tt.expected)
		}
	}
}

func TestFormatDevfsPath(t *testing.T) {
	tests := []struct {
		busNum   uint8
		devNum   uint8
		expected string
	}{
		{1, 1, "/dev/bus/usb/001/001"},
		{1, 123, "/dev/bus/usb/001/123"},
		{12, 34, "/dev/bus/usb/012/034"},
		{255, 255, "/dev/bus/usb/255/255"},
	}

	for _, tt := range tests {
		if got := formatDevfsPath(tt.busNum, tt.devNum); got != tt.expected {
			t.Errorf("formatDevfsPath(%d, %d) = %q, want %q", tt.busNum, tt.devNum, got, tt.expected)
		}
	}
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		input    string
		expected hal.Speed
	}{
		{"1.5", hal.SpeedLow},
		{"12", hal.SpeedFull},
		{"480", hal.SpeedHigh},
		{"", hal.SpeedUnknown},
		{"5000", hal.SpeedUnknown},
	}

	for _, tt := range tests {
		if got := parseSpeed(tt.input); got != tt.expected {
			t.Errorf("parseSpeed(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestScanDevices(t *testing.T) {
	root := t.TempDir()
	writeSysfsDevice(t, root, "1-1", map[string]string{
		"busnum": "1", "devnum": "4", "idVendor": "1633", "idProduct": "4510",
		"bDeviceClass": "ff", "speed": "480", "serial": "0815",
	})
	writeSysfsDevice(t, root, "2-1.3", map[string]string{
		"busnum": "2", "devnum": "17", "idVendor": "046d", "idProduct": "c52b", "speed": "12",
	})
	// Root hub, interface and broken entries are skipped.
	writeSysfsDevice(t, root, "usb1", map[string]string{"busnum": "1", "devnum": "1"})
	writeSysfsDevice(t, root, "1-1:1.0", map[string]string{"bInterfaceNumber": "00"})
	writeSysfsDevice(t, root, "3-1", map[string]string{"devnum": "2"})

	all, err := scanDevices(root, nil)
	if err != nil {
		t.Fatalf("scanDevices() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("found %d devices, want 2: %+v", len(all), all)
	}

	boards, err := scanDevices(root, func(vid, pid uint16) bool { return vid == 0x1633 })
	if err != nil {
		t.Fatalf("scanDevices() error = %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("found %d boards, want 1", len(boards))
	}
	b := boards[0]
	want := hal.DeviceInfo{VendorID: 0x1633, ProductID: 0x4510, Bus: 1, Address: 4, Speed: hal.SpeedHigh}
	if b.DeviceInfo != want {
		t.Errorf("DeviceInfo = %+v, want %+v", b.DeviceInfo, want)
	}
	if b.DevfsPath != "/dev/bus/usb/001/004" || b.Class != 0xff || b.Serial != "0815" {
		t.Errorf("device = %+v", b)
	}
}

func TestScanDevicesMissingRoot(t *testing.T) {
	if _, err := scanDevices(t.TempDir()+"/missing", nil); err == nil {
		t.Error("scanDevices() on a missing root succeeded")
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkFormatDevfsPath(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = formatDevfsPath(uint8(i%256), uint8((i+1)%256))
	}
}
