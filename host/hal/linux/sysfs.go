package linux

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aimusb/aimusb/host/hal"
)

// =============================================================================
// USB Device Information
// =============================================================================

// Device is a USB device discovered in sysfs.
type Device struct {
	hal.DeviceInfo

	SysfsPath string // Path in /sys/bus/usb/devices
	DevfsPath string // Path in /dev/bus/usb
	Class     uint8  // bDeviceClass
	Product   string // Product string, if the kernel cached one
	Serial    string // Serial number string, if any
}

// MatchFunc selects devices by vendor and product id.
type MatchFunc func(vid, pid uint16) bool

// =============================================================================
// Sysfs Parsing
// =============================================================================

// Scan returns the USB devices accepted by match. A nil match accepts
// every device.
func Scan(match MatchFunc) ([]Device, error) {
	return scanDevices(SysfsUSBPath, match)
}

func scanDevices(root string, match MatchFunc) ([]Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, entry := range entries {
		name := entry.Name()

		// Devices are named "1-1", "1-1.2"; root hubs "usb1" and
		// interfaces "1-1:1.0" are skipped.
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		dev, err := parseDevice(filepath.Join(root, name))
		if err != nil {
			continue
		}
		if match != nil && !match(dev.VendorID, dev.ProductID) {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// parseDevice reads device information from one sysfs device directory.
func parseDevice(sysfsPath string) (Device, error) {
	dev := Device{SysfsPath: sysfsPath}

	bus, err := readSysfsUint8(filepath.Join(sysfsPath, "busnum"))
	if err != nil {
		return dev, err
	}
	addr, err := readSysfsUint8(filepath.Join(sysfsPath, "devnum"))
	if err != nil {
		return dev, err
	}
	dev.Bus, dev.Address = bus, addr
	dev.DevfsPath = formatDevfsPath(bus, addr)

	if v, err := readSysfsHexUint16(filepath.Join(sysfsPath, "idVendor")); err == nil {
		dev.VendorID = v
	}
	if v, err := readSysfsHexUint16(filepath.Join(sysfsPath, "idProduct")); err == nil {
		dev.ProductID = v
	}
	if v, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bDeviceClass")); err == nil {
		dev.Class = v
	}
	if s, err := readSysfsString(filepath.Join(sysfsPath, "speed")); err == nil {
		dev.Speed = parseSpeed(s)
	}
	dev.Product, _ = readSysfsString(filepath.Join(sysfsPath, "product"))
	dev.Serial, _ = readSysfsString(filepath.Join(sysfsPath, "serial"))
	return dev, nil
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsUint8(path string) (uint8, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bitSize)
}

func readSysfsHexUint8(path string) (uint8, error) {
	v, err := readSysfsHex(path, 8)
	return uint8(v), err
}

func readSysfsHexUint16(path string) (uint16, error) {
	v, err := readSysfsHex(path, 16)
	return uint16(v), err
}

// =============================================================================
// Path Helpers
// =============================================================================

// formatDevfsPath constructs a /dev/bus/usb path from bus and device numbers.
func formatDevfsPath(busNum, devNum uint8) string {
	// Path format: /dev/bus/usb/BBB/DDD where BBB and DDD are zero-padded
	var buf [DevfsPathMaxLen]byte
	n := copy(buf[:], DevfsUSBPath)
	buf[n] = '/'
	n++
	n += formatPadded(buf[n:], busNum, 3)
	buf[n] = '/'
	n++
	n += formatPadded(buf[n:], devNum, 3)
	return string(buf[:n])
}

// formatPadded formats a number with zero-padding to a fixed width.
func formatPadded(buf []byte, val uint8, width int) int {
	s := strconv.FormatUint(uint64(val), 10)
	padding := width - len(s)
	for i := 0; i < padding && i < len(buf); i++ {
		buf[i] = '0'
	}
	copy(buf[padding:], s)
	return width
}

// parseSpeed converts a sysfs speed string to a hal.Speed value.
func parseSpeed(s string) hal.Speed {
	switch s {
	case "1.5":
		return hal.SpeedLow
	case "12":
		return hal.SpeedFull
	case "480":
		return hal.SpeedHigh
	default:
		return hal.SpeedUnknown
	}
}
