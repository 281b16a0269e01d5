//go:build linux

package linux

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aimusb/aimusb/pkg"
)

// =============================================================================
// UEvent Types
// =============================================================================

// Action is the kind of a hotplug event.
type Action uint8

// Hotplug actions.
const (
	ActionUnknown Action = iota
	ActionAdd
	ActionRemove
	ActionChange
	ActionBind
	ActionUnbind
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionChange:
		return "change"
	case ActionBind:
		return "bind"
	case ActionUnbind:
		return "unbind"
	default:
		return "unknown"
	}
}

func parseAction(s string) Action {
	switch s {
	case "add":
		return ActionAdd
	case "remove":
		return ActionRemove
	case "change":
		return ActionChange
	case "bind":
		return ActionBind
	case "unbind":
		return ActionUnbind
	default:
		return ActionUnknown
	}
}

// uevent is a parsed netlink uevent.
type uevent struct {
	action    Action
	devpath   string // DEVPATH
	subsystem string // SUBSYSTEM
	devtype   string // DEVTYPE
	busnum    string // BUSNUM
	devnum    string // DEVNUM
	product   string // PRODUCT, "vid/pid/bcd" in hex
}

// Event reports the arrival or removal of a USB device.
type Event struct {
	Action Action
	Device Device
}

// =============================================================================
// Monitor
// =============================================================================

// Monitor receives USB device hotplug events from the kernel.
type Monitor struct {
	fd    int
	root  string
	match MatchFunc
	buf   [UEventBufferSize]byte
}

// NewMonitor subscribes to kernel uevents. Only add and remove events of
// devices accepted by match are reported; a nil match accepts all.
func NewMonitor(match MatchFunc) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, NetlinkKObjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: ueventKernelGroup}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Monitor{fd: fd, root: SysfsUSBPath, match: match}, nil
}

// Next blocks until the next matching event or until ctx is done.
func (m *Monitor) Next(ctx context.Context) (Event, error) {
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
	timeout := int(reapInterval / time.Millisecond)
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return Event{}, err
		}
		if n == 0 {
			continue
		}
		for {
			n, err := unix.Read(m.fd, m.buf[:])
			if isAgain(err) {
				break
			}
			if err != nil {
				return Event{}, err
			}
			if ev, ok := m.event(parseUEvent(m.buf[:n])); ok {
				pkg.LogDebug(pkg.ComponentHAL, "hotplug event", "action", ev.Action, "path", ev.Device.DevfsPath)
				return ev, nil
			}
		}
	}
}

// event converts a uevent into an Event.
func (m *Monitor) event(evt uevent) (Event, bool) {
	if evt.subsystem != "usb" || evt.devtype != "usb_device" {
		return Event{}, false
	}
	if evt.action != ActionAdd && evt.action != ActionRemove {
		return Event{}, false
	}
	dev, ok := ueventDevice(evt)
	if !ok {
		return Event{}, false
	}
	if evt.action == ActionAdd {
		// sysfs carries the speed and strings the uevent lacks.
		if full, err := parseDevice(filepath.Join(m.root, filepath.Base(evt.devpath))); err == nil {
			dev = full
		}
	}
	if m.match != nil && !m.match(dev.VendorID, dev.ProductID) {
		return Event{}, false
	}
	return Event{Action: evt.action, Device: dev}, true
}

// Close closes the netlink socket.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// =============================================================================
// UEvent Parsing
// =============================================================================

// parseUEvent parses a netlink uevent message.
func parseUEvent(data []byte) uevent {
	var evt uevent
	for _, line := range bytes.Split(data, []byte{0}) {
		if len(line) == 0 {
			continue
		}
		s := string(line)

		key, value, found := strings.Cut(s, "=")
		if !found {
			// Header line: action@devpath
			if action, devpath, ok := strings.Cut(s, "@"); ok {
				evt.action = parseAction(action)
				evt.devpath = devpath
			}
			continue
		}

		switch key {
		case "ACTION":
			evt.action = parseAction(value)
		case "DEVPATH":
			evt.devpath = value
		case "SUBSYSTEM":
			evt.subsystem = value
		case "DEVTYPE":
			evt.devtype = value
		case "BUSNUM":
			evt.busnum = value
		case "DEVNUM":
			evt.devnum = value
		case "PRODUCT":
			evt.product = value
		}
	}
	return evt
}

// ueventDevice builds a Device from the fields of a uevent. Removal events
// cannot be resolved through sysfs, so the uevent is the only source.
func ueventDevice(evt uevent) (Device, bool) {
	bus, err := strconv.ParseUint(evt.busnum, 10, 8)
	if err != nil {
		return Device{}, false
	}
	addr, err := strconv.ParseUint(evt.devnum, 10, 8)
	if err != nil {
		return Device{}, false
	}
	var dev Device
	dev.Bus, dev.Address = uint8(bus), uint8(addr)
	dev.DevfsPath = formatDevfsPath(dev.Bus, dev.Address)
	dev.SysfsPath = filepath.Join(SysfsUSBPath, filepath.Base(evt.devpath))

	parts := strings.Split(evt.product, "/")
	if len(parts) >= 2 {
		vid, errV := strconv.ParseUint(parts[0], 16, 16)
		pid, errP := strconv.ParseUint(parts[1], 16, 16)
		if errV == nil && errP == nil {
			dev.VendorID, dev.ProductID = uint16(vid), uint16(pid)
		}
	}
	return dev, true
}
