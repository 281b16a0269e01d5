package linux

import "time"

// =============================================================================
// System Paths
// =============================================================================

// SysfsUSBPath is the base path for USB devices in sysfs.
const SysfsUSBPath = "/sys/bus/usb/devices"

// DevfsUSBPath is the base path for USB device nodes.
const DevfsUSBPath = "/dev/bus/usb"

// DevfsPathMaxLen is the maximum length of a devfs path.
const DevfsPathMaxLen = 64

// =============================================================================
// Transfer Configuration
// =============================================================================

// MaxDescriptorSize bounds the descriptor blob read from a usbfs node.
const MaxDescriptorSize = 4096

// MaxStringDescriptorSize is the largest string descriptor requested.
const MaxStringDescriptorSize = 255

// DefaultControlTimeout applies to control transfers whose context has no
// deadline.
const DefaultControlTimeout = time.Second

// reapInterval bounds how long the reaper sleeps in poll before it checks
// for shutdown.
const reapInterval = 50 * time.Millisecond

// =============================================================================
// URB Constants
// =============================================================================

// URB transfer types for USBDEVFS_SUBMITURB.
const (
	URBTypeISO       = 0 // Isochronous
	URBTypeInterrupt = 1 // Interrupt
	URBTypeControl   = 2 // Control
	URBTypeBulk      = 3 // Bulk
)

// URB flags.
const (
	URBShortNotOK = 0x01 // Short read is an error
	URBZeroPacket = 0x40 // Send zero-length packet at end
)

// =============================================================================
// Netlink Constants
// =============================================================================

// NetlinkKObjectUEvent is the netlink protocol for udev events.
const NetlinkKObjectUEvent = 15 // NETLINK_KOBJECT_UEVENT

// ueventKernelGroup is the multicast group of kernel uevents.
const ueventKernelGroup = 1

// UEventBufferSize is the buffer size for netlink messages.
const UEventBufferSize = 4096
