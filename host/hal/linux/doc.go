// Package linux provides a usbfs transport for boards attached to a Linux
// host.
//
// Devices are discovered through sysfs (/sys/bus/usb/devices) and opened
// through their usbfs node (/dev/bus/usb/BBB/DDD). Open claims one
// interface, disconnecting any kernel driver bound to it, and returns a
// Transport ready to be handed to the driver core. No cgo is involved.
//
// # Requirements
//
// The process needs read/write access to the usbfs device nodes, either
// by running as root or through a udev rule such as
//
//	SUBSYSTEM=="usb", ATTR{idVendor}=="1633", MODE="0666"
//
// # Architecture
//
// Bulk and interrupt transfers are asynchronous URBs:
//   - URBs are submitted with USBDEVFS_SUBMITURB
//   - A reaper goroutine polls the device node for completions
//   - Completed URBs are collected with USBDEVFS_REAPURBNDELAY
//
// A cancelled context discards the outstanding URB, so a transfer never
// outlives its caller. Control transfers for string descriptors are
// synchronous.
//
// Monitor reports USB device arrival and removal from the kernel uevent
// netlink socket.
package linux
