// Package libusb provides a transport on top of libusb through
// github.com/google/gousb.
//
// It is the portable alternative to the usbfs transport and needs cgo and
// the libusb-1.0 development files. A Context enumerates matching boards,
// claims one interface on each and returns Transports sharing the libusb
// context; the context is released with the last of them.
//
//	ctx := libusb.NewContext()
//	defer ctx.Close()
//	transports, err := ctx.Open(func(vid, pid uint16) bool {
//		_, ok := platform.Lookup(vid, pid)
//		return ok
//	}, 0)
package libusb
