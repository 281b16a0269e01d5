// Package hal defines the USB transport used by the aimusb driver core.
//
// A [Transport] is an opened device interface: it exposes the endpoint
// descriptors of the claimed interface, synchronous bulk and interrupt
// transfers, and string descriptor reads. Everything above it (channels,
// bridge framing, board bring-up) is transport independent.
//
// # Implementations
//
//   - [github.com/aimusb/aimusb/host/hal/linux]: Linux usbfs through ioctls
//   - [github.com/aimusb/aimusb/host/hal/libusb]: libusb through gousb (cgo)
//   - [github.com/aimusb/aimusb/host/hal/sim]: in-memory board simulators
//     used by tests and examples
//
// # Descriptor Helpers
//
// [ParseEndpoints] walks a raw configuration descriptor and
// [DecodeStringDescriptor] converts a UTF-16LE string descriptor, so
// transports that read raw descriptors share one decoder.
package hal
