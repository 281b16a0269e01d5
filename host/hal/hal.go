package hal

import (
	"context"
	"unicode/utf16"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// SetupPacket represents a USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// Standard request and descriptor codes used by transports.
const (
	RequestGetDescriptor    = 0x06
	RequestTypeDeviceToHost = 0x80

	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05

	// LangIDEnglishUS is the language id requested for string descriptors.
	LangIDEnglishUS = 0x0409
)

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// StringDescriptorRequest returns the GET_DESCRIPTOR setup packet for
// string descriptor index.
func StringDescriptorRequest(index uint8, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestTypeDeviceToHost,
		Request:     RequestGetDescriptor,
		Value:       uint16(DescriptorTypeString)<<8 | uint16(index),
		Index:       LangIDEnglishUS,
		Length:      length,
	}
}

// DecodeStringDescriptor converts a raw UTF-16LE string descriptor into a
// Go string. Returns false if the descriptor header is malformed.
func DecodeStringDescriptor(data []byte) (string, bool) {
	if len(data) < 2 || data[1] != DescriptorTypeString {
		return "", false
	}
	n := int(data[0])
	if n > len(data) {
		n = len(data)
	}
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return string(utf16.Decode(units)), true
}

// TransferType indicates the type of USB transfer.
type TransferType uint8

// Transfer type constants.
const (
	TransferControl     TransferType = 0 // Control transfer
	TransferIsochronous TransferType = 1 // Isochronous transfer
	TransferBulk        TransferType = 2 // Bulk transfer
	TransferInterrupt   TransferType = 3 // Interrupt transfer
)

// String returns the transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	default:
		return "interrupt"
	}
}

// EndpointDescriptor describes one endpoint of the claimed interface.
type EndpointDescriptor struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// EndpointDirIn is the direction bit of an IN endpoint address.
const EndpointDirIn = 0x80

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointDescriptor) IsIn() bool {
	return e.Address&EndpointDirIn != 0
}

// TransferType returns the transfer type.
func (e *EndpointDescriptor) TransferType() TransferType {
	return TransferType(e.Attributes & 0x03)
}

// Is reports whether the endpoint has the given number, direction and
// transfer type.
func (e *EndpointDescriptor) Is(number uint8, in bool, typ TransferType) bool {
	return e.Number() == number && e.IsIn() == in && e.TransferType() == typ
}

// FindEndpoint returns the first endpoint matching number, direction and
// transfer type.
func FindEndpoint(eps []EndpointDescriptor, number uint8, in bool, typ TransferType) (EndpointDescriptor, bool) {
	for _, ep := range eps {
		if ep.Is(number, in, typ) {
			return ep, true
		}
	}
	return EndpointDescriptor{}, false
}

// ParseEndpoints walks a raw configuration descriptor and returns the
// endpoints of interface iface, alternate setting 0.
func ParseEndpoints(config []byte, iface uint8) []EndpointDescriptor {
	var eps []EndpointDescriptor
	inIface := false
	for i := 0; i+2 <= len(config); {
		n := int(config[i])
		if n < 2 || i+n > len(config) {
			break
		}
		desc := config[i : i+n]
		switch desc[1] {
		case DescriptorTypeInterface:
			inIface = n >= 4 && desc[2] == iface && desc[3] == 0
		case DescriptorTypeEndpoint:
			if inIface && n >= 7 {
				eps = append(eps, EndpointDescriptor{
					Address:       desc[2],
					Attributes:    desc[3],
					MaxPacketSize: uint16(desc[4]) | uint16(desc[5])<<8,
					Interval:      desc[6],
				})
			}
		}
		i += n
	}
	return eps
}

// DeviceInfo identifies the USB device behind a transport.
type DeviceInfo struct {
	VendorID  uint16
	ProductID uint16
	Bus       uint8
	Address   uint8
	Speed     Speed
}

// Transport is an opened USB device interface.
//
// The driver core consumes a Transport that already owns a claimed
// interface; enumeration and claiming happen in the implementation.
// BulkTransfer and InterruptTransfer must be safe for concurrent use on
// different endpoints.
type Transport interface {
	// Info returns the identity of the underlying device.
	Info() DeviceInfo

	// Endpoints returns the endpoint descriptors of the claimed interface.
	Endpoints() []EndpointDescriptor

	// BulkTransfer performs one bulk transfer on endpoint (address
	// including the direction bit). For OUT endpoints data is sent; for IN
	// endpoints data is filled. A zero-length OUT transfer sends a
	// zero-length packet. Returns the number of bytes transferred.
	BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error)

	// InterruptTransfer performs one interrupt IN transfer and returns the
	// number of bytes received.
	InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error)

	// StringDescriptor reads string descriptor index in US English.
	StringDescriptor(ctx context.Context, index uint8) (string, error)

	// Close releases the interface and the device handle.
	Close() error
}
