package platform

import "github.com/aimusb/aimusb/host"

// VendorAIM is the USB vendor id of all supported boards.
const VendorAIM = 0x1633

// DeviceEntry maps a USB product to its board family.
type DeviceEntry struct {
	VendorID  uint16
	ProductID uint16
	Name      string
	Platform  host.Platform
	Protocol  host.Protocol
}

// Devices lists the boards recognized by Lookup.
var Devices = []DeviceEntry{
	{VendorAIM, 0x4510, "ASC1553", host.PlatformAYS, host.Protocol1553},
	{VendorAIM, 0x5710, "ASC1553-Gen2", host.PlatformAYSGen2, host.Protocol1553},
}

// APU describes boards on the APU carrier. Their product id is assigned
// per carrier, so they are attached with Options.Entry rather than found
// by Lookup.
var APU = DeviceEntry{
	VendorID: VendorAIM,
	Name:     "APU1553",
	Platform: host.PlatformAPU,
	Protocol: host.Protocol1553,
}

// Lookup returns the table entry for a vendor and product id.
func Lookup(vid, pid uint16) (DeviceEntry, bool) {
	for _, d := range Devices {
		if d.VendorID == vid && d.ProductID == pid {
			return d, true
		}
	}
	return DeviceEntry{}, false
}
