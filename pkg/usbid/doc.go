// Package usbid resolves USB vendor and product ids to names.
//
// Names are read from the usb.ids database shipped with most Linux
// distributions and can be extended with entries the database lacks:
//
//	names := usbid.New()
//	names.Load(usbid.DefaultPaths...)
//	names.AddProduct(0x1633, 0x4510, "ASC1553")
//	fmt.Println(names.Describe(0x1633, 0x4510))
//
// Lookups are safe for concurrent use.
package usbid
