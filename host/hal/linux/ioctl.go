//go:build linux

package linux

import "unsafe"

// ioctl number encoding used by x86, arm and riscv:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }
func ioctlNone(typ, nr uintptr) uintptr { return ioc(iocNone, typ, nr, 0) }

// usbdevfs ioctl type character.
const usbdevfsType = 'U'

// usbdevfs ioctl command numbers.
const (
	ioctlControl          = 0
	ioctlBulk             = 2
	ioctlResetEP          = 3
	ioctlSubmitURB        = 10
	ioctlDiscardURB       = 11
	ioctlReapURBNDelay    = 13
	ioctlClaimInterface   = 15
	ioctlReleaseInterface = 16
	ioctlReset            = 20
	ioctlClearHalt        = 21
	ioctlDisconnectClaim  = 27
)

var (
	sizeofInt     = unsafe.Sizeof(uint32(0))
	sizeofPointer = unsafe.Sizeof(uintptr(0))
)

var (
	ioctlUsbdevfsControl          = iowr(usbdevfsType, ioctlControl, unsafe.Sizeof(ctrlTransfer{}))
	ioctlUsbdevfsBulk             = iowr(usbdevfsType, ioctlBulk, unsafe.Sizeof(bulkTransfer{}))
	ioctlUsbdevfsResetEP          = ior(usbdevfsType, ioctlResetEP, sizeofInt)
	ioctlUsbdevfsSubmitURB        = ior(usbdevfsType, ioctlSubmitURB, unsafe.Sizeof(urb{}))
	ioctlUsbdevfsDiscardURB       = ioctlNone(usbdevfsType, ioctlDiscardURB)
	ioctlUsbdevfsReapURBNDelay    = iow(usbdevfsType, ioctlReapURBNDelay, sizeofPointer)
	ioctlUsbdevfsClaimInterface   = ior(usbdevfsType, ioctlClaimInterface, sizeofInt)
	ioctlUsbdevfsReleaseInterface = ior(usbdevfsType, ioctlReleaseInterface, sizeofInt)
	ioctlUsbdevfsReset            = ioctlNone(usbdevfsType, ioctlReset)
	ioctlUsbdevfsClearHalt        = ior(usbdevfsType, ioctlClearHalt, sizeofInt)
	ioctlUsbdevfsDisconnectClaim  = ior(usbdevfsType, ioctlDisconnectClaim, unsafe.Sizeof(disconnectClaim{}))
)
