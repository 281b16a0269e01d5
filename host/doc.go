// Package host implements the transport-independent core of the aimusb
// driver: command channels, the interface lifecycle and the interrupt
// dispatcher.
//
// It sits on top of a [hal.Transport] from the
// github.com/aimusb/aimusb/host/hal package and below the platform
// backends (APU bridge boards, AYS ASP boards) that drive the hardware.
//
// # Architecture
//
//   - Interface owns one attached board: its transport, up to three
//     channels, an optional interrupt endpoint, memory spaces and the
//     reference count that decides when everything is released
//   - Channel pairs a bulk OUT and bulk IN endpoint behind one lock and
//     terminates sends with a zero-length packet where the device needs it
//   - InterruptEndpoint keeps one interrupt transfer outstanding and hands
//     payloads to a non-blocking handler
//   - Backend is implemented per platform and is started on the first open
//     and stopped on the last close
//
// # Locking
//
// Each Channel has its own mutex, so distinct channels never contend. The
// interface I/O mutex serializes open, close and whole caller operations
// (see [Interface.Exclusive]). Interrupt handlers never take it.
//
// # Example
//
//	intf, err := host.NewInterface(host.Config{
//	    Transport: t,
//	    Platform:  host.PlatformAYS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer intf.Detach()
//
//	if err := intf.Open(ctx); err != nil {
//	    return err
//	}
//	defer intf.Close(ctx)
package host
