// Package platform attaches boards and routes caller operations to the
// backend of their hardware family.
//
// Attach looks the transport up in the device table, creates the
// interface and installs the APU or AYS backend. The returned Device is
// the surface the bus-protocol engine uses: open and close, memory
// reads and writes, NOVRAM and TCP register access, target and host-IO
// commands and board information. Operations a platform does not have
// fail with pkg.ErrNotSupported.
package platform
