// Package apu brings up boards built on the APU carrier, where a
// USB-to-PCI bridge connects the host to a PCI board.
//
// Start takes the board from power-on to operational: PCI BAR setup, TCP
// boot, NOVRAM validation, firmware download and BIU start, the global
// memory mirror, bridge and board interrupts, board identity and the
// host-side shared memory. Stop undoes whatever part of that completed.
//
// At runtime the backend serves memory reads and writes, TCP register
// and NOVRAM access, and interrupt processing. Bridge interrupts are
// decoded on the interrupt endpoint and handed to a worker goroutine,
// which acknowledges them, calls the BIU hook and drains the interrupt
// loglist into the interface notifier.
package apu
