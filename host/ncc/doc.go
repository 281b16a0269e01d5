// Package ncc drives the USB-to-PCI bridge controller found on APU boards.
//
// The bridge exposes three bulk channels: a configuration channel for the
// bridge's own registers, a PCI channel for single 32-bit accesses on the
// board's PCI bus, and a FIFO channel that carries DMA payloads. [Controller]
// frames register and PCI commands; [DMA] programs the bridge DMA engine and
// streams the payload through the FIFO.
//
// Register and PCI commands are serialized by the controller lock and share
// one scratch buffer. FIFO payloads only take the FIFO channel's lock, so a
// long DMA transfer does not stall register traffic issued by the interrupt
// worker. Whole DMA sequences are serialized by the DMA lock.
package ncc
