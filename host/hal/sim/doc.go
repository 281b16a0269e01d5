// Package sim provides in-memory board simulators that implement
// hal.Transport.
//
// APU models the USB-to-PCI bridge of APU carriers: bridge configuration
// registers, PCI configuration space with two sizable BARs, the bridge DMA
// engine behind the FIFO endpoints, the board I/O registers (reset, TCP
// port, interrupt event and mask) and the TCP-attached NOVRAM.
//
// AYS models the header-framed command protocol of ASP boards: memory
// read and write, target commands, length negotiation, host-IO and the
// ESMART NOVRAM service.
//
// Both simulators answer commands synchronously: every OUT transfer that
// expects a reply queues it on the matching IN endpoint, and IN transfers
// with nothing queued block until their context is done.
package sim
