package ays

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/aimusb/aimusb/pkg"
)

// ESMART is the service protocol of the board software, carried in
// host-IO calls.
const (
	esmartMagic      = 0x45534D54
	esmartHeaderSize = 32

	esmartNovramGet = 8

	esmartNovramGetRequestSize = esmartHeaderSize + 8
	esmartOK                   = 0
)

// esmartNovramGetResponseSize is the response size for n NOVRAM words:
// header, status, entry count and the entries.
func esmartNovramGetResponseSize(n int) int {
	return esmartHeaderSize + 8 + 4*n
}

// NovramGet reads the NOVRAM word at addr through the ESMART service.
func (b *Backend) NovramGet(ctx context.Context, addr uint32) (uint32, error) {
	le := binary.LittleEndian
	req := make([]byte, esmartNovramGetRequestSize)
	le.PutUint32(req[0:], esmartMagic)
	le.PutUint32(req[4:], esmartNovramGet)
	le.PutUint32(req[8:], esmartNovramGetRequestSize)
	le.PutUint32(req[esmartHeaderSize:], addr)
	le.PutUint32(req[esmartHeaderSize+4:], 1)

	resp := make([]byte, esmartNovramGetResponseSize(1))
	n, err := b.ComChannelCmd(ctx, req, resp)
	if err != nil {
		return 0, err
	}
	if n < len(resp) {
		return 0, fmt.Errorf("%w: ESMART response of %d bytes", pkg.ErrIO, n)
	}
	magic := le.Uint32(resp[0:])
	status := int32(le.Uint32(resp[esmartHeaderSize:]))
	if magic != esmartMagic || status != esmartOK {
		return 0, fmt.Errorf("%w: ESMART NOVRAM get %#x: magic %#08x status %d", pkg.ErrIO, addr, magic, status)
	}
	return le.Uint32(resp[esmartHeaderSize+8:]), nil
}
