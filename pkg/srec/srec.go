// Package srec decodes Motorola S-record firmware images into a flat
// binary buffer.
//
// Only data records (S1, S2, S3) contribute bytes. The address of the first
// data record becomes the image origin; later records must not move below
// the current write cursor, and forward gaps are zero-filled. Header and
// count records (S0, S5, S6) are skipped and termination records (S7, S8,
// S9) only carry the execution address.
package srec

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aimusb/aimusb/pkg"
)

// maxRecordBytes bounds the byte count field of a single record.
const maxRecordBytes = 0xFF

// DefaultLimit bounds the decoded image size when Decode is given no
// limit. Gaps are zero-filled, so the limit also bounds allocation.
const DefaultLimit = 64 << 20

// Image is a decoded firmware image.
type Image struct {
	Origin uint32 // Address of the first data record
	Entry  uint32 // Execution address from the termination record
	Data   []byte // Contiguous image bytes starting at Origin
}

// addressLen returns the address field width of a record type, or 0 for
// types that are not defined.
func addressLen(typ byte) int {
	switch typ {
	case '0', '1', '5', '9':
		return 2
	case '2', '6', '8':
		return 3
	case '3', '7':
		return 4
	default:
		return 0
	}
}

// Decode reads an S-record stream from r. limit bounds the decoded image
// size including zero-filled gaps; zero or less selects DefaultLimit.
func Decode(r io.Reader, limit int) (*Image, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	img := &Image{}
	started := false
	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++
		text := bytes.Join(bytes.Fields(scanner.Bytes()), nil)
		if len(text) == 0 {
			continue
		}
		if text[0] != 'S' || len(text) < 4 {
			return nil, fmt.Errorf("%w: line %d: not an S-record", pkg.ErrFirmwareInvalid, line)
		}
		typ := text[1]
		alen := addressLen(typ)
		if alen == 0 {
			return nil, fmt.Errorf("%w: line %d: undefined record type S%c", pkg.ErrFirmwareInvalid, line, typ)
		}

		raw := make([]byte, hex.DecodedLen(len(text)-2))
		if _, err := hex.Decode(raw, text[2:]); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", pkg.ErrFirmwareInvalid, line, err)
		}
		count := int(raw[0])
		if count > maxRecordBytes || len(raw) != count+1 || count < alen+1 {
			return nil, fmt.Errorf("%w: line %d: byte count %d does not match record", pkg.ErrFirmwareInvalid, line, count)
		}
		var sum byte
		for _, b := range raw {
			sum += b
		}
		if sum != 0xFF {
			return nil, fmt.Errorf("%w: line %d: checksum mismatch", pkg.ErrFirmwareInvalid, line)
		}

		var addr uint32
		for _, b := range raw[1 : 1+alen] {
			addr = addr<<8 | uint32(b)
		}
		data := raw[1+alen : len(raw)-1]

		switch typ {
		case '1', '2', '3':
			if !started {
				img.Origin = addr
				started = true
			}
			cursor := img.Origin + uint32(len(img.Data))
			if addr < cursor {
				return nil, fmt.Errorf("%w: line %d: address %#x below cursor %#x", pkg.ErrFirmwareInvalid, line, addr, cursor)
			}
			end := int64(addr-img.Origin) + int64(len(data))
			if end > int64(limit) {
				return nil, fmt.Errorf("%w: image exceeds %d bytes", pkg.ErrNoMemory, limit)
			}
			if gap := int(addr - cursor); gap > 0 {
				img.Data = append(img.Data, make([]byte, gap)...)
			}
			img.Data = append(img.Data, data...)
		case '7', '8', '9':
			img.Entry = addr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrFirmwareInvalid, err)
	}
	return img, nil
}
