package sim

import "encoding/binary"

// NovramSize is the size of the APU NOVRAM in bytes.
const NovramSize = 512

// NOVRAM layout shared with the driver.
const (
	NovramMagic       = 0x4c616d70
	NovramMagicOffset = 0x000
	NovramMagic2      = 0x1f8
	NovramChecksum    = 0x1fc
	NovramSerial      = 0x00c
	NovramBoardConfig = 0x028
	NovramPartNo      = 0x048
	NovramBoardType   = 0x02c
	NovramClock       = 0x050
	NovramFirmware    = 0x070
	NovramSubType     = 0x0c8
	NovramHwVariant   = 0x0cc
)

// Novram is a byte image of the APU NOVRAM. Words are little-endian.
type Novram [NovramSize]byte

// DefaultNovram returns a sealed image describing a single-stream APU
// board whose firmware file is BIP_1553.sre.
func DefaultNovram() *Novram {
	var n Novram
	n.SetWord(NovramSerial, 0x00C0FFEE)
	n.SetWord(NovramBoardConfig, 0x00000011)
	n.SetWord(NovramBoardType, 0x00000021)
	n.SetWord(NovramClock, 0x02FAF080)
	n.SetWord(NovramPartNo, 0x00012345)
	n.SetWord(NovramFirmware, 0x1553)
	n.SetWord(NovramSubType, 0x00000002)
	n.SetWord(NovramHwVariant, 0x00000003)
	n.Seal()
	return &n
}

// Word returns the word at byte offset off.
func (n *Novram) Word(off int) uint32 {
	return binary.LittleEndian.Uint32(n[off:])
}

// SetWord stores v at byte offset off.
func (n *Novram) SetWord(off int, v uint32) {
	binary.LittleEndian.PutUint32(n[off:], v)
}

// Sum returns the checksum over words 0 through 126.
func (n *Novram) Sum() uint32 {
	var sum uint32
	for off := 0; off < NovramChecksum; off += 4 {
		sum += n.Word(off)
	}
	return sum
}

// Seal writes both magic words and the checksum.
func (n *Novram) Seal() {
	n.SetWord(NovramMagicOffset, NovramMagic)
	n.SetWord(NovramMagic2, NovramMagic)
	n.SetWord(NovramChecksum, n.Sum())
}
