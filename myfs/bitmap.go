package myfs

import "fmt"

type BitOutOfRange struct {
	Bit, Len uint32
}

func (b BitOutOfRange) Error() string {
	return fmt.Sprintf("bit %d out of range, bitmap has %d bits", b.Bit, b.Len)
}

// Bitmap packs one bit per block, least-significant bit first.
// A set bit means the block is in use.
type Bitmap []byte

func (b Bitmap) Len() uint32 { return uint32(len(b)) * 8 }

// FirstClear returns the lowest clear bit, scanning bytes in order and
// bits from least to most significant.
func (b Bitmap) FirstClear() (uint32, bool) {
	for i, byt := range b {
		if byt == 0xff {
			continue
		}
		for bit := uint32(0); bit < 8; bit++ {
			if byt&(1<<bit) == 0 {
				return uint32(i)*8 + bit, true
			}
		}
	}
	return 0, false
}

func (b Bitmap) Set(position uint32) error {
	if position >= b.Len() {
		return BitOutOfRange{position, b.Len()}
	}
	b[position/8] |= 1 << (position % 8)
	return nil
}

func (b Bitmap) Clear(position uint32) error {
	if position >= b.Len() {
		return BitOutOfRange{position, b.Len()}
	}
	b[position/8] &^= 1 << (position % 8)
	return nil
}

func (b Bitmap) IsSet(position uint32) (bool, error) {
	if position >= b.Len() {
		return false, BitOutOfRange{position, b.Len()}
	}
	return b[position/8]&(1<<(position%8)) != 0, nil
}
