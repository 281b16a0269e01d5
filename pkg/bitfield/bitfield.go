// Package bitfield provides named mask/shift accessors for register values.
//
// A Field describes a contiguous run of bits inside an unsigned register
// word. Register maps declare their layout once as package-level Fields and
// manipulate plain integers through them:
//
//	var tcpReady = bitfield.Bit[uint32](16)
//	if tcpReady.IsSet(v) { ... }
//	v = tcpCommand.Put(v, port)
package bitfield

import "golang.org/x/exp/constraints"

// Field is a contiguous bit range of width Width starting at bit Shift.
type Field[T constraints.Unsigned] struct {
	Shift uint
	Width uint
}

// Bit returns a single-bit field at position n.
func Bit[T constraints.Unsigned](n uint) Field[T] {
	return Field[T]{Shift: n, Width: 1}
}

// Bits returns the field spanning bits lo through hi inclusive.
func Bits[T constraints.Unsigned](lo, hi uint) Field[T] {
	return Field[T]{Shift: lo, Width: hi - lo + 1}
}

// Max returns the largest value the field can hold.
func (f Field[T]) Max() T {
	return ^T(0) >> (bitSize[T]() - f.Width)
}

// Mask returns the in-place mask of the field.
func (f Field[T]) Mask() T {
	return f.Max() << f.Shift
}

// Get extracts the field value from v.
func (f Field[T]) Get(v T) T {
	return (v >> f.Shift) & f.Max()
}

// Put returns v with the field replaced by x. Bits of x beyond the field
// width are discarded.
func (f Field[T]) Put(v, x T) T {
	return (v &^ f.Mask()) | ((x & f.Max()) << f.Shift)
}

// IsSet reports whether any bit of the field is set in v.
func (f Field[T]) IsSet(v T) bool {
	return v&f.Mask() != 0
}

// Set returns v with every bit of the field set.
func (f Field[T]) Set(v T) T {
	return v | f.Mask()
}

// Clear returns v with every bit of the field cleared.
func (f Field[T]) Clear(v T) T {
	return v &^ f.Mask()
}

// Update sets or clears the field depending on on.
func (f Field[T]) Update(v T, on bool) T {
	if on {
		return f.Set(v)
	}
	return f.Clear(v)
}

func bitSize[T constraints.Unsigned]() uint {
	var n uint
	for v := ^T(0); v != 0; v >>= 1 {
		n++
	}
	return n
}
