package packet

// Bit packing for the fixed header is LSB-first within a little-endian byte
// stream: stream bit n lives at bit (n % 8) of byte (n / 8), and a field's
// least significant bit is written at the field's starting offset. Extended
// Field values are whole bytes and stay byte-aligned because the header and
// every record header are multiples of 8 bits.

// writeBits writes the low `width` bits of v into buf starting at bit offset
// off. The buffer must already be large enough.
func writeBits(buf []byte, off, width int, v uint64) {
	for i := 0; i < width; i++ {
		bit := off + i
		if v&(1<<uint(i)) != 0 {
			buf[bit/8] |= 1 << uint(bit%8)
		} else {
			buf[bit/8] &^= 1 << uint(bit%8)
		}
	}
}

// readBits reads `width` bits from buf starting at bit offset off, returning
// them as an integer with the first stream bit in the least significant
// position.
func readBits(buf []byte, off, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		bit := off + i
		if buf[bit/8]&(1<<uint(bit%8)) != 0 {
			v |= 1 << uint(i)
		}
	}
	return v
}

// writeByteField writes a whole byte slice at a byte-aligned bit offset.
func writeByteField(buf []byte, off int, b []byte) {
	copy(buf[off/8:], b)
}

// readByteField reads n whole bytes at a byte-aligned bit offset.
func readByteField(buf []byte, off, n int) []byte {
	out := make([]byte, n)
	copy(out, buf[off/8:off/8+n])
	return out
}
