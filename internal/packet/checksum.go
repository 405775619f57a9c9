package packet

// Checksum12 computes the 12-bit one's-complement checksum of a byte
// stream. Callers must zero the checksum bits before computing. Bytes are
// accumulated into a 32-bit sum, then folded until nothing remains above
// bit 11, and the result is complemented.
func Checksum12(data []byte) uint16 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	for sum>>12 != 0 {
		sum = (sum & 0xFFF) + (sum >> 12)
	}
	return uint16(^sum & 0xFFF)
}

// zeroChecksumBits clears the 12 checksum bits in place so the checksum can
// be computed or verified over the remaining stream.
func zeroChecksumBits(buf []byte) {
	writeBits(buf, offChecksum, 12, 0)
}
