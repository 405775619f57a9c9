package packet

// Encode serializes a packet to its wire form. Field ranges are validated
// before any byte is produced; the checksum is computed over the finished
// buffer with its own bits zeroed and written back as the final step.
func Encode(p *Packet) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	fixedBits := HeaderBits
	if p.HasPayload() {
		fixedBits = ResponseBits
	}
	totalBits := fixedBits
	if p.hasExtended() {
		totalBits += p.Extended.encodedBits()
	}
	totalBytes := (totalBits + 7) / 8
	if totalBytes < HeaderBytes {
		totalBytes = HeaderBytes
	}
	buf := make([]byte, totalBytes)

	writeBits(buf, offVersion, 4, uint64(p.Version))
	writeBits(buf, offPacketID, 12, uint64(p.PacketID))
	writeBits(buf, offType, 3, uint64(p.Type))
	writeBool(buf, offWeather, p.WeatherFlag)
	writeBool(buf, offTemperature, p.TemperatureFlag)
	writeBool(buf, offPop, p.PopFlag)
	writeBool(buf, offAlert, p.AlertFlag)
	writeBool(buf, offDisaster, p.DisasterFlag)
	writeBool(buf, offEx, p.hasExtended())
	writeBits(buf, offDay, 3, uint64(p.Day))
	writeBits(buf, offReserved, 2, 0)
	writeBool(buf, offRequestAuth, p.RequestAuth)
	writeBool(buf, offRespAuth, p.ResponseAuth)
	writeBits(buf, offTimestamp, 64, uint64(p.Timestamp))
	writeBits(buf, offAreaCode, 20, uint64(p.AreaCode))

	if p.HasPayload() {
		writeBits(buf, offWeatherCode, 16, uint64(p.WeatherCode))
		writeBits(buf, offTempField, 8, uint64(p.Temperature))
		writeBits(buf, offPopField, 8, uint64(p.Pop))
	}

	if p.hasExtended() {
		pos := fixedBits
		for _, rec := range p.Extended {
			writeBits(buf, pos, 10, uint64(len(rec.Value)))
			writeBits(buf, pos+10, 6, uint64(rec.Key))
			pos += recordHeaderBits
			writeByteField(buf, pos, rec.Value)
			pos += len(rec.Value) * 8
		}
	}

	writeBits(buf, offChecksum, 12, uint64(Checksum12(buf)))
	return buf, nil
}

// Decode parses a wire-form byte stream into a packet. The checksum is
// verified first; a mismatch means the stream is corrupt or tampered.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderBytes {
		return nil, decodeError("length", "packet shorter than 16-byte header")
	}

	carried := uint16(readBits(data, offChecksum, 12))
	scratch := make([]byte, len(data))
	copy(scratch, data)
	zeroChecksumBits(scratch)
	if Checksum12(scratch) != carried {
		return nil, decodeError("checksum", "corrupt or tampered packet")
	}

	p := &Packet{
		Version:         uint8(readBits(data, offVersion, 4)),
		PacketID:        uint16(readBits(data, offPacketID, 12)),
		Type:            Type(readBits(data, offType, 3)),
		WeatherFlag:     readBool(data, offWeather),
		TemperatureFlag: readBool(data, offTemperature),
		PopFlag:         readBool(data, offPop),
		AlertFlag:       readBool(data, offAlert),
		DisasterFlag:    readBool(data, offDisaster),
		ExFlag:          readBool(data, offEx),
		Day:             uint8(readBits(data, offDay, 3)),
		RequestAuth:     readBool(data, offRequestAuth),
		ResponseAuth:    readBool(data, offRespAuth),
		Timestamp:       int64(readBits(data, offTimestamp, 64)),
		AreaCode:        uint32(readBits(data, offAreaCode, 20)),
	}

	fixedBits := HeaderBits
	if p.HasPayload() {
		if len(data) < ResponseBytes {
			return nil, decodeError("length", "truncated response payload")
		}
		p.WeatherCode = uint16(readBits(data, offWeatherCode, 16))
		p.Temperature = uint8(readBits(data, offTempField, 8))
		p.Pop = uint8(readBits(data, offPopField, 8))
		fixedBits = ResponseBits
	}

	if p.ExFlag {
		ext, err := decodeExtended(data, fixedBits)
		if err != nil {
			return nil, err
		}
		p.Extended = ext
	}

	return p, nil
}

// decodeExtended walks the TLV region from the end of the fixed part to the
// declared end of the packet. A zero record header terminates early; a
// record whose length overruns the packet is an error.
func decodeExtended(data []byte, startBits int) (Fields, error) {
	totalBits := len(data) * 8
	var fields Fields
	pos := startBits
	for pos+recordHeaderBits <= totalBits {
		length := int(readBits(data, pos, 10))
		key := uint8(readBits(data, pos+10, 6))
		if length == 0 && key == 0 {
			break
		}
		pos += recordHeaderBits
		if pos+length*8 > totalBits {
			return nil, decodeError("extended", "record length exceeds packet")
		}
		fields = append(fields, Record{Key: key, Value: readByteField(data, pos, length)})
		pos += length * 8
	}
	return fields, nil
}

// PeekPacketID extracts the 12-bit packet id from a raw datagram without a
// full decode, for reply demultiplexing on shared sockets.
func PeekPacketID(data []byte) (uint16, bool) {
	if len(data) < 2 {
		return 0, false
	}
	return uint16(readBits(data, offPacketID, 12)), true
}

func writeBool(buf []byte, off int, v bool) {
	if v {
		writeBits(buf, off, 1, 1)
	} else {
		writeBits(buf, off, 1, 0)
	}
}

func readBool(buf []byte, off int) bool {
	return readBits(buf, off, 1) == 1
}
