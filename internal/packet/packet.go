// Package packet implements the Weather Information Protocol wire format: a
// 128-bit bit-packed fixed header, an optional fixed response payload, and a
// TLV-style Extended Field region, with a 12-bit one's-complement checksum
// and hash-based request authentication.
package packet

import (
	"fmt"
	"strings"
)

// Type is the 3-bit packet type discriminator.
type Type uint8

const (
	TypeLocationRequest  Type = 0
	TypeLocationResponse Type = 1
	TypeQueryRequest     Type = 2
	TypeQueryResponse    Type = 3
	TypeReportRequest    Type = 4
	TypeReportAck        Type = 5
	TypeError            Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeLocationRequest:
		return "LocationRequest"
	case TypeLocationResponse:
		return "LocationResponse"
	case TypeQueryRequest:
		return "QueryRequest"
	case TypeQueryResponse:
		return "QueryResponse"
	case TypeReportRequest:
		return "ReportRequest"
	case TypeReportAck:
		return "ReportAck"
	case TypeError:
		return "Error"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// CurrentVersion is the protocol version this implementation speaks.
const CurrentVersion = 1

// Fixed header bit offsets, LSB-first in a little-endian byte stream.
const (
	offVersion     = 0   // 4 bits
	offPacketID    = 4   // 12 bits
	offType        = 16  // 3 bits
	offWeather     = 19  // 1 bit
	offTemperature = 20  // 1 bit
	offPop         = 21  // 1 bit
	offAlert       = 22  // 1 bit
	offDisaster    = 23  // 1 bit
	offEx          = 24  // 1 bit
	offDay         = 25  // 3 bits
	offReserved    = 28  // 2 bits
	offRequestAuth = 30  // 1 bit
	offRespAuth    = 31  // 1 bit
	offTimestamp   = 32  // 64 bits
	offAreaCode    = 96  // 20 bits
	offChecksum    = 116 // 12 bits

	// Fixed data payload (types 3, 4, and 7).
	offWeatherCode = 128 // 16 bits; error_code for Type 7
	offTempField   = 144 // 8 bits, Celsius + 100
	offPopField    = 152 // 8 bits, 0..100

	// HeaderBits is the fixed header size; every packet is at least this long.
	HeaderBits  = 128
	HeaderBytes = HeaderBits / 8

	// ResponseBits is the fixed size of a packet carrying the response payload.
	ResponseBits  = 160
	ResponseBytes = ResponseBits / 8
)

// MaxPacketID is the exclusive upper bound of the 12-bit packet id space.
const MaxPacketID = 1 << 12

// MaxAreaCode is the exclusive upper bound of the 20-bit area code space.
const MaxAreaCode = 1 << 20

// Packet is an immutable-by-convention value holding one WIP datagram. The
// codec never mutates a Packet during Encode; checksum computation is a step
// of encoding, not a side effect of field assignment.
type Packet struct {
	Version  uint8
	PacketID uint16
	Type     Type

	WeatherFlag     bool
	TemperatureFlag bool
	PopFlag         bool
	AlertFlag       bool
	DisasterFlag    bool
	ExFlag          bool

	Day          uint8
	RequestAuth  bool
	ResponseAuth bool
	Timestamp    int64
	AreaCode     uint32

	// Data payload, meaningful for types 3, 4, and 7 only. WeatherCode holds
	// the error code on Type 7. Temperature is the on-wire byte (Celsius+100).
	WeatherCode uint16
	Temperature uint8
	Pop         uint8

	Extended Fields
}

// HasPayload reports whether this packet type carries the fixed data payload
// after the header. Query responses return the measurements, report requests
// submit them, and error packets reuse the weather_code slot for the error
// code.
func (p *Packet) HasPayload() bool {
	return p.Type == TypeQueryResponse || p.Type == TypeReportRequest || p.Type == TypeError
}

// hasExtended reports whether the Extended Field region must be emitted.
func (p *Packet) hasExtended() bool {
	return p.ExFlag || len(p.Extended) > 0
}

// FlagBitmap packs the five data flags into a small integer, used as part of
// the weather cache fingerprint.
func (p *Packet) FlagBitmap() uint8 {
	var m uint8
	if p.WeatherFlag {
		m |= 1 << 0
	}
	if p.TemperatureFlag {
		m |= 1 << 1
	}
	if p.PopFlag {
		m |= 1 << 2
	}
	if p.AlertFlag {
		m |= 1 << 3
	}
	if p.DisasterFlag {
		m |= 1 << 4
	}
	return m
}

// AnyDataFlag reports whether at least one data flag is requested.
func (p *Packet) AnyDataFlag() bool {
	return p.WeatherFlag || p.TemperatureFlag || p.PopFlag || p.AlertFlag || p.DisasterFlag
}

// AreaCodeString renders the area code as the canonical 6-digit zero-padded
// identifier. Zero means unset and renders as "000000".
func (p *Packet) AreaCodeString() string {
	return FormatAreaCode(p.AreaCode)
}

// TemperatureCelsius removes the +100 wire bias.
func (p *Packet) TemperatureCelsius() int {
	return int(p.Temperature) - TemperatureBias
}

// SetTemperatureCelsius applies the +100 wire bias. Valid input range is
// -100..155.
func (p *Packet) SetTemperatureCelsius(c int) error {
	if c < -TemperatureBias || c > 255-TemperatureBias {
		return fieldRangeError("temperature", uint64(uint(c+TemperatureBias)), 8)
	}
	p.Temperature = uint8(c + TemperatureBias)
	return nil
}

// TemperatureBias is the fixed offset applied to the on-wire temperature
// byte: wire = Celsius + 100.
const TemperatureBias = 100

// FormatAreaCode renders a 20-bit area code integer as the canonical
// 6-digit zero-padded decimal string.
func FormatAreaCode(code uint32) string {
	return fmt.Sprintf("%06d", code)
}

// ParseAreaCode parses a decimal area code string into its integer form.
func ParseAreaCode(s string) (uint32, error) {
	var code uint32
	if s == "" {
		return 0, fmt.Errorf("empty area code")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid area code %q", s)
		}
		code = code*10 + uint32(r-'0')
		if code >= MaxAreaCode {
			return 0, fmt.Errorf("area code %q exceeds 20-bit range", s)
		}
	}
	return code, nil
}

// validate checks every header field against its wire width before encoding.
func (p *Packet) validate() error {
	if p.Version > 0xF {
		return fieldRangeError("version", uint64(p.Version), 4)
	}
	if p.PacketID >= MaxPacketID {
		return fieldRangeError("packet_id", uint64(p.PacketID), 12)
	}
	if p.Type > 7 {
		return fieldRangeError("type", uint64(p.Type), 3)
	}
	if p.Day > 7 {
		return fieldRangeError("day", uint64(p.Day), 3)
	}
	if p.AreaCode >= MaxAreaCode {
		return fieldRangeError("area_code", uint64(p.AreaCode), 20)
	}
	if p.Pop > 100 {
		return fieldRangeError("pop", uint64(p.Pop), 8)
	}
	for _, rec := range p.Extended {
		if rec.Key > 0x3F {
			return fieldRangeError("extended key", uint64(rec.Key), 6)
		}
		if len(rec.Value) > MaxRecordValue {
			return fieldRangeError("extended length", uint64(len(rec.Value)), 10)
		}
	}
	return nil
}

// String renders a compact single-line summary for debug logging.
func (p *Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s id=%d area=%s day=%d flags=", p.Type, p.PacketID, p.AreaCodeString(), p.Day)
	for _, f := range []struct {
		on bool
		c  byte
	}{
		{p.WeatherFlag, 'w'},
		{p.TemperatureFlag, 't'},
		{p.PopFlag, 'p'},
		{p.AlertFlag, 'a'},
		{p.DisasterFlag, 'd'},
	} {
		if f.on {
			b.WriteByte(f.c)
		}
	}
	if p.hasExtended() {
		fmt.Fprintf(&b, " ext=%d", len(p.Extended))
	}
	return b.String()
}
