package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
)

// Extended Field record keys.
const (
	KeyAlert     uint8 = 1
	KeyDisaster  uint8 = 2
	KeyLatitude  uint8 = 33
	KeyLongitude uint8 = 34
	KeySource    uint8 = 40
	KeyAuthHash  uint8 = 41
)

// MaxRecordValue is the largest value a single record can carry, bounded by
// the 10-bit length field.
const MaxRecordValue = 1023

// recordHeaderBits is the fixed size of a record header: 10-bit length plus
// 6-bit key.
const recordHeaderBits = 16

// Record is one Extended Field entry. Integer values are big-endian inside
// the value bytes, unlike the LSB-first fixed header.
type Record struct {
	Key   uint8
	Value []byte
}

// Fields is the ordered Extended Field record list. Records encode in
// insertion order; multi-record keys (alert, disaster) preserve order.
type Fields []Record

// Get returns the value of the last record with the given key. Last wins on
// duplicates of single-value keys.
func (f Fields) Get(key uint8) ([]byte, bool) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i].Key == key {
			return f[i].Value, true
		}
	}
	return nil, false
}

// GetAll returns the values of every record with the given key, in order.
func (f Fields) GetAll(key uint8) [][]byte {
	var out [][]byte
	for _, rec := range f {
		if rec.Key == key {
			out = append(out, rec.Value)
		}
	}
	return out
}

// Set replaces every record with the given key by a single record, appending
// if the key was absent.
func (f Fields) Set(key uint8, value []byte) Fields {
	out := f.Remove(key)
	return append(out, Record{Key: key, Value: value})
}

// Add appends a record without touching existing ones.
func (f Fields) Add(key uint8, value []byte) Fields {
	return append(f, Record{Key: key, Value: value})
}

// Remove drops every record with the given key.
func (f Fields) Remove(key uint8) Fields {
	out := f[:0:0]
	for _, rec := range f {
		if rec.Key != key {
			out = append(out, rec)
		}
	}
	return out
}

// encodedBits is the total wire size of the record list.
func (f Fields) encodedBits() int {
	n := 0
	for _, rec := range f {
		n += recordHeaderBits + len(rec.Value)*8
	}
	return n
}

// CoordinateScale converts between degrees and the fixed-point int32 carried
// in keys 33/34: micro-degrees.
const CoordinateScale = 1e6

// encodeCoordinate converts degrees to the big-endian int32 wire form.
func encodeCoordinate(deg float64) []byte {
	v := int32(math.Round(deg * CoordinateScale))
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// decodeCoordinate converts the big-endian int32 wire form back to degrees.
func decodeCoordinate(b []byte) (float64, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("coordinate value must be 4 bytes, got %d", len(b))
	}
	v := int32(binary.BigEndian.Uint32(b))
	return float64(v) / CoordinateScale, nil
}

// SetCoordinates stores latitude and longitude under keys 33/34.
func (p *Packet) SetCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	p.Extended = p.Extended.Set(KeyLatitude, encodeCoordinate(lat))
	p.Extended = p.Extended.Set(KeyLongitude, encodeCoordinate(lon))
	p.ExFlag = true
	return nil
}

// Coordinates returns the latitude/longitude pair when both keys are
// present.
func (p *Packet) Coordinates() (lat, lon float64, ok bool) {
	latB, ok1 := p.Extended.Get(KeyLatitude)
	lonB, ok2 := p.Extended.Get(KeyLongitude)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	lat, err := decodeCoordinate(latB)
	if err != nil {
		return 0, 0, false
	}
	lon, err = decodeCoordinate(lonB)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// SetSource stores the origin address under key 40 as ASCII "ip:port".
func (p *Packet) SetSource(addr *net.UDPAddr) {
	p.Extended = p.Extended.Set(KeySource, []byte(addr.String()))
	p.ExFlag = true
}

// Source returns the origin address carried under key 40.
func (p *Packet) Source() (*net.UDPAddr, bool) {
	v, ok := p.Extended.Get(KeySource)
	if !ok {
		return nil, false
	}
	host, portStr, err := net.SplitHostPort(string(v))
	if err != nil {
		return nil, false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, false
	}
	return &net.UDPAddr{IP: ip, Port: port}, true
}

// StripSource removes the source record and clears ex_flag when the
// Extended Field becomes empty. It returns the origin address if one was
// present.
func (p *Packet) StripSource() (*net.UDPAddr, bool) {
	addr, ok := p.Source()
	p.Extended = p.Extended.Remove(KeySource)
	if len(p.Extended) == 0 {
		p.ExFlag = false
	}
	return addr, ok
}

// Alerts returns the decoded alert strings in record order.
func (p *Packet) Alerts() []string {
	return textValues(p.Extended.GetAll(KeyAlert))
}

// Disasters returns the decoded disaster notice strings in record order.
func (p *Packet) Disasters() []string {
	return textValues(p.Extended.GetAll(KeyDisaster))
}

// AddAlert appends one alert record.
func (p *Packet) AddAlert(text string) {
	p.Extended = p.Extended.Add(KeyAlert, []byte(text))
	p.ExFlag = true
}

// AddDisaster appends one disaster notice record.
func (p *Packet) AddDisaster(text string) {
	p.Extended = p.Extended.Add(KeyDisaster, []byte(text))
	p.ExFlag = true
}

// AuthHash returns the digest carried under key 41.
func (p *Packet) AuthHash() ([]byte, bool) {
	return p.Extended.Get(KeyAuthHash)
}

// SetAuthHash stores the digest under key 41.
func (p *Packet) SetAuthHash(digest []byte) {
	p.Extended = p.Extended.Set(KeyAuthHash, digest)
	p.ExFlag = true
}

func textValues(vals [][]byte) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
