package packet

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"
)

// DefaultHashAlgorithm is used when no algorithm is configured.
const DefaultHashAlgorithm = "sha512"

// newHash returns the digest constructor for a configured algorithm name.
func newHash(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512", "":
		return sha512.New, nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
}

// ComputeAuthHash derives the request authentication digest:
// hash(packet_id LE16 || timestamp LE64 || passphrase). The digest travels
// in Extended Field key 41.
func ComputeAuthHash(algorithm string, packetID uint16, timestamp int64, passphrase string) ([]byte, error) {
	ctor, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	h := ctor()
	var buf [10]byte
	binary.LittleEndian.PutUint16(buf[0:2], packetID)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(timestamp))
	h.Write(buf[:])
	h.Write([]byte(passphrase))
	return h.Sum(nil), nil
}

// VerifyAuthHash recomputes the digest for the packet's id and timestamp and
// compares it to the carried one in constant time.
func VerifyAuthHash(algorithm string, p *Packet, passphrase string) (bool, error) {
	carried, ok := p.AuthHash()
	if !ok {
		return false, nil
	}
	want, err := ComputeAuthHash(algorithm, p.PacketID, p.Timestamp, passphrase)
	if err != nil {
		return false, err
	}
	if len(carried) != len(want) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(carried, want) == 1, nil
}

// Authenticate computes the digest for the packet under the given
// passphrase and injects it into the Extended Field.
func (p *Packet) Authenticate(algorithm, passphrase string) error {
	digest, err := ComputeAuthHash(algorithm, p.PacketID, p.Timestamp, passphrase)
	if err != nil {
		return err
	}
	p.SetAuthHash(digest)
	return nil
}
