package packet

import "fmt"

// Protocol error codes carried in the weather_code slot of Type-7 packets.
const (
	ErrCodeBadPacket       = 400 // malformed request
	ErrCodeAuth            = 401 // authentication failure
	ErrCodeMissingArea     = 402 // area code unset
	ErrCodeVersion         = 403 // protocol version mismatch
	ErrCodeLength          = 404 // length mismatch on send
	ErrCodeLocationForward = 410 // forward to location server failed
	ErrCodeQueryForward    = 420 // forward to query server failed
	ErrCodeLocationError   = 510 // location server internal
	ErrCodeQueryError      = 520 // query server internal
	ErrCodeServerError     = 530 // other internal
)

// BitFieldError reports a field whose value does not fit its wire width, or
// a byte stream that cannot be decoded into a well-formed packet.
type BitFieldError struct {
	Field  string
	Reason string
}

func (e *BitFieldError) Error() string {
	return fmt.Sprintf("packet: field %s: %s", e.Field, e.Reason)
}

func fieldRangeError(field string, value uint64, bits int) *BitFieldError {
	return &BitFieldError{
		Field:  field,
		Reason: fmt.Sprintf("value %d exceeds %d-bit range", value, bits),
	}
}

func decodeError(field, reason string) *BitFieldError {
	return &BitFieldError{Field: field, Reason: reason}
}
