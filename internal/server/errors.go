package server

import "fmt"

// Error is a handler failure carrying the protocol error code that should
// travel back to the origin in a Type-7 packet.
type Error struct {
	Code uint16
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wip error %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("wip error %d", e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with a formatted cause.
func Errorf(code uint16, format string, args ...interface{}) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}
