package capsense

import (
	"errors"
	"fmt"
)

var (
	// ErrPortUnavailable means the device could not be opened (missing path,
	// permissions, busy). Fatal before the acquisition loop starts.
	ErrPortUnavailable = errors.New("serial port unavailable")
	// ErrIOClosed means the connection closed or failed while reading a frame.
	ErrIOClosed = errors.New("serial connection closed")
	// ErrDecode means a frame was not valid text.
	ErrDecode = errors.New("frame is not valid utf-8")
	// ErrInvalidConfig is returned for a PortConfig that cannot be opened.
	ErrInvalidConfig = errors.New("invalid port configuration")
)

// ParseFailure reports a frame that did not yield a Reading.
// Raw carries field 0 of the line, the sensor's status token.
type ParseFailure struct {
	Raw    string
	Fields int
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame %q (%d fields): %v", e.Raw, e.Fields, e.Err)
	}
	return fmt.Sprintf("malformed frame %q (%d fields)", e.Raw, e.Fields)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// DecodeFailure reports a frame whose bytes are not valid UTF-8.
type DecodeFailure struct {
	Frame []byte
	Err   error
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
}

func (e *DecodeFailure) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
