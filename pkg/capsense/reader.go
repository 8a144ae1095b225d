package capsense

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// FrameDelimiter terminates every frame on the wire.
const FrameDelimiter = '\n'

// FrameReader pulls newline-delimited frames off a byte stream.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r. The reader buffers, so r must not be read
// from elsewhere once wrapped.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// NextFrame blocks until a full frame is available and returns its bytes
// without the terminator. A trailing carriage return is treated as part of
// the terminator. Any read failure, including EOF in the middle of a frame,
// is reported as ErrIOClosed.
func (f *FrameReader) NextFrame() ([]byte, error) {
	line, err := f.r.ReadBytes(FrameDelimiter)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: end of stream", ErrIOClosed)
		}
		return nil, fmt.Errorf("%w: %w", ErrIOClosed, err)
	}

	line = line[:len(line)-1]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, nil
}

// Decode converts a frame to text. Frames that are not valid UTF-8 yield a
// *DecodeFailure.
func Decode(frame []byte) (string, error) {
	out, _, err := transform.Bytes(encoding.UTF8Validator, frame)
	if err != nil {
		return "", &DecodeFailure{Frame: frame, Err: err}
	}
	return string(out), nil
}
