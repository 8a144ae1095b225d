package capsense

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// FieldDelimiter separates fields within a frame.
	FieldDelimiter = ","
	// FrameFields is the number of fields in a well-formed frame:
	// status token followed by four channel values.
	FrameFields = 5
	// Channels is the number of capacitance channels per frame.
	Channels = FrameFields - 1
)

// Reading is one frame's worth of capacitance values.
type Reading struct {
	Channel0   float64
	Channel1   float64
	Channel2   float64
	Channel3   float64
	CapturedAt time.Time
}

// At returns a copy of r stamped with the capture time t.
func (r Reading) At(t time.Time) Reading {
	r.CapturedAt = t
	return r
}

// Values returns the channels in wire order.
func (r Reading) Values() [Channels]float64 {
	return [Channels]float64{r.Channel0, r.Channel1, r.Channel2, r.Channel3}
}

// Parse parses a decoded frame into a Reading.
// Format: status,ch0,ch1,ch2,ch3
// Example: OK,1.23,4.56,7.89,0.12
//
// Any malformed frame yields a *ParseFailure carrying field 0 of the line.
// Values are not range checked; NaN and Inf pass through, and literals too
// large for float64 become ±Inf. Only plain decimal text is accepted.
func Parse(line string) (Reading, error) {
	parts := strings.Split(line, FieldDelimiter)
	if len(parts) != FrameFields {
		return Reading{}, &ParseFailure{
			Raw:    parts[0],
			Fields: len(parts),
			Err:    fmt.Errorf("expected %d comma-separated values, got %d", FrameFields, len(parts)),
		}
	}

	var values [Channels]float64
	for i := range values {
		v, err := parseChannel(parts[i+1])
		if err != nil {
			return Reading{}, &ParseFailure{
				Raw:    parts[0],
				Fields: len(parts),
				Err:    fmt.Errorf("invalid channel%d: %w", i, err),
			}
		}
		values[i] = v
	}

	return Reading{
		Channel0: values[0],
		Channel1: values[1],
		Channel2: values[2],
		Channel3: values[3],
	}, nil
}

// parseChannel converts one channel field. Out-of-range literals keep the
// ±Inf or zero that strconv rounds them to.
func parseChannel(field string) (float64, error) {
	field = strings.TrimSpace(field)
	digits := strings.TrimLeft(field, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0, fmt.Errorf("hexadecimal value %q", field)
	}

	v, err := strconv.ParseFloat(field, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, err
	}
	return v, nil
}
