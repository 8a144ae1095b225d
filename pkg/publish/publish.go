// Package publish delivers capacitance readings to the telemetry bus.
package publish

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/itohio/capbridge/pkg/capsense"
)

// FrameID names the sensor frame of reference on every message.
const FrameID = "Capacitance"

// Header carries message metadata.
type Header struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

// Message is the wire form of one reading.
type Message struct {
	Header   Header  `json:"header"`
	Channel0 float64 `json:"channel0"`
	Channel1 float64 `json:"channel1"`
	Channel2 float64 `json:"channel2"`
	Channel3 float64 `json:"channel3"`
}

// NewMessage wraps a stamped reading.
func NewMessage(r capsense.Reading) Message {
	return Message{
		Header: Header{
			Stamp:   r.CapturedAt,
			FrameID: FrameID,
		},
		Channel0: r.Channel0,
		Channel1: r.Channel1,
		Channel2: r.Channel2,
		Channel3: r.Channel3,
	}
}

// channelValue keeps NaN and Inf representable in JSON.
type channelValue float64

func (v channelValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return json.Marshal(f)
}

// Encode renders m as JSON. Non-finite channel values, which the sensor can
// produce and which plain JSON cannot carry, are encoded as the strings
// "NaN", "+Inf" and "-Inf".
func Encode(m Message) ([]byte, error) {
	return json.Marshal(struct {
		Header   Header       `json:"header"`
		Channel0 channelValue `json:"channel0"`
		Channel1 channelValue `json:"channel1"`
		Channel2 channelValue `json:"channel2"`
		Channel3 channelValue `json:"channel3"`
	}{
		Header:   m.Header,
		Channel0: channelValue(m.Channel0),
		Channel1: channelValue(m.Channel1),
		Channel2: channelValue(m.Channel2),
		Channel3: channelValue(m.Channel3),
	})
}

// Publisher emits messages on the telemetry bus. Publish does not wait for
// delivery acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}
