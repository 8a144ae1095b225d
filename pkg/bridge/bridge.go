// Package bridge runs the acquisition loop that forwards sensor frames to
// the telemetry bus.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/itohio/capbridge/pkg/capsense"
	"github.com/itohio/capbridge/pkg/publish"
)

// DeviceID identifies the sensor in the startup log line.
const DeviceID = "FDC1004"

// State is the loop's lifecycle phase.
type State int32

const (
	StateInit State = iota
	StateOpening
	StateRunning
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Bridge reads frames from one sensor and publishes the readings.
// It is not safe for concurrent Run calls.
type Bridge struct {
	pub   publish.Publisher
	log   *slog.Logger
	now   func() time.Time
	state atomic.Int32
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the diagnostic sink. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithClock sets the timestamp source for readings.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// New creates a Bridge that publishes through pub.
func New(pub publish.Publisher, opts ...Option) *Bridge {
	b := &Bridge{
		pub: pub,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current lifecycle phase.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Open opens the sensor session, moving the bridge from Init to Opening.
// The caller owns the returned session.
func (b *Bridge) Open(ctx context.Context, cfg capsense.PortConfig, open capsense.Opener) (*capsense.Session, error) {
	b.setState(StateOpening)
	b.log.Debug("opening sensor", "path", cfg.Path, "baud", cfg.BaudRate, "settle", cfg.SettleDelay)

	s, err := capsense.Open(ctx, cfg, open)
	if err != nil {
		b.setState(StateShutdown)
		return nil, err
	}
	return s, nil
}

// Run reads frames from port until ctx is cancelled or the connection
// fails. Malformed frames are logged and skipped. Cancellation is checked
// between frames only; a blocked read is not interrupted.
//
// Run returns nil on cancellation and an error wrapping
// capsense.ErrIOClosed when the connection is lost. It does not close port.
func (b *Bridge) Run(ctx context.Context, port io.Reader) error {
	b.setState(StateRunning)
	defer b.setState(StateShutdown)

	b.log.Info("sensor ready", "device_id", DeviceID)

	frames := capsense.NewFrameReader(port)
	for {
		if ctx.Err() != nil {
			b.log.Info("shutting down", "reason", ctx.Err())
			return nil
		}

		frame, err := frames.NextFrame()
		if err != nil {
			return err
		}

		b.handleFrame(ctx, frame)
	}
}

// handleFrame processes exactly one frame. Errors never escape it.
func (b *Bridge) handleFrame(ctx context.Context, frame []byte) {
	line, err := capsense.Decode(frame)
	if err != nil {
		b.log.Warn("undecodable frame", "error", err)
		return
	}

	reading, err := capsense.Parse(line)
	if err != nil {
		var pf *capsense.ParseFailure
		if errors.As(err, &pf) {
			b.log.Warn(pf.Raw, "fields", pf.Fields)
		} else {
			b.log.Warn("malformed frame", "error", err)
		}
		return
	}

	reading = reading.At(b.now())
	msg := publish.NewMessage(reading)
	if err := b.pub.Publish(ctx, msg); err != nil {
		b.log.Debug("publish failed", "error", err)
	}

	b.log.Info("reading",
		"stamp", reading.CapturedAt,
		"channel0", reading.Channel0,
		"channel1", reading.Channel1,
		"channel2", reading.Channel2,
		"channel3", reading.Channel3,
	)
}
