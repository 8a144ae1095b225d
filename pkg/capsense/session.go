package capsense

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the FDC1004 bridge firmware's fixed link speed.
	DefaultBaudRate = 115200
	// DefaultSettleDelay is how long the first handle stays open while the
	// device finishes its reset.
	DefaultSettleDelay = 500 * time.Millisecond
	// MinSettleDelay is the shortest settle delay that reliably clears boot noise.
	MinSettleDelay = 500 * time.Millisecond
	// DefaultPort is the device path on the reference deployment.
	DefaultPort = "/dev/ttyACM0"
)

// PortConfig describes how to open the sensor. It is a value; copies are
// independent and nothing mutates it after NewPortConfig.
type PortConfig struct {
	Path        string
	BaudRate    int
	SettleDelay time.Duration
}

// NewPortConfig returns the configuration for the device at path using the
// fixed link speed and settle delay.
func NewPortConfig(path string) PortConfig {
	return PortConfig{
		Path:        path,
		BaudRate:    DefaultBaudRate,
		SettleDelay: DefaultSettleDelay,
	}
}

// Validate reports whether the configuration can be opened.
func (c PortConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: empty device path", ErrInvalidConfig)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.SettleDelay < MinSettleDelay {
		return fmt.Errorf("%w: settle delay %v below %v", ErrInvalidConfig, c.SettleDelay, MinSettleDelay)
	}
	return nil
}

// Port is the byte stream a Session reads frames from.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the device at path. Implementations return errors wrapping
// ErrPortUnavailable when the device cannot be opened.
type Opener func(path string, baudRate int) (Port, error)

// inputResetter is implemented by ports that can discard buffered input.
type inputResetter interface {
	ResetInputBuffer() error
}

// SerialOpener opens a real serial device at 8N1.
func SerialOpener(path string, baudRate int) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	return port, nil
}

// classifyOpenError maps go.bug.st/serial errors onto ErrPortUnavailable.
func classifyOpenError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PermissionDenied, serial.PortBusy, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %s: %s", ErrPortUnavailable, path, portErr.EncodedErrorString())
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPortUnavailable, path, err)
}

// Session owns an open connection to the sensor.
type Session struct {
	cfg  PortConfig
	port Port

	closeOnce sync.Once
	closeErr  error
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

// Open opens the device, waits for the settle delay, then closes and reopens
// it so that bytes emitted while the device was booting are discarded.
func Open(ctx context.Context, cfg PortConfig, open Opener) (*Session, error) {
	return openSession(ctx, cfg, open, sleepContext)
}

func openSession(ctx context.Context, cfg PortConfig, open Opener, sleep sleepFunc) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = SerialOpener
	}

	first, err := openPort(open, cfg)
	if err != nil {
		return nil, err
	}

	if err := sleep(ctx, cfg.SettleDelay); err != nil {
		first.Close()
		return nil, err
	}

	if err := first.Close(); err != nil {
		slog.Debug("closing settle handle", "path", cfg.Path, "error", err)
	}

	port, err := openPort(open, cfg)
	if err != nil {
		return nil, err
	}

	if r, ok := port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			slog.Debug("resetting input buffer", "path", cfg.Path, "error", err)
		}
	}

	return &Session{cfg: cfg, port: port}, nil
}

func openPort(open Opener, cfg PortConfig) (Port, error) {
	port, err := open(cfg.Path, cfg.BaudRate)
	if err != nil {
		if errors.Is(err, ErrPortUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrPortUnavailable, cfg.Path, err)
	}
	return port, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() PortConfig {
	return s.cfg
}

// Path returns the device path.
func (s *Session) Path() string {
	return s.cfg.Path
}

// Port returns the underlying connection.
func (s *Session) Port() Port {
	return s.port
}

// Close releases the device. Calling it more than once is safe.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}
