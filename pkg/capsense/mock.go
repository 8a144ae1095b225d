package capsense

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/capbridge/pkg/config"
)

// MockStatus is the status token the simulated firmware puts in field 0.
const MockStatus = "OK"

// mockDiagnostic is what the firmware prints when an I2C read fails.
const mockDiagnostic = "bad read request"

// Mock simulates an FDC1004 bridge for testing and development. It behaves
// like an open serial port that streams frames at the configured rate.
type Mock struct {
	cfg *config.MockConfig

	pr *io.PipeReader
	pw *io.PipeWriter

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	started   bool

	// Simulation state
	startTime time.Time
	frames    int
}

// Ensure Mock can stand in for a serial port.
var _ Port = (*Mock)(nil)

// NewMock creates a simulated sensor. A nil cfg uses defaults.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	return &Mock{
		cfg:    cfg,
		pr:     pr,
		pw:     pw,
		ctx:    ctx,
		cancel: cancel,
	}
}

// MockOpener returns an Opener that hands out a fresh Mock on every call,
// so the settle-and-reopen sequence in Open behaves as with real hardware.
func MockOpener(cfg *config.MockConfig) Opener {
	return func(path string, baudRate int) (Port, error) {
		return NewMock(cfg), nil
	}
}

// Read starts the simulation on first use and returns generated frames.
func (m *Mock) Read(p []byte) (int, error) {
	m.mu.Lock()
	if !m.started {
		m.started = true
		m.startTime = time.Now()
		go m.generateFrames()
	}
	m.mu.Unlock()

	return m.pr.Read(p)
}

// Write accepts and discards commands; the bridge firmware has none.
func (m *Mock) Write(p []byte) (int, error) {
	select {
	case <-m.ctx.Done():
		return 0, io.ErrClosedPipe
	default:
		return len(p), nil
	}
}

// Close stops the simulation. Pending and future reads return io.EOF.
func (m *Mock) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.pw.Close()
	})
	return nil
}

// generateFrames writes simulated frames until the mock is closed.
func (m *Mock) generateFrames() {
	rate := m.cfg.SampleRate
	if rate <= 0 {
		rate = config.Default().Mock.SampleRate
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := io.WriteString(m.pw, m.nextFrame(now)); err != nil {
				return
			}
		}
	}
}

// nextFrame renders the frame for time now, CRLF terminated as the
// firmware's println does.
func (m *Mock) nextFrame(now time.Time) string {
	m.mu.Lock()
	m.frames++
	n := m.frames
	elapsed := now.Sub(m.startTime).Seconds()
	m.mu.Unlock()

	if m.cfg.MalformedEvery > 0 && n%m.cfg.MalformedEvery == 0 {
		return mockDiagnostic + "\r\n"
	}

	values := m.channelValues(elapsed)
	var b strings.Builder
	b.WriteString(MockStatus)
	for _, v := range values {
		b.WriteString(FieldDelimiter)
		b.WriteString(strconv.FormatFloat(v, 'f', 4, 64))
	}
	b.WriteString("\r\n")
	return b.String()
}

// channelValues simulates four electrodes with slow, phase-shifted drift
// around the baseline plus deterministic noise.
func (m *Mock) channelValues(elapsed float64) [Channels]float64 {
	var values [Channels]float64
	for ch := range values {
		phase := float64(ch) * math.Pi / 2
		drift := math.Sin(elapsed*0.5+phase) * m.cfg.Amplitude
		noise := (math.Sin(elapsed*97.0+phase) + math.Cos(elapsed*131.0)) * m.cfg.NoiseLevel * 0.5
		values[ch] = m.cfg.Baseline + drift + noise
	}
	return values
}
