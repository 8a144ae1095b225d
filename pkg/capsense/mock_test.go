package capsense

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/itohio/capbridge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMockConfig() *config.MockConfig {
	return &config.MockConfig{
		SampleRate: 5 * time.Millisecond,
		Baseline:   4.0,
		Amplitude:  0.5,
		NoiseLevel: 0.01,
	}
}

func TestNewMock(t *testing.T) {
	cfg := testMockConfig()
	m := NewMock(cfg)
	assert.NotNil(t, m)
	assert.Equal(t, cfg, m.cfg)
	assert.False(t, m.started)
}

func TestNewMock_NilConfig(t *testing.T) {
	m := NewMock(nil)
	assert.NotNil(t, m)
	require.NotNil(t, m.cfg)
	assert.Equal(t, config.Default().Mock, *m.cfg)
}

func TestMock_channelValues(t *testing.T) {
	m := NewMock(testMockConfig())

	tests := []struct {
		name    string
		elapsed float64
	}{
		{"start", 0},
		{"one second", 1},
		{"one minute", 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := m.channelValues(tt.elapsed)
			for ch, v := range values {
				assert.InDelta(t, m.cfg.Baseline, v, m.cfg.Amplitude+m.cfg.NoiseLevel, "channel%d", ch)
			}
		})
	}
}

func TestMock_nextFrame(t *testing.T) {
	m := NewMock(testMockConfig())
	m.startTime = time.Now()

	frame := m.nextFrame(m.startTime.Add(time.Second))
	assert.True(t, strings.HasSuffix(frame, "\r\n"))

	reading, err := Parse(strings.TrimSuffix(frame, "\r\n"))
	require.NoError(t, err)
	for _, v := range reading.Values() {
		assert.False(t, math.IsNaN(v))
	}
}

func TestMock_MalformedEvery(t *testing.T) {
	cfg := testMockConfig()
	cfg.MalformedEvery = 3
	m := NewMock(cfg)
	m.startTime = time.Now()

	var failures []string
	for i := 0; i < 9; i++ {
		line := strings.TrimSuffix(m.nextFrame(time.Now()), "\r\n")
		if _, err := Parse(line); err != nil {
			var pf *ParseFailure
			require.True(t, errors.As(err, &pf))
			failures = append(failures, pf.Raw)
		}
	}
	assert.Equal(t, []string{mockDiagnostic, mockDiagnostic, mockDiagnostic}, failures)
}

func TestMock_Write(t *testing.T) {
	m := NewMock(nil)

	n, err := m.Write([]byte("ping\n"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, m.Close())
	_, err = m.Write([]byte("ping\n"))
	assert.Error(t, err)
}

func TestMock_CloseIdempotent(t *testing.T) {
	m := NewMock(nil)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

// TestMock_GracefulShutdown tests that reads end once the mock is closed.
func TestMock_GracefulShutdown(t *testing.T) {
	m := NewMock(testMockConfig())
	r := NewFrameReader(m)

	received := 0
	done := make(chan error, 1)
	go func() {
		for {
			if _, err := r.NextFrame(); err != nil {
				done <- err
				return
			}
			received++
			if received == 3 {
				m.Close()
			}
		}
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrIOClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop within timeout")
	}
	assert.GreaterOrEqual(t, received, 3)
}

func TestMockOpener(t *testing.T) {
	var slept time.Duration
	rec := &recorder{}

	s, err := openSession(context.Background(), NewPortConfig("mock"), MockOpener(testMockConfig()), rec.sleeper(&slept))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	frame, err := NewFrameReader(s.Port()).NextFrame()
	require.NoError(t, err)
	line, err := Decode(frame)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, MockStatus+FieldDelimiter))
}
