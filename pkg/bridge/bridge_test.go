package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/capbridge/pkg/capsense"
	"github.com/itohio/capbridge/pkg/config"
	"github.com/itohio/capbridge/pkg/logging"
	"github.com/itohio/capbridge/pkg/publish"
)

type fakePublisher struct {
	messages  []publish.Message
	err       error
	onPublish func()
}

func (p *fakePublisher) Publish(ctx context.Context, m publish.Message) error {
	p.messages = append(p.messages, m)
	if p.onPublish != nil {
		p.onPublish()
	}
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

// logRecords decodes JSON log lines.
func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func warnings(records []map[string]any) []string {
	var out []string
	for _, rec := range records {
		if rec["level"] == "WARN" {
			out = append(out, rec["msg"].(string))
		}
	}
	return out
}

func newTestBridge(t *testing.T, pub publish.Publisher, now time.Time) (*Bridge, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := logging.New(&buf, logging.Config{Level: "info", Format: "json"})
	require.NoError(t, err)
	return New(pub, WithLogger(l), WithClock(func() time.Time { return now })), &buf
}

func TestRun_ForwardsReadingsAndSkipsBadFrames(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pub := &fakePublisher{}
	b, logs := newTestBridge(t, pub, stamp)

	input := strings.Join([]string{
		"OK,1.23,4.56,7.89,0.12",
		"OK,1.23,4.56",
		"ERR,abc,4.56,7.89,0.12",
		"",
		"bad read request",
		"OK,\xff\xfe,1,2,3",
		"OK,5,6,7,8",
	}, "\r\n") + "\r\n"

	err := b.Run(context.Background(), strings.NewReader(input))
	assert.ErrorIs(t, err, capsense.ErrIOClosed)
	assert.Equal(t, StateShutdown, b.State())

	require.Len(t, pub.messages, 2)
	assert.Equal(t, publish.Message{
		Header:   publish.Header{Stamp: stamp, FrameID: publish.FrameID},
		Channel0: 1.23, Channel1: 4.56, Channel2: 7.89, Channel3: 0.12,
	}, pub.messages[0])
	assert.Equal(t, 5.0, pub.messages[1].Channel0)
	assert.Equal(t, 8.0, pub.messages[1].Channel3)

	records := logRecords(t, logs)
	assert.Equal(t, []string{"OK", "ERR", "", "bad read request", "undecodable frame"}, warnings(records))
	assert.Equal(t, "sensor ready", records[0]["msg"])
	assert.Equal(t, DeviceID, records[0]["device_id"])
}

func TestRun_PublishErrorDoesNotStopLoop(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	b, _ := newTestBridge(t, pub, time.Now())

	err := b.Run(context.Background(), strings.NewReader("OK,1,2,3,4\nOK,5,6,7,8\n"))
	assert.ErrorIs(t, err, capsense.ErrIOClosed)
	assert.Len(t, pub.messages, 2)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	pub := &fakePublisher{}
	b, _ := newTestBridge(t, pub, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Run(ctx, strings.NewReader("OK,1,2,3,4\n"))
	assert.NoError(t, err)
	assert.Empty(t, pub.messages)
	assert.Equal(t, StateShutdown, b.State())
}

func TestRun_CancelBetweenFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &fakePublisher{onPublish: cancel}
	b, _ := newTestBridge(t, pub, time.Now())

	err := b.Run(ctx, strings.NewReader("OK,1,2,3,4\nOK,5,6,7,8\nOK,9,10,11,12\n"))
	assert.NoError(t, err)
	assert.Len(t, pub.messages, 1)
}

func TestRun_ReadError(t *testing.T) {
	pub := &fakePublisher{}
	b, _ := newTestBridge(t, pub, time.Now())

	r := io.MultiReader(strings.NewReader("OK,1,2,3,4\n"), iotestErrReader{errors.New("EIO")})
	err := b.Run(context.Background(), r)
	assert.ErrorIs(t, err, capsense.ErrIOClosed)
	assert.ErrorContains(t, err, "EIO")
	assert.Len(t, pub.messages, 1)
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

func TestRun_StateWhileRunning(t *testing.T) {
	pr, pw := io.Pipe()
	pub := &fakePublisher{}
	b, _ := newTestBridge(t, pub, time.Now())
	assert.Equal(t, StateInit, b.State())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), pr) }()

	_, err := pw.Write([]byte("OK,1,2,3,4\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return b.State() == StateRunning }, time.Second, time.Millisecond)

	require.NoError(t, pw.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, capsense.ErrIOClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stream closed")
	}
	assert.Equal(t, StateShutdown, b.State())
}

func TestOpen_Failure(t *testing.T) {
	b, _ := newTestBridge(t, &fakePublisher{}, time.Now())
	opener := func(string, int) (capsense.Port, error) {
		return nil, errors.New("permission denied")
	}

	s, err := b.Open(context.Background(), capsense.NewPortConfig("/dev/ttyACM0"), opener)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, capsense.ErrPortUnavailable)
	assert.Equal(t, StateShutdown, b.State())
}

func TestOpenAndRun_Mock(t *testing.T) {
	cfg := config.Default().Mock
	cfg.SampleRate = 5 * time.Millisecond
	cfg.MalformedEvery = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &fakePublisher{}
	pub.onPublish = func() {
		if len(pub.messages) == 3 {
			cancel()
		}
	}
	b, logs := newTestBridge(t, pub, time.Now())

	s, err := b.Open(ctx, capsense.NewPortConfig("mock"), capsense.MockOpener(&cfg))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, StateOpening, b.State())

	err = b.Run(ctx, s.Port())
	assert.NoError(t, err)
	assert.Len(t, pub.messages, 3)
	assert.Contains(t, warnings(logRecords(t, logs)), "bad read request")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "shutdown", StateShutdown.String())
	assert.Equal(t, "state(9)", State(9).String())
}
