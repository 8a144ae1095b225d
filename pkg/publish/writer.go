package publish

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Writer publishes messages as JSON lines, one per reading. Used when no
// broker is available.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Publisher = (*Writer)(nil)

// NewWriter returns a Publisher writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Publish writes m followed by a newline.
func (p *Writer) Publish(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying writer belongs to the caller.
func (p *Writer) Close() error {
	return nil
}
