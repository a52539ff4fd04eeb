// Package progress renders queue snapshots to a terminal.
package progress

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go-arcenciel-browser/internal/helpers"
	"go-arcenciel-browser/internal/queue"

	"github.com/gosuri/uilive"
)

const defaultInterval = 100 * time.Millisecond

// Live redraws the queue and byte progress in place. It implements
// queue.Reporter.
type Live struct {
	writer   *uilive.Writer
	interval time.Duration

	mu        sync.Mutex
	lastDraw  time.Time
	lastFrame string
}

// NewLive returns a Live writing to out.
func NewLive(out io.Writer) *Live {
	w := uilive.New()
	w.Out = out
	w.RefreshInterval = defaultInterval
	return &Live{writer: w, interval: defaultInterval}
}

// Start begins periodic flushing.
func (l *Live) Start() { l.writer.Start() }

// Stop flushes the last frame and stops the writer.
func (l *Live) Stop() { l.writer.Stop() }

// Report implements queue.Reporter. Byte updates are throttled; state
// changes without an active transfer are always drawn.
func (l *Live) Report(s queue.Snapshot) {
	frame := Render(s)

	l.mu.Lock()
	defer l.mu.Unlock()
	if frame == l.lastFrame {
		return
	}
	inFlight := s.Progress != nil && s.Progress.Current != ""
	if inFlight && time.Since(l.lastDraw) < l.interval {
		return
	}
	l.lastDraw = time.Now()
	l.lastFrame = frame
	fmt.Fprint(l.writer, frame)
}

// Render formats a snapshot as one or two lines.
func Render(s queue.Snapshot) string {
	if s.Progress == nil {
		if s.Pending > 0 {
			return fmt.Sprintf("Queue idle, %d item(s) waiting\n", s.Pending)
		}
		return "Queue idle\n"
	}

	p := s.Progress
	var b strings.Builder
	fmt.Fprintf(&b, "Queue: %d/%d handled", p.Handled, p.Total)
	if p.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", p.Failed)
	}
	if s.Canceled {
		b.WriteString(" (canceling)")
	}
	b.WriteString("\n")

	if p.Current != "" {
		name := filepath.Base(p.Current)
		written := helpers.BytesToSize(uint64(p.BytesWritten))
		if p.BytesExpected > 0 {
			pct := float64(p.BytesWritten) * 100 / float64(p.BytesExpected)
			fmt.Fprintf(&b, "  %s: %s / %s (%.0f%%)\n", name, written, helpers.BytesToSize(uint64(p.BytesExpected)), pct)
		} else {
			fmt.Fprintf(&b, "  %s: %s\n", name, written)
		}
	}
	return b.String()
}
