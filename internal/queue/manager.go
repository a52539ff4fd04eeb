// Package queue serializes download requests arriving from many goroutines
// onto a single background worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-arcenciel-browser/internal/downloader"
	"go-arcenciel-browser/internal/models"

	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
)

// DefaultIdleWait is how long an idle worker waits for new items before exiting.
const DefaultIdleWait = 200 * time.Millisecond

// ErrPanic wraps a panic recovered from a single transfer.
var ErrPanic = errors.New("transfer panicked")

// Transferer performs one blocking file transfer.
type Transferer interface {
	Transfer(ctx context.Context, url, dest string, canceled func() bool, progress downloader.ProgressFunc) (int64, error)
}

// Reporter is notified whenever the queue state changes. Calls come from the
// worker goroutine and from Enqueue callers; implementations must be safe
// for concurrent use and must not block.
type Reporter interface {
	Report(Snapshot)
}

// Options configure a Manager.
type Options struct {
	IdleWait time.Duration
	Reporter Reporter
	// OnComplete runs on the worker goroutine after every item, successful or not.
	OnComplete func(item models.DownloadItem, written int64, err error)
}

// Progress is the advisory counter record attached while a worker runs.
type Progress struct {
	Current       string `json:"current,omitempty"`
	Total         int    `json:"total"`
	Handled       int    `json:"handled"`
	Failed        int    `json:"failed"`
	BytesWritten  int64  `json:"bytesWritten"`
	BytesExpected int64  `json:"bytesExpected"`
}

// Snapshot is a copy of the queue state safe to hand to other goroutines.
type Snapshot struct {
	Progress    *Progress `json:"progress,omitempty"`
	Pending     int       `json:"pending"`
	Downloading bool      `json:"downloading"`
	Canceled    bool      `json:"canceled"`

	seq uint64
}

// Manager owns the pending FIFO and guarantees at most one worker.
type Manager struct {
	transfer   Transferer
	reporter   Reporter
	onComplete func(models.DownloadItem, int64, error)
	idleWait   time.Duration

	ctx  context.Context
	stop context.CancelFunc

	mu          sync.Mutex
	pending     []models.DownloadItem
	downloading bool
	progress    *Progress
	done        chan struct{}

	// cancel is written under mu and read lock-free by the transfer at chunk
	// granularity.
	cancel atomic.Bool
	notify chan struct{}

	// seq orders snapshots taken for the reporter; reported is the newest
	// one delivered so far.
	seq      uint64
	reportMu sync.Mutex
	reported uint64
}

// NewManager returns an idle Manager that hands items to t.
func NewManager(t Transferer, opts Options) *Manager {
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		transfer:   t,
		reporter:   opts.Reporter,
		onComplete: opts.OnComplete,
		idleWait:   opts.IdleWait,
		ctx:        ctx,
		stop:       stop,
		notify:     make(chan struct{}, 1),
	}
}

// Enqueue appends item to the tail of the queue. It assigns an ID and
// timestamp when missing and never fails. The caller still has to call
// Start if no worker is running.
func (m *Manager) Enqueue(item models.DownloadItem) models.DownloadItem {
	if item.ID == "" {
		item.ID = ksuid.New().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	m.mu.Lock()
	m.pending = append(m.pending, item)
	if m.progress != nil {
		m.progress.Total++
	}
	snap := m.eventLocked()
	m.mu.Unlock()

	log.WithFields(log.Fields{"item": item.ID, "model": item.ModelID, "version": item.VersionID}).
		Debugf("Queued %s -> %s", item.URL, item.Destination)

	// Wake an idle worker; a pending signal is enough.
	select {
	case m.notify <- struct{}{}:
	default:
	}

	m.report(snap)
	return item
}

// Start spawns the worker unless one is already running.
func (m *Manager) Start() {
	m.mu.Lock()
	started := m.startLocked()
	snap := m.eventLocked()
	m.mu.Unlock()

	if started {
		m.report(snap)
	}
}

func (m *Manager) startLocked() bool {
	if m.downloading {
		return false
	}
	// Drop a stale wake-up left by Enqueue calls made while idle.
	select {
	case <-m.notify:
	default:
	}

	m.downloading = true
	m.progress = &Progress{Total: len(m.pending), BytesExpected: -1}
	done := make(chan struct{})
	m.done = done
	log.Debugf("Starting download worker with %d pending item(s)", len(m.pending))
	go m.run(done)
	return true
}

// CancelAll clears the pending list and asks the in-flight transfer to stop
// at its next chunk boundary. Partial files stay on disk.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	dropped := len(m.pending)
	m.pending = nil
	if m.downloading {
		m.cancel.Store(true)
	}
	snap := m.eventLocked()
	m.mu.Unlock()

	// An idle worker exits right away instead of finishing its wait.
	select {
	case m.notify <- struct{}{}:
	default:
	}

	log.Infof("Cancel requested: dropped %d pending item(s)", dropped)
	m.report(snap)
}

// IsDownloading reports whether a worker is running.
func (m *Manager) IsDownloading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloading
}

// Cancelled reports whether a cancel is waiting to be observed by the worker.
func (m *Manager) Cancelled() bool {
	return m.cancel.Load()
}

// Pending returns a copy of the queued items in FIFO order.
func (m *Manager) Pending() []models.DownloadItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DownloadItem, len(m.pending))
	copy(out, m.pending)
	return out
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Pending:     len(m.pending),
		Downloading: m.downloading,
		Canceled:    m.cancel.Load(),
	}
	if m.progress != nil {
		p := *m.progress
		s.Progress = &p
	}
	return s
}

// Wait blocks until no worker is running or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		running, done := m.downloading, m.done
		m.mu.Unlock()
		if !running {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels everything, aborts the in-flight request and waits for the
// worker to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.CancelAll()
	m.stop()
	return m.Wait(ctx)
}

// eventLocked snapshots the state and stamps it for report.
func (m *Manager) eventLocked() Snapshot {
	s := m.snapshotLocked()
	m.seq++
	s.seq = m.seq
	return s
}

// report delivers s unless a newer snapshot already went out. Snapshots are
// taken under mu but reported after unlocking, so they can arrive out of order.
func (m *Manager) report(s Snapshot) {
	if m.reporter == nil {
		return
	}
	m.reportMu.Lock()
	defer m.reportMu.Unlock()
	if s.seq <= m.reported {
		return
	}
	m.reported = s.seq
	m.reporter.Report(s)
}

// run is the worker loop. done is closed on exit.
func (m *Manager) run(done chan struct{}) {
	for {
		item, ok := m.next(done)
		if !ok {
			return
		}
		m.process(item)
	}
}

// next pops the head of the queue, waiting up to idleWait for new items.
// It returns false after performing the exit bookkeeping.
func (m *Manager) next(done chan struct{}) (models.DownloadItem, bool) {
	var timer *time.Timer
	expired := false
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		m.mu.Lock()
		if m.cancel.Load() {
			m.exitLocked(done, "canceled")
			return models.DownloadItem{}, false
		}
		if len(m.pending) > 0 {
			item := m.pending[0]
			m.pending[0] = models.DownloadItem{}
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return item, true
		}
		if expired {
			// Still empty after the idle wait. Deciding under the same lock
			// Enqueue and Start take means a concurrent Enqueue either lands
			// before this check or sees downloading=false and starts a new run.
			m.exitLocked(done, "queue drained")
			return models.DownloadItem{}, false
		}
		m.mu.Unlock()

		// A wake-up left over from an Enqueue that was already popped only
		// triggers a re-check; the full idle interval still applies.
		if timer == nil {
			timer = time.NewTimer(m.idleWait)
		}
		select {
		case <-m.notify:
		case <-timer.C:
			expired = true
		}
	}
}

// exitLocked detaches the worker state and unlocks mu.
func (m *Manager) exitLocked(done chan struct{}, reason string) {
	final := m.progress
	m.downloading = false
	m.progress = nil
	m.cancel.Store(false)
	close(done)

	// Items enqueued after a CancelAll but before this exit would otherwise
	// sit in the queue until someone calls Start again.
	restarted := len(m.pending) > 0 && m.startLocked()
	snap := m.eventLocked()
	m.mu.Unlock()

	if final != nil {
		log.Infof("Download worker finished (%s): %d/%d handled, %d failed", reason, final.Handled, final.Total, final.Failed)
	}
	if restarted {
		log.Debugf("Restarted worker for items queued after cancel")
	}
	m.report(snap)
}

func (m *Manager) process(item models.DownloadItem) {
	logger := log.WithFields(log.Fields{"item": item.ID, "url": item.URL})

	m.mu.Lock()
	m.progress.Current = item.Destination
	m.progress.BytesWritten = 0
	m.progress.BytesExpected = -1
	snap := m.eventLocked()
	m.mu.Unlock()
	m.report(snap)

	logger.Infof("Downloading to %s", item.Destination)
	written, err := m.safeTransfer(item)

	m.mu.Lock()
	m.progress.Handled++
	if err != nil && !errors.Is(err, downloader.ErrCanceled) {
		m.progress.Failed++
	}
	m.progress.Current = ""
	snap = m.eventLocked()
	m.mu.Unlock()

	switch {
	case err == nil:
		logger.Infof("Finished %s", item.Destination)
	case errors.Is(err, downloader.ErrCanceled):
		logger.Infof("Canceled %s after %d bytes", item.Destination, written)
	default:
		logger.WithError(err).Errorf("Failed to download %s", item.Destination)
	}

	if m.onComplete != nil {
		m.onComplete(item, written, err)
	}
	m.report(snap)
}

func (m *Manager) safeTransfer(item models.DownloadItem) (written int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return m.transfer.Transfer(m.ctx, item.URL, item.Destination, m.cancel.Load, m.onBytes)
}

func (m *Manager) onBytes(written, expected int64) {
	m.mu.Lock()
	if m.progress != nil {
		m.progress.BytesWritten = written
		m.progress.BytesExpected = expected
	}
	snap := m.eventLocked()
	m.mu.Unlock()
	m.report(snap)
}
