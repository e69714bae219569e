// Package deadline watches timed sessions and re-reads them from the store once
// their deadline passes, so the store can mark them auto-finished.
package deadline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/ecd/internal/model"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 5 * time.Second

// Fetcher re-reads a session. The store decides autoFinished; the monitor never does.
type Fetcher interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
}

// TaskSource loads the tasks a session delivers.
type TaskSource interface {
	Tasks(ctx context.Context, ids []string) ([]model.Task, error)
}

// ExpiryFunc receives the result of the single re-fetch made on expiry.
type ExpiryFunc func(s model.Session, err error)

// Monitor owns one polling goroutine per tracked session.
type Monitor struct {
	fetch    Fetcher
	tasks    TaskSource
	interval time.Duration
	now      func() time.Time
	onExpire ExpiryFunc

	mu      sync.Mutex
	watches map[string]*watch
	closed  bool
}

type watch struct {
	deadline time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func (w *watch) stop() {
	w.cancel()
	<-w.done
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock overrides the time source compared against deadlines.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithExpiryFunc sets the callback run after the expiry re-fetch.
func WithExpiryFunc(f ExpiryFunc) Option {
	return func(m *Monitor) { m.onExpire = f }
}

// New creates a Monitor.
func New(fetch Fetcher, tasks TaskSource, opts ...Option) *Monitor {
	m := &Monitor{
		fetch:    fetch,
		tasks:    tasks,
		interval: DefaultInterval,
		now:      time.Now,
		onExpire: logExpiry,
		watches:  make(map[string]*watch),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func logExpiry(s model.Session, err error) {
	if err != nil {
		slog.Warn("re-fetch after deadline failed", "error", err)
		return
	}
	slog.Info("session deadline reached", "session_id", s.ID, "auto_finished", s.AutoFinished)
}

// Deadline returns the effective deadline of s, or nil when it has none.
func (m *Monitor) Deadline(ctx context.Context, s model.Session) (*time.Time, error) {
	if s.EndTime != nil {
		return model.SessionDeadline(s, nil), nil
	}
	tasks, err := m.tasks.Tasks(ctx, s.TaskIDs)
	if err != nil {
		return nil, err
	}
	return model.SessionDeadline(s, tasks), nil
}

// Track starts watching s, replacing any watch with a different deadline.
// Sessions without a deadline, or no longer open to the student, are not
// watched and any existing watch is stopped. It reports whether a watch is active.
func (m *Monitor) Track(ctx context.Context, s model.Session) (bool, error) {
	if !model.DeadlineApplies(s) {
		m.Untrack(s.ID)
		return false, nil
	}
	dl, err := m.Deadline(ctx, s)
	if err != nil {
		return false, err
	}
	if dl == nil {
		m.Untrack(s.ID)
		return false, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, nil
	}
	old, ok := m.watches[s.ID]
	if ok && old.deadline.Equal(*dl) {
		m.mu.Unlock()
		return true, nil
	}
	wctx, cancel := context.WithCancel(context.Background())
	w := &watch{deadline: *dl, cancel: cancel, done: make(chan struct{})}
	m.watches[s.ID] = w
	m.mu.Unlock()

	if ok {
		old.stop()
	}
	go m.run(wctx, s.ID, w)
	slog.Debug("watching session deadline", "session_id", s.ID, "deadline", *dl)
	return true, nil
}

// Untrack stops watching a session. Unknown ids are ignored.
func (m *Monitor) Untrack(id string) {
	m.mu.Lock()
	w, ok := m.watches[id]
	delete(m.watches, id)
	m.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Tracking reports whether a watch is active for id.
func (m *Monitor) Tracking(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[id]
	return ok
}

// Close stops every watch. Track is a no-op afterwards.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	watches := m.watches
	m.watches = make(map[string]*watch)
	m.mu.Unlock()
	for _, w := range watches {
		w.stop()
	}
}

func (m *Monitor) run(ctx context.Context, id string, w *watch) {
	defer close(w.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.now().Before(w.deadline) {
				continue
			}
			s, err := m.fetch.GetSession(ctx, id)
			m.mu.Lock()
			if m.watches[id] == w {
				delete(m.watches, id)
			}
			m.mu.Unlock()
			if ctx.Err() == nil {
				m.onExpire(s, err)
			}
			return
		}
	}
}
