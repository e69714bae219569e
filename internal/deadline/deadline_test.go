package deadline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pavelanni/ecd/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu      sync.Mutex
	session model.Session
	fetches int
	tasks   []model.Task
}

func (f *fakeStore) GetSession(_ context.Context, id string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	s := f.session
	s.AutoFinished = true
	return s, nil
}

func (f *fakeStore) Tasks(context.Context, []string) ([]model.Task, error) {
	return f.tasks, nil
}

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func timePtr(t time.Time) *time.Time { return &t }

func TestNoDeadlineNoWatch(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs, fs, WithInterval(time.Millisecond))
	defer m.Close()

	s := model.Session{ID: "s1", Status: model.StatusInProgress, TaskIDs: []string{"t1"}}
	fs.tasks = []model.Task{{ID: "t1"}}
	active, err := m.Track(context.Background(), s)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if active || m.Tracking("s1") {
		t.Error("expected no watch for a session without deadline")
	}
}

func TestClosedSessionsAreNotWatched(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs, fs, WithInterval(time.Millisecond))
	defer m.Close()

	end := timePtr(time.Now().Add(time.Hour))
	for _, s := range []model.Session{
		{ID: "a", Status: model.StatusCompleted, EndTime: end},
		{ID: "b", Status: model.StatusArchived, EndTime: end},
		{ID: "c", Status: model.StatusInProgress, EndTime: end, AutoFinished: true},
	} {
		if active, _ := m.Track(context.Background(), s); active {
			t.Errorf("session %s should not be watched", s.ID)
		}
	}
}

func TestExpiryFetchesOnce(t *testing.T) {
	fs := &fakeStore{session: model.Session{ID: "s1", Status: model.StatusInProgress}}
	got := make(chan model.Session, 1)
	m := New(fs, fs,
		WithInterval(2*time.Millisecond),
		WithExpiryFunc(func(s model.Session, err error) {
			if err != nil {
				t.Errorf("expiry fetch: %v", err)
			}
			got <- s
		}))
	defer m.Close()

	s := fs.session
	s.EndTime = timePtr(time.Now().Add(20 * time.Millisecond))
	active, err := m.Track(context.Background(), s)
	if err != nil || !active {
		t.Fatalf("Track = %v, %v", active, err)
	}

	select {
	case refreshed := <-got:
		if !refreshed.AutoFinished {
			t.Error("expected the store's auto-finished copy")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expiry callback not called")
	}
	time.Sleep(20 * time.Millisecond)
	if n := fs.fetchCount(); n != 1 {
		t.Errorf("expected exactly one re-fetch, got %d", n)
	}
	if m.Tracking("s1") {
		t.Error("watch should end after expiry")
	}
}

func TestTaskDeadlineUsesLatestEndTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fs := &fakeStore{tasks: []model.Task{
		{ID: "t1", EndTime: timePtr(now.Add(time.Minute))},
		{ID: "t2", EndTime: timePtr(now.Add(time.Hour))},
		{ID: "t3"},
	}}
	m := New(fs, fs)
	dl, err := m.Deadline(context.Background(), model.Session{TaskIDs: []string{"t1", "t2", "t3"}})
	if err != nil {
		t.Fatalf("Deadline: %v", err)
	}
	if dl == nil || !dl.Equal(now.Add(time.Hour)) {
		t.Errorf("expected latest task end time, got %v", dl)
	}
}

func TestUntrackStopsWatch(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs, fs, WithInterval(time.Millisecond))
	defer m.Close()

	s := model.Session{ID: "s1", Status: model.StatusInProgress, EndTime: timePtr(time.Now().Add(time.Hour))}
	if active, _ := m.Track(context.Background(), s); !active {
		t.Fatal("expected watch")
	}
	// Same deadline keeps the existing watch.
	if active, _ := m.Track(context.Background(), s); !active {
		t.Fatal("expected watch to remain")
	}
	m.Untrack("s1")
	if m.Tracking("s1") {
		t.Error("expected watch removed")
	}
	if fs.fetchCount() != 0 {
		t.Error("no fetch expected before the deadline")
	}

	// Archiving through Track stops the watch too.
	if _, err := m.Track(context.Background(), s); err != nil {
		t.Fatalf("Track: %v", err)
	}
	s.Status = model.StatusArchived
	if active, _ := m.Track(context.Background(), s); active || m.Tracking("s1") {
		t.Error("archived session still watched")
	}
}

func TestCloseStopsAll(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs, fs, WithInterval(time.Millisecond))
	end := timePtr(time.Now().Add(time.Hour))
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.Track(context.Background(), model.Session{ID: id, Status: model.StatusPaused, EndTime: end}); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}
	m.Close()
	if active, _ := m.Track(context.Background(), model.Session{ID: "d", Status: model.StatusInProgress, EndTime: end}); active {
		t.Error("Track after Close should be a no-op")
	}
}
