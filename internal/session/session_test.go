package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/policy"
	"github.com/pavelanni/ecd/internal/registry"
	"github.com/pavelanni/ecd/internal/scoring"
	"github.com/pavelanni/ecd/internal/store"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

// countingStore records how many store calls were made.
type countingStore struct {
	Store
	calls int
}

func (c *countingStore) CreateSession(ctx context.Context, s model.Session) (model.Session, error) {
	c.calls++
	return c.Store.CreateSession(ctx, s)
}

func (c *countingStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	c.calls++
	return c.Store.GetSession(ctx, id)
}

type fixture struct {
	ctrl  *Controller
	store *countingStore
	raw   *store.Store
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	data, err := os.ReadFile("../registry/testdata/reading.yaml")
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	b, err := registry.ParseBundle("reading.yaml", data)
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	raw, err := store.New(":memory:", store.WithClock(clock.now))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	if _, err := registry.Load(context.Background(), raw, b); err != nil {
		t.Fatalf("Load: %v", err)
	}
	reg := registry.New(raw)
	cs := &countingStore{Store: raw}
	ctrl := NewController(cs, reg, scoring.New(reg), policy.NewEngine(reg, nil), WithClock(clock.now))
	return &fixture{ctrl: ctrl, store: cs, raw: raw, clock: clock}
}

func (f *fixture) create(t *testing.T, taskIDs ...string) model.Session {
	t.Helper()
	s, err := f.ctrl.Create(context.Background(), CreateInput{StudentID: "stu1", TaskIDs: taskIDs})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func teacherCtx() context.Context {
	return model.ContextWithUser(context.Background(), &model.User{ID: "teach1", Role: model.UserRoleTeacher})
}

func TestCreateValidatesBeforeStore(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"no student", CreateInput{TaskIDs: []string{"t1"}}},
		{"no tasks", CreateInput{StudentID: "stu1"}},
		{"duplicate task", CreateInput{StudentID: "stu1", TaskIDs: []string{"t1", "t1"}}},
		{"adaptive without policy", CreateInput{StudentID: "stu1", TaskIDs: []string{"t1"}, SelectionStrategy: model.StrategyAdaptive}},
		{"unknown strategy", CreateInput{StudentID: "stu1", TaskIDs: []string{"t1"}, SelectionStrategy: "random"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.Create(context.Background(), tt.in)
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if f.store.calls != 0 {
				t.Errorf("expected no store calls, got %d", f.store.calls)
			}
		})
	}

	_, err := f.ctrl.Create(context.Background(), CreateInput{StudentID: "stu1", TaskIDs: []string{"t1", "t-unknown"}})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown task, got %v", err)
	}
}

func TestFixedOrderSessionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "t1", "t2", "t3")

	if s.Status != model.StatusInProgress || s.Version != 1 || s.SelectionStrategy != model.StrategyFixed {
		t.Fatalf("unexpected new session %+v", s)
	}
	next, err := f.ctrl.NextTask(ctx, s.ID)
	if err != nil || next != "t1" {
		t.Fatalf("NextTask = %q, %v", next, err)
	}

	res, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"})
	if err != nil {
		t.Fatalf("Submit t1: %v", err)
	}
	if res.NextTaskID != "t2" || res.Done {
		t.Errorf("expected next t2, got %+v", res)
	}
	if got := res.Session.Responses[0]; got.ScoredValue == nil || *got.ScoredValue != 1 || !got.Timestamp.Equal(f.clock.t) {
		t.Errorf("unexpected first response %+v", got)
	}

	res, err = f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t2", RawAnswer: "B"})
	if err != nil {
		t.Fatalf("Submit t2: %v", err)
	}
	if res.NextTaskID != "t3" {
		t.Errorf("expected next t3, got %q", res.NextTaskID)
	}
	if *res.Session.Responses[1].ScoredValue != 0 {
		t.Errorf("expected t2 to score 0")
	}

	res, err = f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t3", RubricLevel: "High"})
	if err != nil {
		t.Fatalf("Submit t3: %v", err)
	}
	if !res.Done || res.NextTaskID != "" {
		t.Errorf("expected done, got %+v", res)
	}
	if v := res.Session.Responses[2].ScoredValue; v == nil || *v != 3 {
		t.Errorf("expected rubric score 3, got %v", v)
	}

	done, err := f.ctrl.Finish(ctx, s.ID, FinishInput{})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "t1", "t3")

	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t2", RawAnswer: "A"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("foreign task: expected ErrValidation, got %v", err)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t3", RubricLevel: "Medium"}); !errors.Is(err, model.ErrInvalidLevel) {
		t.Errorf("bad level: expected ErrInvalidLevel, got %v", err)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "B"}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("duplicate: expected ErrInvalidState, got %v", err)
	}

	got, err := f.ctrl.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Responses) != 1 {
		t.Errorf("rejected submits must not append, got %d responses", len(got.Responses))
	}
}

func TestSubmitToArchivedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "t1", "t2")

	archived, err := f.ctrl.Archive(ctx, s.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if archived.Status != model.StatusArchived {
		t.Fatalf("expected archived, got %s", archived.Status)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	got, _ := f.ctrl.Get(ctx, s.ID)
	if len(got.Responses) != 0 {
		t.Errorf("expected no responses, got %d", len(got.Responses))
	}
	if _, err := f.ctrl.Archive(ctx, s.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("re-archive: expected ErrInvalidState, got %v", err)
	}
}

func studentCtx(id string) context.Context {
	return model.ContextWithUser(context.Background(), &model.User{ID: id, Role: model.UserRoleStudent})
}

func TestSubmitAfterDeadline(t *testing.T) {
	f := newFixture(t)
	end := f.clock.t.Add(time.Minute)
	s, err := f.ctrl.Create(context.Background(), CreateInput{StudentID: "stu1", TaskIDs: []string{"t1"}, EndTime: &end})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.clock.t = end.Add(time.Second)

	t.Run("student", func(t *testing.T) {
		ctx := studentCtx("stu1")
		if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); !errors.Is(err, model.ErrInvalidState) {
			t.Errorf("submit: expected ErrInvalidState, got %v", err)
		}
		if _, err := f.ctrl.Pause(ctx, s.ID); !errors.Is(err, model.ErrInvalidState) {
			t.Errorf("pause: expected ErrInvalidState, got %v", err)
		}
		if _, err := f.ctrl.Finish(ctx, s.ID, FinishInput{Early: true}); !errors.Is(err, model.ErrInvalidState) {
			t.Errorf("finish: expected ErrInvalidState, got %v", err)
		}
		if _, err := f.ctrl.Archive(ctx, s.ID); !errors.Is(err, model.ErrInvalidState) {
			t.Errorf("archive: expected ErrInvalidState, got %v", err)
		}
		next, err := f.ctrl.NextTask(ctx, s.ID)
		if err != nil || next != "" {
			t.Errorf("NextTask = %q, %v; want no task", next, err)
		}
	})

	t.Run("teacher", func(t *testing.T) {
		done, err := f.ctrl.Finish(teacherCtx(), s.ID, FinishInput{})
		if err != nil {
			t.Fatalf("Finish: %v", err)
		}
		if !done.AutoFinished || done.Status != model.StatusCompleted {
			t.Errorf("unexpected finished session %+v", done)
		}
		if _, err := f.ctrl.Archive(teacherCtx(), s.ID); err != nil {
			t.Errorf("Archive: %v", err)
		}
	})
}

func TestFinishPausedAfterDeadline(t *testing.T) {
	f := newFixture(t)
	stu := studentCtx("stu1")
	end := f.clock.t.Add(time.Minute)
	s, err := f.ctrl.Create(stu, CreateInput{StudentID: "stu1", TaskIDs: []string{"t1", "t2", "t3"}, EndTime: &end})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.ctrl.Submit(stu, s.ID, scoring.Input{TaskID: "t3", RawAnswer: "The argument is weak."}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.ctrl.Pause(stu, s.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.clock.t = end.Add(time.Second)

	if _, err := f.ctrl.Resume(stu, s.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("resume: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.ctrl.Finish(stu, s.ID, FinishInput{}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("student finish: expected ErrInvalidState, got %v", err)
	}

	done, err := f.ctrl.Finish(teacherCtx(), s.ID, FinishInput{})
	if err != nil {
		t.Fatalf("teacher Finish: %v", err)
	}
	if !done.AutoFinished || done.Status != model.StatusSubmitted {
		t.Fatalf("expected auto-finished submitted session, got %s (autoFinished=%v)", done.Status, done.AutoFinished)
	}
	if _, err := f.ctrl.Grade(teacherCtx(), s.ID, GradeInput{TaskID: "t3", RubricLevel: "Low"}); err != nil {
		t.Fatalf("Grade: %v", err)
	}
	reviewed, err := f.ctrl.FinalizeReview(teacherCtx(), s.ID)
	if err != nil || reviewed.Status != model.StatusReviewed {
		t.Errorf("FinalizeReview: %v %v", reviewed.Status, err)
	}
}

func TestFinishPausedExpiredWithoutUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := f.clock.t.Add(time.Minute)
	s, err := f.ctrl.Create(ctx, CreateInput{StudentID: "stu1", TaskIDs: []string{"t1", "t2"}, EndTime: &end})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.ctrl.Pause(ctx, s.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.clock.t = end.Add(time.Second)

	done, err := f.ctrl.Finish(ctx, s.ID, FinishInput{})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.create(t, "t1", "t2")
	paused, err := f.ctrl.Pause(ctx, s.ID)
	if err != nil || paused.Status != model.StatusPaused {
		t.Fatalf("Pause: %v %v", paused.Status, err)
	}
	if _, err := f.ctrl.Pause(ctx, s.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("double pause: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("submit while paused: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.ctrl.Finish(ctx, s.ID, FinishInput{Early: true}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("finish while paused: expected ErrInvalidState, got %v", err)
	}
	resumed, err := f.ctrl.Resume(ctx, s.ID)
	if err != nil || resumed.Status != model.StatusInProgress {
		t.Fatalf("Resume: %v %v", resumed.Status, err)
	}
	if _, err := f.ctrl.Resume(ctx, s.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("double resume: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.ctrl.Finish(ctx, s.ID, FinishInput{}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("finish with open tasks: expected ErrInvalidState, got %v", err)
	}
	if resumed.Version <= s.Version {
		t.Errorf("expected version to grow, %d -> %d", s.Version, resumed.Version)
	}
}

func TestReviewFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "t1", "t3")

	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); err != nil {
		t.Fatalf("Submit t1: %v", err)
	}
	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t3", RawAnswer: "The argument is weak."}); err != nil {
		t.Fatalf("Submit t3: %v", err)
	}
	finished, err := f.ctrl.Finish(ctx, s.ID, FinishInput{})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if finished.Status != model.StatusSubmitted {
		t.Fatalf("expected submitted with an ungraded essay, got %s", finished.Status)
	}

	if _, err := f.ctrl.FinalizeReview(ctx, s.ID); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("finalize without teacher: expected ErrForbidden, got %v", err)
	}
	if _, err := f.ctrl.Grade(teacherCtx(), s.ID, GradeInput{TaskID: "t3", RubricLevel: "Medium"}); !errors.Is(err, model.ErrInvalidLevel) {
		t.Errorf("grade with bad level: expected ErrInvalidLevel, got %v", err)
	}
	graded, err := f.ctrl.Grade(teacherCtx(), s.ID, GradeInput{TaskID: "t3", RubricLevel: "Low"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	r, _ := graded.ResponseFor("t3")
	if r.ScoredValue == nil || *r.ScoredValue != 1 || r.RubricLevel != "Low" {
		t.Errorf("unexpected graded response %+v", r)
	}
	if _, err := f.ctrl.Grade(teacherCtx(), s.ID, GradeInput{TaskID: "t3", ScoredValue: model.Float(3)}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("regrade: expected ErrInvalidState, got %v", err)
	}

	reviewed, err := f.ctrl.FinalizeReview(teacherCtx(), s.ID)
	if err != nil {
		t.Fatalf("FinalizeReview: %v", err)
	}
	if reviewed.Status != model.StatusReviewed {
		t.Errorf("expected reviewed, got %s", reviewed.Status)
	}
	if _, err := f.ctrl.FinalizeReview(teacherCtx(), s.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("second finalize: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.ctrl.Archive(ctx, s.ID); err != nil {
		t.Errorf("archive reviewed: %v", err)
	}
}

func TestFinishEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "t1", "t2")

	if _, err := f.ctrl.Submit(ctx, s.ID, scoring.Input{TaskID: "t1", RawAnswer: "A"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done, err := f.ctrl.Finish(ctx, s.ID, FinishInput{Early: true})
	if err != nil {
		t.Fatalf("Finish early: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	next, err := f.ctrl.NextTask(ctx, s.ID)
	if err != nil || next != "" {
		t.Errorf("completed session NextTask = %q, %v", next, err)
	}
}

func TestStudentOwnership(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "t1")
	other := model.ContextWithUser(context.Background(), &model.User{ID: "stu2", Role: model.UserRoleStudent})

	if _, err := f.ctrl.Get(other, s.ID); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.ctrl.ListActive(other, "stu1"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.ctrl.Get(teacherCtx(), s.ID); err != nil {
		t.Errorf("teacher Get: %v", err)
	}
}

func TestListActiveExcludesArchived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := f.create(t, "t1")
	gone := f.create(t, "t2")
	if _, err := f.ctrl.Archive(ctx, gone.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	active, err := f.ctrl.ListActive(ctx, "stu1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != keep.ID {
		t.Errorf("expected only %s, got %+v", keep.ID, active)
	}
}

func TestConcurrentWriterConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "t1", "t2")

	stale := s.Clone()
	if _, err := f.ctrl.Pause(ctx, s.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	stale.Status = model.StatusCompleted
	if _, err := f.raw.UpdateSession(ctx, stale); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestIsAllowedTransition(t *testing.T) {
	all := []model.SessionStatus{
		model.StatusInProgress, model.StatusPaused, model.StatusSubmitted,
		model.StatusCompleted, model.StatusReviewed, model.StatusArchived,
	}
	allowed := map[[2]model.SessionStatus]bool{
		{model.StatusInProgress, model.StatusPaused}:    true,
		{model.StatusInProgress, model.StatusSubmitted}: true,
		{model.StatusInProgress, model.StatusCompleted}: true,
		{model.StatusPaused, model.StatusInProgress}:    true,
		{model.StatusSubmitted, model.StatusReviewed}:   true,
	}
	for _, from := range all {
		if from != model.StatusArchived {
			allowed[[2]model.SessionStatus{from, model.StatusArchived}] = true
		}
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]model.SessionStatus{from, to}]
			if got := isAllowedTransition(from, to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}
