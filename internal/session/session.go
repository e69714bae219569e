// Package session implements the session state machine: create, submit,
// pause and resume, finish, review, grade and archive.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/policy"
	"github.com/pavelanni/ecd/internal/scoring"
	"github.com/pavelanni/ecd/internal/store"
)

// Store is the persistence the controller needs.
type Store interface {
	CreateSession(ctx context.Context, s model.Session) (model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context, f store.SessionFilter) ([]model.Session, error)
	UpdateSession(ctx context.Context, s model.Session) (model.Session, error)
}

// Catalog resolves tasks.
type Catalog interface {
	Task(ctx context.Context, id string) (model.Task, error)
}

// Controller owns every session mutation. Each mutation writes with the version
// it read and returns the store's copy, never the local one.
type Controller struct {
	store    Store
	catalog  Catalog
	scorer   *scoring.Scorer
	selector policy.Selector
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller.
func NewController(st Store, catalog Catalog, scorer *scoring.Scorer, selector policy.Selector, opts ...Option) *Controller {
	c := &Controller{
		store:    st,
		catalog:  catalog,
		scorer:   scorer,
		selector: selector,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateInput describes a new session.
type CreateInput struct {
	StudentID         string                  `json:"studentId"`
	TaskIDs           []string                `json:"taskIds"`
	SelectionStrategy model.SelectionStrategy `json:"selectionStrategy,omitempty"`
	PolicyID          string                  `json:"policyId,omitempty"`
	EndTime           *time.Time              `json:"endTime,omitempty"`
}

// Validate checks the input without touching the store.
func (in CreateInput) Validate() error {
	if in.StudentID == "" {
		return model.Validationf("studentId is required")
	}
	if len(in.TaskIDs) == 0 {
		return model.Validationf("taskIds must not be empty")
	}
	seen := make(map[string]bool, len(in.TaskIDs))
	for _, id := range in.TaskIDs {
		if id == "" {
			return model.Validationf("taskIds must not contain empty ids")
		}
		if seen[id] {
			return model.Validationf("task %s listed twice", id)
		}
		seen[id] = true
	}
	switch in.SelectionStrategy {
	case "", model.StrategyFixed:
	case model.StrategyAdaptive:
		if in.PolicyID == "" {
			return model.Validationf("adaptive sessions require policyId")
		}
	default:
		return model.Validationf("unknown selection strategy %q", in.SelectionStrategy)
	}
	return nil
}

// Create starts a session in progress.
func (c *Controller) Create(ctx context.Context, in CreateInput) (model.Session, error) {
	if err := in.Validate(); err != nil {
		return model.Session{}, err
	}
	if u := model.UserFromContext(ctx); u != nil && !u.Role.CanReview() && u.ID != in.StudentID {
		return model.Session{}, model.Forbiddenf("students may only start their own sessions")
	}
	for _, id := range in.TaskIDs {
		if _, err := c.catalog.Task(ctx, id); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.Session{}, model.Validationf("unknown task %s", id)
			}
			return model.Session{}, fmt.Errorf("get task %s: %w", id, err)
		}
	}
	strategy := in.SelectionStrategy
	if strategy == "" {
		strategy = model.StrategyFixed
	}
	return c.store.CreateSession(ctx, model.Session{
		StudentID:         in.StudentID,
		TaskIDs:           append([]string(nil), in.TaskIDs...),
		SelectionStrategy: strategy,
		NextTaskPolicy:    model.NextTaskPolicy{PolicyID: in.PolicyID},
		Status:            model.StatusInProgress,
		EndTime:           in.EndTime,
	})
}

// Get returns a session the caller may see.
func (c *Controller) Get(ctx context.Context, id string) (model.Session, error) {
	return c.load(ctx, id)
}

// ListActive returns the student's sessions that are not archived, newest first.
func (c *Controller) ListActive(ctx context.Context, studentID string) ([]model.Session, error) {
	if studentID == "" {
		return nil, model.Validationf("studentId is required")
	}
	if u := model.UserFromContext(ctx); u != nil && !u.Role.CanReview() && u.ID != studentID {
		return nil, model.Forbiddenf("students may only list their own sessions")
	}
	return c.store.ListSessions(ctx, store.SessionFilter{
		StudentID:     studentID,
		ExcludeStatus: model.StatusArchived,
	})
}

// SubmitResult is the stored session after a submit plus the next task, if any.
type SubmitResult struct {
	Session    model.Session `json:"session"`
	NextTaskID string        `json:"nextTaskId,omitempty"`
	Done       bool          `json:"done"`
}

// Submit scores and records one response.
func (c *Controller) Submit(ctx context.Context, id string, in scoring.Input) (SubmitResult, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := studentWritable(s); err != nil {
		return SubmitResult{}, err
	}
	if s.Status != model.StatusInProgress {
		return SubmitResult{}, model.InvalidStatef("cannot submit to a %s session", s.Status)
	}
	if in.TaskID == "" {
		return SubmitResult{}, model.Validationf("taskId is required")
	}
	if !s.HasTask(in.TaskID) {
		return SubmitResult{}, model.Validationf("task %s is not part of session %s", in.TaskID, s.ID)
	}
	if _, dup := s.ResponseFor(in.TaskID); dup {
		return SubmitResult{}, model.InvalidStatef("task %s already answered", in.TaskID)
	}

	task, err := c.catalog.Task(ctx, in.TaskID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("task missing at submit, recording unscored response", "session_id", s.ID, "task_id", in.TaskID)
		task = model.Task{ID: in.TaskID}
	} else if err != nil {
		return SubmitResult{}, fmt.Errorf("get task %s: %w", in.TaskID, err)
	}

	resp, err := c.scorer.Score(ctx, task, in)
	if err != nil {
		return SubmitResult{}, err
	}
	resp.Timestamp = c.now()

	next := s.Clone()
	next.Responses = append(next.Responses, resp)
	stored, err := c.store.UpdateSession(ctx, next)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("save response: %w", err)
	}
	slog.Debug("response recorded", "session_id", s.ID, "task_id", in.TaskID, "scored", resp.Scored())

	res := SubmitResult{Session: stored}
	res.NextTaskID, _ = c.selector.Next(ctx, stored)
	res.Done = res.NextTaskID == ""
	return res, nil
}

// NextTask returns the next task id, or "" when none remains or the session
// ran out of time. It does not change the session.
func (c *Controller) NextTask(ctx context.Context, id string) (string, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return "", err
	}
	if s.IsTerminal() {
		return "", model.InvalidStatef("session %s is archived", s.ID)
	}
	if s.AutoFinished || (s.Status != model.StatusInProgress && s.Status != model.StatusPaused) {
		return "", nil
	}
	next, _ := c.selector.Next(ctx, s)
	return next, nil
}

// Pause moves an in-progress session to paused.
func (c *Controller) Pause(ctx context.Context, id string) (model.Session, error) {
	return c.transition(ctx, id, model.StatusPaused, studentWritable)
}

// Resume moves a paused session back to in-progress.
func (c *Controller) Resume(ctx context.Context, id string) (model.Session, error) {
	return c.transition(ctx, id, model.StatusInProgress, studentWritable)
}

// FinishInput controls Finish.
type FinishInput struct {
	Early bool `json:"early"`
}

// Finish ends delivery. The session becomes submitted when any response still
// needs manual grading and completed otherwise. Without Early it is only
// allowed once the selector has nothing left. Once a session has run out of
// time only reviewers and system callers may finish it, from in-progress or
// paused.
func (c *Controller) Finish(ctx context.Context, id string, in FinishInput) (model.Session, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if err := closedToStudents(ctx)(s); err != nil {
		return model.Session{}, err
	}
	if s.AutoFinished && s.Status == model.StatusPaused {
		// Expired while paused: finish as if resumed.
		s.Status = model.StatusInProgress
	}
	if s.Status != model.StatusInProgress {
		return model.Session{}, model.InvalidStatef("cannot finish a %s session", s.Status)
	}
	if !in.Early && !s.AutoFinished {
		if next, ok := c.selector.Next(ctx, s); ok {
			return model.Session{}, model.InvalidStatef("task %s is still open; finish early to skip it", next)
		}
	}
	to := model.StatusCompleted
	if AwaitingGrading(s) {
		to = model.StatusSubmitted
	}
	return c.save(ctx, s, to)
}

// FinalizeReview marks a submitted session reviewed. Reviewer only.
func (c *Controller) FinalizeReview(ctx context.Context, id string) (model.Session, error) {
	if err := requireReviewer(ctx); err != nil {
		return model.Session{}, err
	}
	return c.transition(ctx, id, model.StatusReviewed, nil)
}

// Archive closes the session for good. Students cannot archive a session
// that ran out of time.
func (c *Controller) Archive(ctx context.Context, id string) (model.Session, error) {
	return c.transition(ctx, id, model.StatusArchived, closedToStudents(ctx))
}

// GradeInput is a reviewer's score for an unscored response. Exactly one of
// ScoredValue and RubricLevel must be set.
type GradeInput struct {
	TaskID      string   `json:"taskId"`
	ScoredValue *float64 `json:"scoredValue,omitempty"`
	RubricLevel string   `json:"rubricLevel,omitempty"`
}

// Grade fills in the score of a response awaiting manual grading. Only
// submitted sessions accept grades and a score is never overwritten.
func (c *Controller) Grade(ctx context.Context, id string, in GradeInput) (model.Session, error) {
	if err := requireReviewer(ctx); err != nil {
		return model.Session{}, err
	}
	if (in.ScoredValue == nil) == (in.RubricLevel == "") {
		return model.Session{}, model.Validationf("exactly one of scoredValue and rubricLevel is required")
	}
	s, err := c.load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if s.Status != model.StatusSubmitted {
		return model.Session{}, model.InvalidStatef("cannot grade a %s session", s.Status)
	}
	idx := -1
	for i, r := range s.Responses {
		if r.TaskID == in.TaskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Session{}, model.Validationf("session %s has no response for task %s", s.ID, in.TaskID)
	}
	if s.Responses[idx].Scored() {
		return model.Session{}, model.InvalidStatef("response for task %s is already scored", in.TaskID)
	}

	next := s.Clone()
	r := &next.Responses[idx]
	if in.RubricLevel != "" {
		task, err := c.catalog.Task(ctx, in.TaskID)
		if err != nil {
			return model.Session{}, fmt.Errorf("get task %s: %w", in.TaskID, err)
		}
		v, err := c.scorer.ScoreLevel(ctx, task, r.QuestionID, in.RubricLevel)
		if err != nil {
			return model.Session{}, err
		}
		r.ScoredValue = model.Float(v)
		r.RubricLevel = in.RubricLevel
		r.IsRubric = true
	} else {
		r.ScoredValue = model.Float(*in.ScoredValue)
	}
	stored, err := c.store.UpdateSession(ctx, next)
	if err != nil {
		return model.Session{}, fmt.Errorf("save grade: %w", err)
	}
	slog.Info("response graded", "session_id", s.ID, "task_id", in.TaskID)
	return stored, nil
}

// AwaitingGrading reports whether any recorded response has no score.
func AwaitingGrading(s model.Session) bool {
	for _, r := range s.Responses {
		if !r.Scored() {
			return true
		}
	}
	return false
}

func (c *Controller) transition(ctx context.Context, id string, to model.SessionStatus, guard func(model.Session) error) (model.Session, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if guard != nil {
		if err := guard(s); err != nil {
			return model.Session{}, err
		}
	}
	return c.save(ctx, s, to)
}

func (c *Controller) save(ctx context.Context, s model.Session, to model.SessionStatus) (model.Session, error) {
	if !isAllowedTransition(s.Status, to) {
		return model.Session{}, model.InvalidStatef("cannot move session %s from %s to %s", s.ID, s.Status, to)
	}
	next := s.Clone()
	next.Status = to
	stored, err := c.store.UpdateSession(ctx, next)
	if err != nil {
		return model.Session{}, fmt.Errorf("save session %s: %w", s.ID, err)
	}
	slog.Info("session status changed", "session_id", s.ID, "from", s.Status, "to", to)
	return stored, nil
}

// load reads the session and checks the caller may act on it.
func (c *Controller) load(ctx context.Context, id string) (model.Session, error) {
	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if u := model.UserFromContext(ctx); u != nil && !u.Role.CanReview() && u.ID != s.StudentID {
		return model.Session{}, model.Forbiddenf("session %s belongs to another student", id)
	}
	return s, nil
}

func isAllowedTransition(from, to model.SessionStatus) bool {
	if to == model.StatusArchived {
		return from != model.StatusArchived
	}
	switch from {
	case model.StatusInProgress:
		return to == model.StatusPaused || to == model.StatusSubmitted || to == model.StatusCompleted
	case model.StatusPaused:
		return to == model.StatusInProgress
	case model.StatusSubmitted:
		return to == model.StatusReviewed
	default:
		return false
	}
}

func studentWritable(s model.Session) error {
	if s.AutoFinished {
		return model.InvalidStatef("session %s ran out of time", s.ID)
	}
	return nil
}

// closedToStudents refuses student callers once the session ran out of time.
// Reviewers and callers without a user are let through.
func closedToStudents(ctx context.Context) func(model.Session) error {
	return func(s model.Session) error {
		if u := model.UserFromContext(ctx); u != nil && !u.Role.CanReview() {
			return studentWritable(s)
		}
		return nil
	}
}

func requireReviewer(ctx context.Context) error {
	u := model.UserFromContext(ctx)
	if u == nil || !u.Role.CanReview() {
		return model.Forbiddenf("teacher role required")
	}
	return nil
}
