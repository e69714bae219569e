package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/ecd/internal/model"
)

// Repository is the single persistence boundary. Store implements it over either
// an in-memory or a SQLite backend; callers never see which one is active.
type Repository interface {
	ListCompetencies(ctx context.Context) ([]model.Competency, error)
	PutCompetency(ctx context.Context, c model.Competency) error

	GetEvidenceModel(ctx context.Context, id string) (model.EvidenceModel, error)
	ListEvidenceModels(ctx context.Context) ([]model.EvidenceModel, error)
	PutEvidenceModel(ctx context.Context, em model.EvidenceModel) error

	GetTaskModel(ctx context.Context, id string) (model.TaskModel, error)
	ListTaskModels(ctx context.Context) ([]model.TaskModel, error)
	PutTaskModel(ctx context.Context, tm model.TaskModel) error

	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	PutTask(ctx context.Context, t model.Task) error
	DeleteTask(ctx context.Context, id string) error

	GetQuestion(ctx context.Context, id string) (model.Question, error)
	ListQuestions(ctx context.Context) ([]model.Question, error)
	PutQuestion(ctx context.Context, q model.Question) error

	GetPolicy(ctx context.Context, id string) (model.Policy, error)
	ListPolicies(ctx context.Context) ([]model.Policy, error)
	PutPolicy(ctx context.Context, p model.Policy) error

	CreateSession(ctx context.Context, s model.Session) (model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error)
	UpdateSession(ctx context.Context, s model.Session) (model.Session, error)

	Close() error
}

// SessionFilter narrows ListSessions. Zero values mean no filtering on that field.
type SessionFilter struct {
	StudentID     string
	Status        model.SessionStatus
	ExcludeStatus model.SessionStatus
}

const (
	kindCompetency    = "competency"
	kindEvidenceModel = "evidence_model"
	kindTaskModel     = "task_model"
	kindTask          = "task"
	kindQuestion      = "question"
	kindPolicy        = "policy"
	kindUser          = "user"
	kindUsername      = "username"
	kindAuthSession   = "auth_session"
	kindImport        = "import"
)

// sessionRecord is the stored form of a session.
type sessionRecord struct {
	ID        string
	StudentID string
	Status    model.SessionStatus
	Version   int64
	Body      []byte
}

// backend is the storage primitive both implementations provide.
// getDoc and getSession return an error wrapping model.ErrNotFound when missing.
type backend interface {
	putDoc(ctx context.Context, kind, id string, body []byte) error
	getDoc(ctx context.Context, kind, id string) ([]byte, error)
	listDocs(ctx context.Context, kind string) ([][]byte, error)
	deleteDoc(ctx context.Context, kind, id string) error

	insertSession(ctx context.Context, rec sessionRecord) error
	getSession(ctx context.Context, id string) (sessionRecord, error)
	listSessions(ctx context.Context, f SessionFilter) ([]sessionRecord, error)
	// updateSession writes rec only if the stored version equals expect.
	updateSession(ctx context.Context, rec sessionRecord, expect int64) error

	close() error
}

// Store implements Repository.
type Store struct {
	b   backend
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and deadline expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func newStore(b backend, opts ...Option) *Store {
	s := &Store{b: b, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.b.close()
}

func putJSON(ctx context.Context, b backend, kind, id string, v any) error {
	if id == "" {
		return model.Validationf("%s id is required", kind)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return b.putDoc(ctx, kind, id, body)
}

func getJSON[T any](ctx context.Context, b backend, kind, id string) (T, error) {
	var v T
	body, err := b.getDoc(ctx, kind, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return v, nil
}

func listJSON[T any](ctx context.Context, b backend, kind string) ([]T, error) {
	bodies, err := b.listDocs(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(bodies))
	for _, body := range bodies {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ListCompetencies returns all competencies in insertion order.
func (s *Store) ListCompetencies(ctx context.Context) ([]model.Competency, error) {
	return listJSON[model.Competency](ctx, s.b, kindCompetency)
}

// PutCompetency creates or replaces a competency.
func (s *Store) PutCompetency(ctx context.Context, c model.Competency) error {
	return putJSON(ctx, s.b, kindCompetency, c.ID, c)
}

// GetEvidenceModel returns an evidence model by ID.
func (s *Store) GetEvidenceModel(ctx context.Context, id string) (model.EvidenceModel, error) {
	return getJSON[model.EvidenceModel](ctx, s.b, kindEvidenceModel, id)
}

// ListEvidenceModels returns all evidence models.
func (s *Store) ListEvidenceModels(ctx context.Context) ([]model.EvidenceModel, error) {
	return listJSON[model.EvidenceModel](ctx, s.b, kindEvidenceModel)
}

// PutEvidenceModel creates or replaces an evidence model.
func (s *Store) PutEvidenceModel(ctx context.Context, em model.EvidenceModel) error {
	return putJSON(ctx, s.b, kindEvidenceModel, em.ID, em)
}

// GetTaskModel returns a task model by ID.
func (s *Store) GetTaskModel(ctx context.Context, id string) (model.TaskModel, error) {
	return getJSON[model.TaskModel](ctx, s.b, kindTaskModel, id)
}

// ListTaskModels returns all task models.
func (s *Store) ListTaskModels(ctx context.Context) ([]model.TaskModel, error) {
	return listJSON[model.TaskModel](ctx, s.b, kindTaskModel)
}

// PutTaskModel creates or replaces a task model.
func (s *Store) PutTaskModel(ctx context.Context, tm model.TaskModel) error {
	return putJSON(ctx, s.b, kindTaskModel, tm.ID, tm)
}

// GetTask returns a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	return getJSON[model.Task](ctx, s.b, kindTask, id)
}

// ListTasks returns all tasks.
func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	return listJSON[model.Task](ctx, s.b, kindTask)
}

// PutTask stores a task. Tasks are immutable: replacing an existing task with
// different content is rejected.
func (s *Store) PutTask(ctx context.Context, t model.Task) error {
	existing, err := s.GetTask(ctx, t.ID)
	if err == nil {
		a, _ := json.Marshal(existing)
		b, _ := json.Marshal(t)
		if string(a) != string(b) {
			return model.Validationf("task %s is immutable", t.ID)
		}
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}
	return putJSON(ctx, s.b, kindTask, t.ID, t)
}

// DeleteTask removes a task. Session references are left to the caller.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.b.deleteDoc(ctx, kindTask, id)
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id string) (model.Question, error) {
	return getJSON[model.Question](ctx, s.b, kindQuestion, id)
}

// ListQuestions returns all questions.
func (s *Store) ListQuestions(ctx context.Context) ([]model.Question, error) {
	return listJSON[model.Question](ctx, s.b, kindQuestion)
}

// PutQuestion creates or replaces a question.
func (s *Store) PutQuestion(ctx context.Context, q model.Question) error {
	return putJSON(ctx, s.b, kindQuestion, q.ID, q)
}

// GetPolicy returns a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id string) (model.Policy, error) {
	return getJSON[model.Policy](ctx, s.b, kindPolicy, id)
}

// ListPolicies returns all policies.
func (s *Store) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	return listJSON[model.Policy](ctx, s.b, kindPolicy)
}

// PutPolicy creates or replaces a policy.
func (s *Store) PutPolicy(ctx context.Context, p model.Policy) error {
	return putJSON(ctx, s.b, kindPolicy, p.ID, p)
}
