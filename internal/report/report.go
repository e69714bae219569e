// Package report aggregates session evidence into per-competency scores and
// builds the session, learner and teacher reports.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/registry"
	"github.com/pavelanni/ecd/internal/store"
)

// Catalog is the reference data reports read.
type Catalog interface {
	Competencies(ctx context.Context) ([]model.Competency, error)
	Task(ctx context.Context, id string) (model.Task, error)
	TaskModel(ctx context.Context, id string) (model.TaskModel, error)
	Question(ctx context.Context, id string) (model.Question, error)
	EvidenceModelForObservation(ctx context.Context, ids []string, observationID string) (model.EvidenceModel, error)
	EnrichTask(ctx context.Context, taskID string) (registry.TaskView, error)
}

// Sessions reads sessions.
type Sessions interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context, f store.SessionFilter) ([]model.Session, error)
}

// Engine builds reports.
type Engine struct {
	catalog  Catalog
	sessions Sessions
	now      func() time.Time
}

// New creates an Engine.
func New(catalog Catalog, sessions Sessions) *Engine {
	return &Engine{catalog: catalog, sessions: sessions, now: time.Now}
}

// attributed is a response resolved to its evidence model and competency.
type attributed struct {
	response     model.Response
	em           model.EvidenceModel
	competencyID string
}

// resolver caches task and task model lookups for one report.
type resolver struct {
	cat        Catalog
	tasks      map[string]*model.Task
	taskModels map[string]*model.TaskModel
}

func newResolver(cat Catalog) *resolver {
	return &resolver{
		cat:        cat,
		tasks:      make(map[string]*model.Task),
		taskModels: make(map[string]*model.TaskModel),
	}
}

func (r *resolver) task(ctx context.Context, id string) (*model.Task, error) {
	if t, ok := r.tasks[id]; ok {
		return t, nil
	}
	t, err := r.cat.Task(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		r.tasks[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.tasks[id] = &t
	return &t, nil
}

func (r *resolver) taskModel(ctx context.Context, id string) (*model.TaskModel, error) {
	if tm, ok := r.taskModels[id]; ok {
		return tm, nil
	}
	tm, err := r.cat.TaskModel(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		r.taskModels[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.taskModels[id] = &tm
	return &tm, nil
}

// attribute finds the evidence model and competency a response credits. ok is
// false when any link is missing; such responses are reported but never scored.
func (r *resolver) attribute(ctx context.Context, resp model.Response) (attributed, bool, error) {
	a := attributed{response: resp}
	if resp.ObservationID == "" {
		return a, false, nil
	}
	t, err := r.task(ctx, resp.TaskID)
	if err != nil || t == nil {
		return a, false, err
	}
	tm, err := r.taskModel(ctx, t.TaskModelID)
	if err != nil || tm == nil {
		return a, false, err
	}
	em, err := r.cat.EvidenceModelForObservation(ctx, tm.EvidenceModelIDs, resp.ObservationID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("response observation not in task model's evidence models",
			"task_id", resp.TaskID, "observation_id", resp.ObservationID)
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	a.em = em
	obs, _ := em.Observation(resp.ObservationID)
	if c, ok := em.Construct(obs.ConstructID); ok {
		a.competencyID = c.CompetencyID
	}
	return a, true, nil
}

func (r *resolver) contributions(ctx context.Context, responses []model.Response) ([]Contribution, []attributed, error) {
	var contribs []Contribution
	var all []attributed
	for _, resp := range responses {
		a, ok, err := r.attribute(ctx, resp)
		if err != nil {
			return nil, nil, fmt.Errorf("attribute response to task %s: %w", resp.TaskID, err)
		}
		all = append(all, a)
		if !ok || !resp.Scored() || a.competencyID == "" {
			continue
		}
		top := 1.0
		if resp.IsRubric {
			top = rubricMax(a.em, resp.ObservationID)
		}
		contribs = append(contribs, Contribution{
			CompetencyID: a.competencyID,
			Value:        *resp.ScoredValue,
			Max:          top,
			IsRubric:     resp.IsRubric,
		})
	}
	return contribs, all, nil
}

// Competencies aggregates the given responses over every registry competency.
func (e *Engine) Competencies(ctx context.Context, responses []model.Response) ([]model.CompetencyScore, error) {
	comps, err := e.catalog.Competencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list competencies: %w", err)
	}
	contribs, _, err := newResolver(e.catalog).contributions(ctx, responses)
	if err != nil {
		return nil, err
	}
	return Aggregate(comps, contribs), nil
}

// ResponseView is a response with its task resolved for display.
type ResponseView struct {
	model.Response
	Task         registry.TaskView `json:"task"`
	CompetencyID string            `json:"competencyId,omitempty"`
}

// SessionReport is the full result of one session.
type SessionReport struct {
	SessionID      string                  `json:"sessionId"`
	StudentID      string                  `json:"studentId"`
	Status         model.SessionStatus     `json:"status"`
	AutoFinished   bool                    `json:"autoFinished"`
	TotalTasks     int                     `json:"totalTasks"`
	Responses      []ResponseView          `json:"responses"`
	Competencies   []model.CompetencyScore `json:"competencies"`
	Evidence       []EvidenceScore         `json:"evidence"`
	PendingGrading []string                `json:"pendingGrading"`
	GeneratedAt    time.Time               `json:"generatedAt"`
}

// Session builds the report of one session.
func (e *Engine) Session(ctx context.Context, sessionID string) (SessionReport, error) {
	s, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	return e.build(ctx, s)
}

func (e *Engine) build(ctx context.Context, s model.Session) (SessionReport, error) {
	comps, err := e.catalog.Competencies(ctx)
	if err != nil {
		return SessionReport{}, fmt.Errorf("list competencies: %w", err)
	}
	contribs, all, err := newResolver(e.catalog).contributions(ctx, s.Responses)
	if err != nil {
		return SessionReport{}, err
	}

	rep := SessionReport{
		SessionID:      s.ID,
		StudentID:      s.StudentID,
		Status:         s.Status,
		AutoFinished:   s.AutoFinished,
		TotalTasks:     len(s.TaskIDs),
		Responses:      make([]ResponseView, 0, len(all)),
		Competencies:   Aggregate(comps, contribs),
		PendingGrading: []string{},
		GeneratedAt:    e.now(),
	}

	byModel := make(map[string][]model.Response)
	var order []model.EvidenceModel
	for _, a := range all {
		view, err := e.catalog.EnrichTask(ctx, a.response.TaskID)
		if err != nil {
			return SessionReport{}, fmt.Errorf("enrich task %s: %w", a.response.TaskID, err)
		}
		rep.Responses = append(rep.Responses, ResponseView{Response: a.response, Task: view, CompetencyID: a.competencyID})
		if !a.response.Scored() {
			rep.PendingGrading = append(rep.PendingGrading, a.response.TaskID)
		}
		if a.em.ID == "" {
			continue
		}
		if _, seen := byModel[a.em.ID]; !seen {
			order = append(order, a.em)
		}
		byModel[a.em.ID] = append(byModel[a.em.ID], a.response)
	}
	for _, em := range order {
		rep.Evidence = append(rep.Evidence, Measure(em, byModel[em.ID]))
	}
	return rep, nil
}

// PendingItem is a response waiting for a reviewer.
type PendingItem struct {
	SessionID  string `json:"sessionId"`
	TaskID     string `json:"taskId"`
	QuestionID string `json:"questionId,omitempty"`
	RawAnswer  string `json:"rawAnswer,omitempty"`
}

// SessionSummary is one row of the teacher report.
type SessionSummary struct {
	SessionID    string              `json:"sessionId"`
	Status       model.SessionStatus `json:"status"`
	AutoFinished bool                `json:"autoFinished"`
	StartedAt    time.Time           `json:"startedAt"`
	Answered     int                 `json:"answered"`
	Total        int                 `json:"total"`
}

// TeacherReport summarizes every non-archived session of a student.
type TeacherReport struct {
	StudentID    string                  `json:"studentId"`
	Sessions     []SessionSummary        `json:"sessions"`
	Competencies []model.CompetencyScore `json:"competencies"`
	Pending      []PendingItem           `json:"pending"`
	GeneratedAt  time.Time               `json:"generatedAt"`
}

// Teacher builds the teacher report for a student.
func (e *Engine) Teacher(ctx context.Context, studentID string) (TeacherReport, error) {
	if studentID == "" {
		return TeacherReport{}, model.Validationf("studentId is required")
	}
	sessions, err := e.sessions.ListSessions(ctx, store.SessionFilter{
		StudentID:     studentID,
		ExcludeStatus: model.StatusArchived,
	})
	if err != nil {
		return TeacherReport{}, fmt.Errorf("list sessions: %w", err)
	}
	comps, err := e.catalog.Competencies(ctx)
	if err != nil {
		return TeacherReport{}, fmt.Errorf("list competencies: %w", err)
	}

	rep := TeacherReport{
		StudentID:   studentID,
		Sessions:    make([]SessionSummary, 0, len(sessions)),
		Pending:     []PendingItem{},
		GeneratedAt: e.now(),
	}
	res := newResolver(e.catalog)
	var contribs []Contribution
	for _, s := range sessions {
		c, _, err := res.contributions(ctx, s.Responses)
		if err != nil {
			return TeacherReport{}, err
		}
		contribs = append(contribs, c...)
		rep.Sessions = append(rep.Sessions, SessionSummary{
			SessionID:    s.ID,
			Status:       s.Status,
			AutoFinished: s.AutoFinished,
			StartedAt:    s.StartedAt,
			Answered:     len(s.Responses),
			Total:        len(s.TaskIDs),
		})
		for _, r := range s.Responses {
			if !r.Scored() {
				rep.Pending = append(rep.Pending, PendingItem{
					SessionID:  s.ID,
					TaskID:     r.TaskID,
					QuestionID: r.QuestionID,
					RawAnswer:  r.RawAnswer,
				})
			}
		}
	}
	rep.Competencies = Aggregate(comps, contribs)
	return rep, nil
}
