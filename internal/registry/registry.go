// Package registry provides read-only access to evidence models, competencies,
// task models, tasks, questions and policies, and loads them from bundle files.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/ecd/internal/model"
)

// Source is the subset of the repository the registry reads from.
type Source interface {
	ListCompetencies(ctx context.Context) ([]model.Competency, error)
	GetEvidenceModel(ctx context.Context, id string) (model.EvidenceModel, error)
	ListEvidenceModels(ctx context.Context) ([]model.EvidenceModel, error)
	GetTaskModel(ctx context.Context, id string) (model.TaskModel, error)
	ListTaskModels(ctx context.Context) ([]model.TaskModel, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	GetQuestion(ctx context.Context, id string) (model.Question, error)
	ListQuestions(ctx context.Context) ([]model.Question, error)
	GetPolicy(ctx context.Context, id string) (model.Policy, error)
	ListPolicies(ctx context.Context) ([]model.Policy, error)
}

// Registry answers reference-data lookups for the session controller, scorer and reports.
type Registry struct {
	src Source
}

// New creates a Registry over src.
func New(src Source) *Registry {
	return &Registry{src: src}
}

func (r *Registry) Competencies(ctx context.Context) ([]model.Competency, error) {
	return r.src.ListCompetencies(ctx)
}

func (r *Registry) EvidenceModels(ctx context.Context) ([]model.EvidenceModel, error) {
	return r.src.ListEvidenceModels(ctx)
}

func (r *Registry) EvidenceModel(ctx context.Context, id string) (model.EvidenceModel, error) {
	return r.src.GetEvidenceModel(ctx, id)
}

func (r *Registry) TaskModels(ctx context.Context) ([]model.TaskModel, error) {
	return r.src.ListTaskModels(ctx)
}

func (r *Registry) TaskModel(ctx context.Context, id string) (model.TaskModel, error) {
	return r.src.GetTaskModel(ctx, id)
}

func (r *Registry) Task(ctx context.Context, id string) (model.Task, error) {
	return r.src.GetTask(ctx, id)
}

func (r *Registry) Questions(ctx context.Context) ([]model.Question, error) {
	return r.src.ListQuestions(ctx)
}

func (r *Registry) Question(ctx context.Context, id string) (model.Question, error) {
	return r.src.GetQuestion(ctx, id)
}

func (r *Registry) Policies(ctx context.Context) ([]model.Policy, error) {
	return r.src.ListPolicies(ctx)
}

func (r *Registry) Policy(ctx context.Context, id string) (model.Policy, error) {
	return r.src.GetPolicy(ctx, id)
}

// Tasks returns the tasks with the given ids, in order, skipping missing ones.
func (r *Registry) Tasks(ctx context.Context, ids []string) ([]model.Task, error) {
	tasks := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.src.GetTask(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			slog.Warn("task missing from catalog", "task_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get task %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// EvidenceModelForObservation finds the evidence model among ids that owns observationID.
func (r *Registry) EvidenceModelForObservation(ctx context.Context, ids []string, observationID string) (model.EvidenceModel, error) {
	for _, id := range ids {
		em, err := r.src.GetEvidenceModel(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return model.EvidenceModel{}, err
		}
		if _, ok := em.Observation(observationID); ok {
			return em, nil
		}
	}
	return model.EvidenceModel{}, model.NotFoundf("no evidence model owns observation %s", observationID)
}

// TaskView is a task enriched for display. Fields that could not be resolved hold
// the raw identifier and are listed in Missing.
type TaskView struct {
	TaskID        string   `json:"taskId"`
	TaskModelID   string   `json:"taskModelId"`
	TaskModelName string   `json:"taskModelName"`
	QuestionID    string   `json:"questionId,omitempty"`
	QuestionStem  string   `json:"questionStem,omitempty"`
	QuestionType  string   `json:"questionType,omitempty"`
	Missing       []string `json:"missing,omitempty"`
}

// EnrichTask resolves a task's template and question. Lookup failures degrade to
// raw ids; only non-NotFound store errors are returned.
func (r *Registry) EnrichTask(ctx context.Context, taskID string) (TaskView, error) {
	v := TaskView{TaskID: taskID, TaskModelName: taskID}
	t, err := r.src.GetTask(ctx, taskID)
	if errors.Is(err, model.ErrNotFound) {
		v.Missing = append(v.Missing, "task")
		return v, nil
	}
	if err != nil {
		return v, err
	}
	v.TaskModelID, v.TaskModelName = t.TaskModelID, t.TaskModelID
	v.QuestionID, v.QuestionStem = t.QuestionID, t.QuestionID

	tm, err := r.src.GetTaskModel(ctx, t.TaskModelID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		v.Missing = append(v.Missing, "taskModel")
	case err != nil:
		return v, err
	default:
		v.TaskModelName = tm.Name
	}

	if t.QuestionID == "" {
		return v, nil
	}
	q, err := r.src.GetQuestion(ctx, t.QuestionID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		v.Missing = append(v.Missing, "question")
	case err != nil:
		return v, err
	default:
		v.QuestionStem = q.Stem
		v.QuestionType = string(q.Type)
	}
	return v, nil
}
