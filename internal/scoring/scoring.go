// Package scoring turns raw answers into scored values and attributes them to
// the evidence-model observation named by the task model's item mappings.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/ecd/internal/model"
)

// Lookup is the reference data the scorer needs.
type Lookup interface {
	TaskModel(ctx context.Context, id string) (model.TaskModel, error)
	Question(ctx context.Context, id string) (model.Question, error)
	EvidenceModelForObservation(ctx context.Context, ids []string, observationID string) (model.EvidenceModel, error)
}

// Input is a raw answer as submitted.
type Input struct {
	TaskID        string `json:"taskId"`
	QuestionID    string `json:"questionId,omitempty"`
	RawAnswer     string `json:"rawAnswer,omitempty"`
	RubricLevel   string `json:"rubricLevel,omitempty"`
	ObservationID string `json:"observationId,omitempty"`
	EvidenceID    string `json:"evidenceId,omitempty"`
}

// Attribution names where a response's evidence goes.
type Attribution struct {
	TaskModelID     string
	EvidenceModelID string
	ObservationID   string
	EvidenceID      string
	ConstructID     string
}

// Scorer scores responses.
type Scorer struct {
	lookup Lookup
}

// New creates a Scorer.
func New(l Lookup) *Scorer {
	return &Scorer{lookup: l}
}

// Score computes the response for in against task. The returned response has no
// timestamp. Rubric levels outside the linked rubric yield model.ErrInvalidLevel;
// missing reference data degrades to an unscored response that keeps the raw answer.
func (s *Scorer) Score(ctx context.Context, task model.Task, in Input) (model.Response, error) {
	questionID, err := resolveQuestionID(task, in)
	if err != nil {
		return model.Response{}, err
	}
	resp := model.Response{
		TaskID:     task.ID,
		QuestionID: questionID,
		RawAnswer:  in.RawAnswer,
	}

	attr, em, err := s.attribute(ctx, task, questionID, in)
	if err != nil {
		return model.Response{}, err
	}
	resp.ObservationID = attr.ObservationID
	resp.EvidenceID = attr.EvidenceID

	if questionID == "" {
		return resp, nil
	}
	q, err := s.lookup.Question(ctx, questionID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("question missing, keeping raw answer for manual grading", "task_id", task.ID, "question_id", questionID)
		return resp, nil
	}
	if err != nil {
		return model.Response{}, fmt.Errorf("get question %s: %w", questionID, err)
	}
	if q.Type == model.QuestionReading {
		return model.Response{}, model.Validationf("question %s is a reading passage; answer its sub-question tasks", q.ID)
	}

	if usesRubric(q, em, attr, in) {
		if in.RubricLevel == "" {
			// Level chosen later by a reviewer.
			resp.IsRubric = true
			return resp, nil
		}
		v, err := RubricScore(em, attr.ObservationID, in.RubricLevel)
		if err != nil {
			return model.Response{}, err
		}
		resp.ScoredValue = model.Float(v)
		resp.RubricLevel = in.RubricLevel
		resp.IsRubric = true
		return resp, nil
	}

	switch q.Type {
	case model.QuestionMCQ:
		resp.ScoredValue = model.Float(scoreMCQ(q, in.RawAnswer))
	case model.QuestionMSQ:
		resp.ScoredValue = model.Float(scoreMSQ(q, in.RawAnswer))
	case model.QuestionNumeric:
		if v, ok := scoreNumeric(q, in.RawAnswer); ok {
			resp.ScoredValue = model.Float(v)
		}
	}
	return resp, nil
}

// resolveQuestionID returns the question task delivers. Each sub-question of a
// reading passage is delivered by its own task, so a task only answers its own question.
func resolveQuestionID(task model.Task, in Input) (string, error) {
	if in.QuestionID == "" || in.QuestionID == task.QuestionID {
		return task.QuestionID, nil
	}
	if task.QuestionID == "" {
		return "", model.Validationf("task %s has no question; got %s", task.ID, in.QuestionID)
	}
	return "", model.Validationf("task %s delivers %s, not %s", task.ID, task.QuestionID, in.QuestionID)
}

// Attribute resolves the (observation, evidence) pair and owning construct for a
// question delivered by task.
func (s *Scorer) Attribute(ctx context.Context, task model.Task, questionID string) (Attribution, error) {
	a, _, err := s.attribute(ctx, task, questionID, Input{})
	return a, err
}

// ScoreLevel scores a rubric level chosen for questionID after submission.
func (s *Scorer) ScoreLevel(ctx context.Context, task model.Task, questionID, level string) (float64, error) {
	attr, em, err := s.attribute(ctx, task, questionID, Input{})
	if err != nil {
		return 0, err
	}
	return RubricScore(em, attr.ObservationID, level)
}

// attribute uses the task model's item mapping for questionID. Caller-supplied
// observation/evidence ids are only consulted when the task model has no
// mapping for the question, and must then be one of its expected observations.
func (s *Scorer) attribute(ctx context.Context, task model.Task, questionID string, in Input) (Attribution, model.EvidenceModel, error) {
	attr := Attribution{TaskModelID: task.TaskModelID}
	tm, err := s.lookup.TaskModel(ctx, task.TaskModelID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("task model missing, response left unattributed", "task_id", task.ID, "task_model_id", task.TaskModelID)
		return attr, model.EvidenceModel{}, nil
	}
	if err != nil {
		return attr, model.EvidenceModel{}, fmt.Errorf("get task model %s: %w", task.TaskModelID, err)
	}

	if m, ok := tm.MappingFor(questionID); ok {
		attr.ObservationID, attr.EvidenceID = m.ObservationID, m.EvidenceID
	} else if in.ObservationID != "" {
		want := model.ExpectedObservation{ObservationID: in.ObservationID, EvidenceID: in.EvidenceID}
		found := false
		for _, eo := range tm.ExpectedObservations {
			if eo == want {
				found = true
				break
			}
		}
		if !found {
			return attr, model.EvidenceModel{}, model.Validationf("observation (%s, %s) is not expected by task model %s",
				in.ObservationID, in.EvidenceID, tm.ID)
		}
		attr.ObservationID, attr.EvidenceID = in.ObservationID, in.EvidenceID
	} else {
		return attr, model.EvidenceModel{}, nil
	}

	em, err := s.lookup.EvidenceModelForObservation(ctx, tm.EvidenceModelIDs, attr.ObservationID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("observation not found in task model's evidence models", "task_model_id", tm.ID, "observation_id", attr.ObservationID)
		return attr, model.EvidenceModel{}, nil
	}
	if err != nil {
		return attr, model.EvidenceModel{}, err
	}
	attr.EvidenceModelID = em.ID
	if o, ok := em.Observation(attr.ObservationID); ok {
		attr.ConstructID = o.ConstructID
	}
	return attr, em, nil
}

func usesRubric(q model.Question, em model.EvidenceModel, attr Attribution, in Input) bool {
	if q.Type == model.QuestionRubric {
		return true
	}
	if in.RubricLevel == "" || attr.ObservationID == "" {
		return false
	}
	o, ok := em.Observation(attr.ObservationID)
	return ok && o.Scoring == model.ScoringRubric
}

// RubricScore returns the score of level in the rubric linked to observationID.
func RubricScore(em model.EvidenceModel, observationID, level string) (float64, error) {
	r, ok := em.RubricFor(observationID)
	if !ok {
		return 0, model.InvalidLevelf("no rubric is linked to observation %q", observationID)
	}
	l, ok := r.Level(level)
	if !ok {
		return 0, model.InvalidLevelf("level %q is not part of rubric %s", level, r.ID)
	}
	return l.Score, nil
}

func scoreMCQ(q model.Question, raw string) float64 {
	if strings.TrimSpace(raw) == q.CorrectOptionID {
		return 1
	}
	return 0
}

// scoreMSQ is all-or-nothing: the selected set must equal the correct set.
func scoreMSQ(q model.Question, raw string) float64 {
	got := splitIDs(raw)
	want := append([]string(nil), q.CorrectOptionIDs...)
	sort.Strings(want)
	if len(got) != len(want) {
		return 0
	}
	for i := range got {
		if got[i] != want[i] {
			return 0
		}
	}
	return 1
}

func splitIDs(raw string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ids = append(ids, p)
	}
	sort.Strings(ids)
	return ids
}

// scoreNumeric grades against Metadata["answer"] within Metadata["tolerance"].
// ok is false when the question has no answer key.
func scoreNumeric(q model.Question, raw string) (float64, bool) {
	answer, ok := metaFloat(q.Metadata, "answer")
	if !ok {
		return 0, false
	}
	tol, _ := metaFloat(q.Metadata, "tolerance")
	got, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, true
	}
	if math.Abs(got-answer) <= math.Abs(tol) {
		return 1, true
	}
	return 0, true
}

func metaFloat(meta map[string]any, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
