package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/ecd/internal/model"
)

// GradingItem is an unscored response with what a grader needs to judge it.
// Question and Rubric are zero when they cannot be resolved.
type GradingItem struct {
	SessionID string         `json:"sessionId"`
	TaskID    string         `json:"taskId"`
	Response  model.Response `json:"response"`
	Question  model.Question `json:"question"`
	Rubric    *model.Rubric  `json:"rubric,omitempty"`
}

// GradingQueue lists the session's responses awaiting manual grading.
func (e *Engine) GradingQueue(ctx context.Context, sessionID string) ([]GradingItem, error) {
	s, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := newResolver(e.catalog)
	items := []GradingItem{}
	for _, r := range s.Responses {
		if r.Scored() {
			continue
		}
		item := GradingItem{SessionID: s.ID, TaskID: r.TaskID, Response: r, Question: model.Question{ID: r.QuestionID}}
		if r.QuestionID != "" {
			q, err := e.catalog.Question(ctx, r.QuestionID)
			switch {
			case errors.Is(err, model.ErrNotFound):
			case err != nil:
				return nil, fmt.Errorf("get question %s: %w", r.QuestionID, err)
			default:
				item.Question = q
			}
		}
		a, ok, err := res.attribute(ctx, r)
		if err != nil {
			return nil, err
		}
		if ok {
			if rb, found := a.em.RubricFor(r.ObservationID); found {
				item.Rubric = &rb
			}
		}
		items = append(items, item)
	}
	return items, nil
}
