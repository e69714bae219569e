package report

import (
	"context"

	"github.com/pavelanni/ecd/internal/i18n"
)

// Mastery bands used to phrase learner feedback.
const (
	StrengthThreshold = 0.7
	GrowthThreshold   = 0.5
)

// Feedback is the learner-facing summary of a session, localized from the
// request context.
type Feedback struct {
	SessionID   string   `json:"sessionId"`
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	GrowthAreas []string `json:"growthAreas"`
	Pending     string   `json:"pending,omitempty"`
}

// LearnerFeedback phrases a session's competency results for the student.
func (e *Engine) LearnerFeedback(ctx context.Context, sessionID string) (Feedback, error) {
	rep, err := e.Session(ctx, sessionID)
	if err != nil {
		return Feedback{}, err
	}

	fb := Feedback{
		SessionID:   sessionID,
		Strengths:   []string{},
		GrowthAreas: []string{},
		Summary: i18n.Td(ctx, "FeedbackSummary", map[string]any{
			"Answered": len(rep.Responses),
			"Total":    rep.TotalTasks,
		}),
	}
	for _, c := range rep.Competencies {
		if c.Count == 0 {
			continue
		}
		data := map[string]any{"Name": c.Name, "Percent": int(c.Mastery*100 + 0.5)}
		switch {
		case c.Mastery >= StrengthThreshold:
			fb.Strengths = append(fb.Strengths, i18n.Td(ctx, "FeedbackStrength", data))
		case c.Mastery < GrowthThreshold:
			fb.GrowthAreas = append(fb.GrowthAreas, i18n.Td(ctx, "FeedbackGrowth", data))
		}
	}
	if len(fb.Strengths) == 0 && len(fb.GrowthAreas) == 0 {
		fb.Summary += " " + i18n.T(ctx, "FeedbackNoEvidence")
	}
	if n := len(rep.PendingGrading); n > 0 {
		fb.Pending = i18n.Tp(ctx, "FeedbackPending", n)
	}
	return fb, nil
}
