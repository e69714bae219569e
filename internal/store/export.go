package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/ecd/internal/model"
)

// ExportAllSessions builds export-ready student results from all sessions.
// Competency rollups are left empty for the caller to fill.
func (s *Store) ExportAllSessions(ctx context.Context) ([]model.StudentResult, error) {
	sessions, err := s.ListSessions(ctx, SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Sessions come newest first; number them per student oldest first.
	studentSessionCount := make(map[string]int)
	results := make([]model.StudentResult, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		sess := sessions[i]
		studentSessionCount[sess.StudentID]++

		user, err := s.GetUserByID(ctx, sess.StudentID)
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", sess.StudentID, err)
		}
		displayName := sess.StudentID
		if user != nil {
			displayName = user.DisplayName
		}

		results[i] = model.StudentResult{
			SessionID:     sess.ID,
			StudentID:     sess.StudentID,
			DisplayName:   displayName,
			SessionNumber: studentSessionCount[sess.StudentID],
			Status:        sess.Status,
			AutoFinished:  sess.AutoFinished,
			StartedAt:     sess.StartedAt,
			Responses:     sess.Responses,
		}
	}
	return results, nil
}
