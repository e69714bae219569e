package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/ecd/internal/model"
)

// CreateSession stores a new session and returns the stored copy.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) (model.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.now()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.Status == "" {
		sess.Status = model.StatusInProgress
	}
	if sess.Responses == nil {
		sess.Responses = []model.Response{}
	}
	sess.Version = 1
	sess.UpdatedAt = now

	rec, err := encodeSession(sess)
	if err != nil {
		return model.Session{}, err
	}
	if err := s.b.insertSession(ctx, rec); err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	slog.Info("created session", "session_id", sess.ID, "student_id", sess.StudentID, "tasks", len(sess.TaskIDs))
	return s.GetSession(ctx, sess.ID)
}

// GetSession returns a session by ID. A session whose deadline has passed is
// marked autoFinished and persisted before it is returned.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	rec, err := s.b.getSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := decodeSession(rec)
	if err != nil {
		return model.Session{}, err
	}
	return s.applyExpiry(ctx, sess)
}

// ListSessions returns sessions matching the filter, newest first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error) {
	recs, err := s.b.listSessions(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(recs))
	for _, rec := range recs {
		sess, err := decodeSession(rec)
		if err != nil {
			return nil, err
		}
		sess, err = s.applyExpiry(ctx, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// UpdateSession writes sess if its Version still matches the stored one and
// returns the re-read copy. A stale version yields model.ErrConflict.
func (s *Store) UpdateSession(ctx context.Context, sess model.Session) (model.Session, error) {
	expect := sess.Version
	sess.Version++
	sess.UpdatedAt = s.now()
	rec, err := encodeSession(sess)
	if err != nil {
		return model.Session{}, err
	}
	if err := s.b.updateSession(ctx, rec, expect); err != nil {
		return model.Session{}, err
	}
	return s.GetSession(ctx, sess.ID)
}

func (s *Store) applyExpiry(ctx context.Context, sess model.Session) (model.Session, error) {
	if !model.DeadlineApplies(sess) {
		return sess, nil
	}
	tasks := s.sessionTasks(ctx, sess)
	deadline := model.SessionDeadline(sess, tasks)
	if deadline == nil || s.now().Before(*deadline) {
		return sess, nil
	}

	expired := sess.Clone()
	expired.AutoFinished = true
	expect := expired.Version
	expired.Version++
	expired.UpdatedAt = s.now()
	rec, err := encodeSession(expired)
	if err != nil {
		return model.Session{}, err
	}
	err = s.b.updateSession(ctx, rec, expect)
	if errors.Is(err, model.ErrConflict) {
		// Someone else wrote first; their copy is authoritative.
		rec, err := s.b.getSession(ctx, sess.ID)
		if err != nil {
			return model.Session{}, err
		}
		return decodeSession(rec)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("mark session %s auto-finished: %w", sess.ID, err)
	}
	slog.Info("session deadline passed", "session_id", sess.ID, "deadline", deadline)
	return expired, nil
}

// sessionTasks loads the session's tasks, skipping ones that no longer exist.
func (s *Store) sessionTasks(ctx context.Context, sess model.Session) []model.Task {
	if sess.EndTime != nil {
		return nil
	}
	var tasks []model.Task
	for _, id := range sess.TaskIDs {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func encodeSession(sess model.Session) (sessionRecord, error) {
	body, err := json.Marshal(sess)
	if err != nil {
		return sessionRecord{}, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return sessionRecord{
		ID:        sess.ID,
		StudentID: sess.StudentID,
		Status:    sess.Status,
		Version:   sess.Version,
		Body:      body,
	}, nil
}

func decodeSession(rec sessionRecord) (model.Session, error) {
	var sess model.Session
	if err := json.Unmarshal(rec.Body, &sess); err != nil {
		return model.Session{}, fmt.Errorf("decode session %s: %w", rec.ID, err)
	}
	sess.Version = rec.Version
	return sess, nil
}
