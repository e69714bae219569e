package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/scoring"
	"github.com/pavelanni/ecd/internal/session"
)

// Sessions is the session controller surface the API exposes.
type Sessions interface {
	Create(ctx context.Context, in session.CreateInput) (model.Session, error)
	Get(ctx context.Context, id string) (model.Session, error)
	ListActive(ctx context.Context, studentID string) ([]model.Session, error)
	Submit(ctx context.Context, id string, in scoring.Input) (session.SubmitResult, error)
	NextTask(ctx context.Context, id string) (string, error)
	Pause(ctx context.Context, id string) (model.Session, error)
	Resume(ctx context.Context, id string) (model.Session, error)
	Finish(ctx context.Context, id string, in session.FinishInput) (model.Session, error)
	FinalizeReview(ctx context.Context, id string) (model.Session, error)
	Archive(ctx context.Context, id string) (model.Session, error)
	Grade(ctx context.Context, id string, in session.GradeInput) (model.Session, error)
}

type nextTaskResponse struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId,omitempty"`
	Done      bool   `json:"done"`
}

// track keeps the deadline watch in step with the session just read or written.
func (h *Handler) track(ctx context.Context, s model.Session) {
	if h.deadlines == nil {
		return
	}
	if s.Status == model.StatusArchived {
		h.deadlines.Untrack(s.ID)
		return
	}
	if _, err := h.deadlines.Track(ctx, s); err != nil {
		slog.Warn("failed to track session deadline", "session_id", s.ID, "error", err)
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in session.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.StudentID == "" {
		if u := model.UserFromContext(r.Context()); u != nil && u.Role == model.UserRoleStudent {
			in.StudentID = u.ID
		}
	}
	s, err := h.sessions.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(r.Context(), s)
	slog.Info("session created", "session_id", s.ID, "student_id", s.StudentID, "tasks", len(s.TaskIDs))
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("studentId")
	if studentID == "" {
		if u := model.UserFromContext(r.Context()); u != nil && u.Role == model.UserRoleStudent {
			studentID = u.ID
		}
	}
	sessions, err := h.sessions.ListActive(r.Context(), studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(r.Context(), s)
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleNextTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	taskID, err := h.sessions.NextTask(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextTaskResponse{SessionID: id, TaskID: taskID, Done: taskID == ""})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in scoring.Input
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.sessions.Submit(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(r.Context(), res.Session)
	writeJSON(w, http.StatusOK, res)
}

// sessionAction adapts a controller call that only needs the session id.
func (h *Handler) sessionAction(fn func(ctx context.Context, id string) (model.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fn(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.track(r.Context(), s)
		writeJSON(w, http.StatusOK, s)
	}
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(h.sessions.Pause)(w, r)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(h.sessions.Resume)(w, r)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(h.sessions.FinalizeReview)(w, r)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(h.sessions.Archive)(w, r)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	var in session.FinishInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sessionAction(func(ctx context.Context, id string) (model.Session, error) {
		return h.sessions.Finish(ctx, id, in)
	})(w, r)
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var in session.GradeInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sessionAction(func(ctx context.Context, id string) (model.Session, error) {
		return h.sessions.Grade(ctx, id, in)
	})(w, r)
}
