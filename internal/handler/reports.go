package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/ecd/internal/llm"
	"github.com/pavelanni/ecd/internal/report"
)

// suggestion pairs a grading item with the model's proposal or the reason there is none.
type suggestion struct {
	report.GradingItem
	Suggestion *llm.Suggestion `json:"suggestion,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (h *Handler) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	// Get enforces that students only see their own sessions.
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	rep, err := h.reports.Session(r.Context(), id)
	h.respond(w, r, rep, err)
}

func (h *Handler) handleLearnerFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	fb, err := h.reports.LearnerFeedback(r.Context(), id)
	h.respond(w, r, fb, err)
}

func (h *Handler) handleTeacherReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Teacher(r.Context(), chi.URLParam(r, "studentID"))
	h.respond(w, r, rep, err)
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeNotice(w, r, http.StatusServiceUnavailable, "ErrorLLMUnavailable")
		return
	}
	id := chi.URLParam(r, "sessionID")
	items, err := h.reports.GradingQueue(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]suggestion, 0, len(items))
	for _, it := range items {
		s := suggestion{GradingItem: it}
		sug, err := h.llm.Suggest(r.Context(), llm.GradingInput{
			Question:  it.Question,
			Rubric:    it.Rubric,
			RawAnswer: it.Response.RawAnswer,
		})
		if err != nil {
			slog.Warn("grading suggestion failed", "session_id", id, "task_id", it.TaskID, "error", err)
			s.Error = err.Error()
		} else {
			s.Suggestion = sug
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}
