// Package handler serves the session engine as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/ecd/internal/deadline"
	appI18n "github.com/pavelanni/ecd/internal/i18n"
	"github.com/pavelanni/ecd/internal/llm"
	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/registry"
	"github.com/pavelanni/ecd/internal/report"
	"github.com/pavelanni/ecd/internal/store"
)

const maxBodyBytes = 1 << 20

// Deps are the components the handlers call.
type Deps struct {
	Store     *store.Store
	Registry  *registry.Registry
	Sessions  Sessions
	Reports   *report.Engine
	Deadlines *deadline.Monitor
	// LLM is optional; suggestions answer 503 without it.
	LLM *llm.Client
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	registry  *registry.Registry
	sessions  Sessions
	reports   *report.Engine
	deadlines *deadline.Monitor
	llm       *llm.Client
}

// New creates a new Handler.
func New(d Deps) (*Handler, error) {
	switch {
	case d.Store == nil:
		return nil, fmt.Errorf("handler: store is required")
	case d.Registry == nil:
		return nil, fmt.Errorf("handler: registry is required")
	case d.Sessions == nil:
		return nil, fmt.Errorf("handler: session controller is required")
	case d.Reports == nil:
		return nil, fmt.Errorf("handler: report engine is required")
	}
	return &Handler{
		store:     d.Store,
		registry:  d.Registry,
		sessions:  d.Sessions,
		reports:   d.Reports,
		deadlines: d.Deadlines,
		llm:       d.LLM,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		reviewer := requireRole(model.UserRoleTeacher, model.UserRoleAdmin)

		r.Post("/logout", h.handleLogout)

		r.Get("/evidenceModels", h.handleEvidenceModels)
		r.Get("/competencies", h.handleCompetencies)
		r.Get("/taskModels", h.handleTaskModels)
		r.Get("/questions", h.handleQuestions)
		r.Get("/policies", h.handlePolicies)
		r.Get("/tasks/{taskID}", h.handleTask)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.handleCreateSession)
			r.Get("/", h.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.handleGetSession)
				r.Get("/next-task", h.handleNextTask)
				r.Post("/submit", h.handleSubmit)
				r.Post("/pause", h.handlePause)
				r.Post("/resume", h.handleResume)
				r.Post("/finish", h.handleFinish)
				r.Post("/archive", h.handleArchive)
				r.With(reviewer).Post("/finalize", h.handleFinalize)
				r.With(reviewer).Post("/grade", h.handleGrade)
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/session/{sessionID}", h.handleSessionReport)
			r.Get("/session/{sessionID}/learner-feedback", h.handleLearnerFeedback)
			r.With(reviewer).Get("/session/{sessionID}/suggestions", h.handleSuggestions)
			r.With(reviewer).Get("/student/{studentID}/teacher-report", h.handleTeacherReport)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Post("/users/{userID}/toggle-active", h.handleToggleUserActive)
			r.Post("/registry", h.handleUploadRegistry)
		})
	})
}

func (h *Handler) handleEvidenceModels(w http.ResponseWriter, r *http.Request) {
	ems, err := h.registry.EvidenceModels(r.Context())
	h.respond(w, r, ems, err)
}

func (h *Handler) handleCompetencies(w http.ResponseWriter, r *http.Request) {
	comps, err := h.registry.Competencies(r.Context())
	h.respond(w, r, comps, err)
}

func (h *Handler) handleTaskModels(w http.ResponseWriter, r *http.Request) {
	tms, err := h.registry.TaskModels(r.Context())
	h.respond(w, r, tms, err)
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.registry.Questions(r.Context())
	h.respond(w, r, qs, err)
}

func (h *Handler) handlePolicies(w http.ResponseWriter, r *http.Request) {
	ps, err := h.registry.Policies(r.Context())
	h.respond(w, r, ps, err)
}

func (h *Handler) handleTask(w http.ResponseWriter, r *http.Request) {
	view, err := h.registry.EnrichTask(r.Context(), chi.URLParam(r, "taskID"))
	h.respond(w, r, view, err)
}

// errorBody is the JSON notification sent for every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// statusFor maps an error kind to its HTTP status and message id.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "ErrorValidation"
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict, "ErrorInvalidState"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "ErrorConflict"
	case errors.Is(err, model.ErrInvalidLevel):
		return http.StatusUnprocessableEntity, "ErrorInvalidLevel"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "ErrorNotFound"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "ErrorForbidden"
	case errors.Is(err, model.ErrPolicyUnavailable):
		return http.StatusServiceUnavailable, "ErrorPolicyUnavailable"
	default:
		return http.StatusInternalServerError, "ErrorInternal"
	}
}

func errorKind(msgID string) string {
	switch msgID {
	case "ErrorValidation":
		return "validation"
	case "ErrorInvalidState":
		return "invalid_state"
	case "ErrorConflict":
		return "conflict"
	case "ErrorInvalidLevel":
		return "invalid_level"
	case "ErrorNotFound":
		return "not_found"
	case "ErrorForbidden":
		return "forbidden"
	case "ErrorUnauthorized", "LoginFailed":
		return "unauthorized"
	case "ErrorPolicyUnavailable":
		return "policy_unavailable"
	case "ErrorLLMUnavailable":
		return "llm_unavailable"
	default:
		return "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := statusFor(err)
	body := errorBody{Error: errorKind(msgID), Message: appI18n.T(r.Context(), msgID)}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

// writeNotice sends a localized error that has no underlying error value.
func writeNotice(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorBody{Error: errorKind(msgID), Message: appI18n.T(r.Context(), msgID)})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst unchanged.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
