package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// CanReview reports whether the role may grade and finalize sessions.
func (r UserRole) CanReview() bool {
	return r == UserRoleTeacher || r == UserRoleAdmin
}

// User represents a system user.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuthSession represents an API token issued at login.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Competency is a node in a competency framework. Frameworks form a forest via ParentID.
type Competency struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
	ModelID     string `json:"modelId,omitempty"`
}

// ExpectedObservation is an (observation, evidence) pair a task model is expected to produce.
type ExpectedObservation struct {
	ObservationID string `json:"observationId"`
	EvidenceID    string `json:"evidenceId"`
}

// ItemMapping binds a deliverable item (a question id) to an observation of an evidence.
type ItemMapping struct {
	ItemID        string `json:"itemId"`
	ObservationID string `json:"observationId"`
	EvidenceID    string `json:"evidenceId"`
}

// TaskModel is an activity template.
type TaskModel struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	Description          string                `json:"description,omitempty"`
	Difficulty           string                `json:"difficulty,omitempty"`
	EvidenceModelIDs     []string              `json:"evidenceModelIds"`
	ExpectedObservations []ExpectedObservation `json:"expectedObservations"`
	ItemMappings         []ItemMapping         `json:"itemMappings"`
	SubTaskIDs           []string              `json:"subTaskIds,omitempty"`
}

// MappingFor returns the item mapping for a question id.
func (tm TaskModel) MappingFor(questionID string) (ItemMapping, bool) {
	for _, m := range tm.ItemMappings {
		if m.ItemID == questionID {
			return m, true
		}
	}
	return ItemMapping{}, false
}

// Task binds a task model to a question. Tasks are immutable once created.
type Task struct {
	ID          string     `json:"id"`
	TaskModelID string     `json:"taskModelId"`
	QuestionID  string     `json:"questionId,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionMSQ         QuestionType = "msq"
	QuestionOpen        QuestionType = "open"
	QuestionConstructed QuestionType = "constructed"
	QuestionRubric      QuestionType = "rubric"
	QuestionNumeric     QuestionType = "numeric"
	QuestionReading     QuestionType = "reading"
)

// Option is a selectable choice of an mcq/msq question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a deliverable item. Reading questions are passage containers for SubQuestionIDs.
type Question struct {
	ID               string         `json:"id"`
	Stem             string         `json:"stem"`
	Type             QuestionType   `json:"type"`
	Options          []Option       `json:"options,omitempty"`
	CorrectOptionID  string         `json:"correctOptionId,omitempty"`
	CorrectOptionIDs []string       `json:"correctOptionIds,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	SubQuestionIDs   []string       `json:"subQuestionIds,omitempty"`
}

// SessionStatus represents the status of a delivery session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in-progress"
	StatusPaused     SessionStatus = "paused"
	StatusSubmitted  SessionStatus = "submitted"
	StatusCompleted  SessionStatus = "completed"
	StatusReviewed   SessionStatus = "reviewed"
	StatusArchived   SessionStatus = "archived"
)

// SelectionStrategy controls how the next task is chosen.
type SelectionStrategy string

const (
	StrategyFixed    SelectionStrategy = "fixed"
	StrategyAdaptive SelectionStrategy = "adaptive"
)

// NextTaskPolicy references the adaptive policy of a session.
type NextTaskPolicy struct {
	PolicyID string `json:"policyId,omitempty"`
}

// Response is one captured and (possibly) scored answer.
type Response struct {
	TaskID        string    `json:"taskId"`
	QuestionID    string    `json:"questionId,omitempty"`
	RawAnswer     string    `json:"rawAnswer,omitempty"`
	ScoredValue   *float64  `json:"scoredValue,omitempty"`
	RubricLevel   string    `json:"rubricLevel,omitempty"`
	ObservationID string    `json:"observationId,omitempty"`
	EvidenceID    string    `json:"evidenceId,omitempty"`
	IsRubric      bool      `json:"isRubric,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Scored reports whether the response carries a score.
func (r Response) Scored() bool { return r.ScoredValue != nil }

// Session is the delivery aggregate owned by the session controller.
type Session struct {
	ID                string            `json:"id"`
	StudentID         string            `json:"studentId"`
	TaskIDs           []string          `json:"taskIds"`
	SelectionStrategy SelectionStrategy `json:"selectionStrategy"`
	NextTaskPolicy    NextTaskPolicy    `json:"nextTaskPolicy"`
	Responses         []Response        `json:"responses"`
	Status            SessionStatus     `json:"status"`
	StartedAt         time.Time         `json:"startedAt"`
	EndTime           *time.Time        `json:"endTime,omitempty"`
	AutoFinished      bool              `json:"autoFinished"`
	Version           int64             `json:"version"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// IsTerminal reports whether the session accepts no further transitions.
func (s Session) IsTerminal() bool {
	return s.Status == StatusArchived
}

// ResponseFor returns the response recorded for a task.
func (s Session) ResponseFor(taskID string) (Response, bool) {
	for _, r := range s.Responses {
		if r.TaskID == taskID {
			return r, true
		}
	}
	return Response{}, false
}

// HasTask reports whether taskID belongs to the session.
func (s Session) HasTask(taskID string) bool {
	for _, id := range s.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Session) Clone() Session {
	c := s
	c.TaskIDs = append([]string(nil), s.TaskIDs...)
	c.Responses = make([]Response, len(s.Responses))
	for i, r := range s.Responses {
		if r.ScoredValue != nil {
			v := *r.ScoredValue
			r.ScoredValue = &v
		}
		c.Responses[i] = r
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return c
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
