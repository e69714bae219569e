package model

import "time"

// CompetencyScore is the per-competency rollup produced by the aggregation engine.
type CompetencyScore struct {
	CompetencyID   string  `json:"competencyId"`
	Name           string  `json:"name"`
	ParentID       string  `json:"parentId,omitempty"`
	Average        float64 `json:"average"`
	Count          int     `json:"count"`
	RubricAverage  float64 `json:"rubricAverage"`
	RubricCount    int     `json:"rubricCount"`
	Mastery        float64 `json:"mastery"`
	RollupAverage  float64 `json:"rollupAverage"`
	HasDescendants bool    `json:"hasDescendants,omitempty"`
}

// ExamExport is the top-level JSON structure for session result export.
type ExamExport struct {
	ExportID    string          `json:"export_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	NumSessions int             `json:"num_sessions"`
	Results     []StudentResult `json:"results"`
}

// StudentResult holds one student's session data for export.
type StudentResult struct {
	SessionID     string            `json:"session_id"`
	StudentID     string            `json:"student_id"`
	DisplayName   string            `json:"display_name"`
	SessionNumber int               `json:"session_number"`
	Status        SessionStatus     `json:"status"`
	AutoFinished  bool              `json:"auto_finished"`
	StartedAt     time.Time         `json:"started_at"`
	Responses     []Response        `json:"responses"`
	Competencies  []CompetencyScore `json:"competencies"`
}
