package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pavelanni/ecd/internal/model"
)

// ExportSource lists every session in export form.
type ExportSource interface {
	ExportAllSessions(ctx context.Context) ([]model.StudentResult, error)
}

// Export builds the result export with competency rollups filled in.
func (e *Engine) Export(ctx context.Context, src ExportSource) (model.ExamExport, error) {
	results, err := src.ExportAllSessions(ctx)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("export sessions: %w", err)
	}
	for i := range results {
		comps, err := e.Competencies(ctx, results[i].Responses)
		if err != nil {
			return model.ExamExport{}, fmt.Errorf("aggregate session %s: %w", results[i].SessionID, err)
		}
		results[i].Competencies = comps
	}
	return model.ExamExport{
		ExportID:    uuid.NewString(),
		GeneratedAt: e.now().UTC(),
		NumSessions: len(results),
		Results:     results,
	}, nil
}
