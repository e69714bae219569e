package scoring

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/registry"
	"github.com/pavelanni/ecd/internal/store"
)

func newTestScorer(t *testing.T) (*Scorer, *store.Store) {
	t.Helper()
	data, err := os.ReadFile("../registry/testdata/reading.yaml")
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	b, err := registry.ParseBundle("reading.yaml", data)
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	s := store.NewMemory()
	if _, err := registry.Load(context.Background(), s, b); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return New(registry.New(s)), s
}

func task(id, questionID string) model.Task {
	return model.Task{ID: id, TaskModelID: "tm1", QuestionID: questionID}
}

func TestScoreMCQ(t *testing.T) {
	sc, _ := newTestScorer(t)
	ctx := context.Background()

	tests := []struct {
		answer string
		want   float64
	}{
		{"A", 1},
		{" A ", 1},
		{"B", 0},
		{"", 0},
	}
	for _, tt := range tests {
		resp, err := sc.Score(ctx, task("t1", "q1"), Input{TaskID: "t1", RawAnswer: tt.answer})
		if err != nil {
			t.Fatalf("Score(%q): %v", tt.answer, err)
		}
		if resp.ScoredValue == nil || *resp.ScoredValue != tt.want {
			t.Errorf("Score(%q) = %v, want %v", tt.answer, resp.ScoredValue, tt.want)
		}
		if resp.ObservationID != "o1" || resp.EvidenceID != "e1" {
			t.Errorf("expected attribution (o1, e1), got (%s, %s)", resp.ObservationID, resp.EvidenceID)
		}
		if resp.IsRubric {
			t.Error("mcq response must not be rubric")
		}
	}
}

func TestScoreRubricLevel(t *testing.T) {
	sc, _ := newTestScorer(t)
	ctx := context.Background()

	resp, err := sc.Score(ctx, task("t3", "q3"), Input{TaskID: "t3", RubricLevel: "High"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if resp.ScoredValue == nil || *resp.ScoredValue != 3 {
		t.Errorf("expected 3, got %v", resp.ScoredValue)
	}
	if !resp.IsRubric || resp.ObservationID != "o2" {
		t.Errorf("expected rubric response on o2, got %+v", resp)
	}

	_, err = sc.Score(ctx, task("t3", "q3"), Input{TaskID: "t3", RubricLevel: "Medium"})
	if !errors.Is(err, model.ErrInvalidLevel) {
		t.Errorf("expected ErrInvalidLevel, got %v", err)
	}

	resp, err = sc.Score(ctx, task("t3", "q3"), Input{TaskID: "t3", RawAnswer: "The author assumes..."})
	if err != nil {
		t.Fatalf("Score without level: %v", err)
	}
	if resp.Scored() || !resp.IsRubric {
		t.Errorf("expected unscored rubric response, got %+v", resp)
	}
}

func TestScoreMSQAndNumeric(t *testing.T) {
	sc, s := newTestScorer(t)
	ctx := context.Background()

	questions := []model.Question{
		{ID: "qm", Type: model.QuestionMSQ, CorrectOptionIDs: []string{"B", "A"},
			Options: []model.Option{{ID: "A"}, {ID: "B"}, {ID: "C"}}},
		{ID: "qn", Type: model.QuestionNumeric, Metadata: map[string]any{"answer": 3.14, "tolerance": 0.01}},
		{ID: "qo", Type: model.QuestionOpen},
	}
	for _, q := range questions {
		if err := s.PutQuestion(ctx, q); err != nil {
			t.Fatalf("PutQuestion: %v", err)
		}
	}

	tests := []struct {
		name     string
		question string
		answer   string
		want     *float64
	}{
		{"msq exact set", "qm", "A,B", model.Float(1)},
		{"msq reordered", "qm", "B, A", model.Float(1)},
		{"msq partial", "qm", "A", model.Float(0)},
		{"msq extra", "qm", "A,B,C", model.Float(0)},
		{"numeric within tolerance", "qn", "3.145", model.Float(1)},
		{"numeric outside tolerance", "qn", "3.2", model.Float(0)},
		{"numeric garbage", "qn", "pi", model.Float(0)},
		{"open left for grading", "qo", "an essay", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := sc.Score(ctx, task("tx", tt.question), Input{TaskID: "tx", RawAnswer: tt.answer})
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			switch {
			case tt.want == nil && resp.ScoredValue != nil:
				t.Errorf("expected unscored, got %v", *resp.ScoredValue)
			case tt.want != nil && (resp.ScoredValue == nil || *resp.ScoredValue != *tt.want):
				t.Errorf("expected %v, got %v", *tt.want, resp.ScoredValue)
			}
			if resp.RawAnswer != tt.answer {
				t.Errorf("raw answer not kept: %q", resp.RawAnswer)
			}
		})
	}
}

func TestScoreDegradesOnMissingReferences(t *testing.T) {
	sc, _ := newTestScorer(t)
	ctx := context.Background()

	resp, err := sc.Score(ctx, model.Task{ID: "tz", TaskModelID: "tm-gone", QuestionID: "q-gone"},
		Input{TaskID: "tz", RawAnswer: "A"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if resp.Scored() || resp.ObservationID != "" || resp.RawAnswer != "A" {
		t.Errorf("expected unscored, unattributed response with raw answer, got %+v", resp)
	}
}

func TestScoreRejectsForeignQuestion(t *testing.T) {
	sc, _ := newTestScorer(t)
	_, err := sc.Score(context.Background(), task("t1", "q1"), Input{TaskID: "t1", QuestionID: "q2", RawAnswer: "A"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestScoreReadingPassage(t *testing.T) {
	sc, s := newTestScorer(t)
	ctx := context.Background()

	passage := model.Question{ID: "qr", Type: model.QuestionReading, Stem: "Read the text.", SubQuestionIDs: []string{"q1", "q2"}}
	if err := s.PutQuestion(ctx, passage); err != nil {
		t.Fatalf("PutQuestion: %v", err)
	}

	tests := []struct {
		name string
		in   Input
	}{
		{"passage answered directly", Input{TaskID: "tr", RawAnswer: "A"}},
		{"sub-question through the passage task", Input{TaskID: "tr", QuestionID: "q1", RawAnswer: "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sc.Score(ctx, task("tr", "qr"), tt.in)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}

	// Sub-questions are answered through the tasks that deliver them.
	resp, err := sc.Score(ctx, task("t1", "q1"), Input{TaskID: "t1", RawAnswer: "A"})
	if err != nil {
		t.Fatalf("Score sub-question task: %v", err)
	}
	if resp.QuestionID != "q1" || resp.ScoredValue == nil || *resp.ScoredValue != 1 {
		t.Errorf("expected scored answer to q1, got %+v", resp)
	}
}

func TestScoreDropsLevelOffRubricPath(t *testing.T) {
	sc, _ := newTestScorer(t)
	resp, err := sc.Score(context.Background(), task("t1", "q1"), Input{TaskID: "t1", RawAnswer: "A", RubricLevel: "High"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if resp.RubricLevel != "" {
		t.Errorf("mcq response kept rubric level %q", resp.RubricLevel)
	}
	if resp.IsRubric || resp.ScoredValue == nil || *resp.ScoredValue != 1 {
		t.Errorf("expected auto-scored mcq response, got %+v", resp)
	}
}

func TestAttribute(t *testing.T) {
	sc, _ := newTestScorer(t)
	a, err := sc.Attribute(context.Background(), task("t3", "q3"), "q3")
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	want := Attribution{TaskModelID: "tm1", EvidenceModelID: "em1", ObservationID: "o2", EvidenceID: "e1", ConstructID: "c2"}
	if a != want {
		t.Errorf("Attribute = %+v, want %+v", a, want)
	}
}
