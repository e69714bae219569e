package registry

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/store"
)

func loadTestBundle(t *testing.T) (*store.Store, Bundle) {
	t.Helper()
	data, err := os.ReadFile("testdata/reading.yaml")
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	b, err := ParseBundle("reading.yaml", data)
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	s := store.NewMemory()
	if _, err := Load(context.Background(), s, b); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, b
}

func TestParseBundleYAML(t *testing.T) {
	_, b := loadTestBundle(t)

	if len(b.Competencies) != 3 || len(b.Tasks) != 3 || len(b.Questions) != 3 {
		t.Fatalf("unexpected bundle sizes: %d competencies, %d tasks, %d questions",
			len(b.Competencies), len(b.Tasks), len(b.Questions))
	}
	em := b.EvidenceModels[0]
	if em.MeasurementModel.Type() != model.MeasurementSum {
		t.Errorf("expected sum measurement model, got %q", em.MeasurementModel.Type())
	}
	r, ok := em.RubricFor("o2")
	if !ok {
		t.Fatal("expected rubric for o2")
	}
	if lvl, ok := r.Level("High"); !ok || lvl.Score != 3 {
		t.Errorf("expected High=3, got %+v %v", lvl, ok)
	}
	if b.Policies[0].Type() != model.PolicyIRT {
		t.Errorf("expected IRT policy, got %q", b.Policies[0].Type())
	}
}

func TestParseBundleJSON(t *testing.T) {
	data := []byte(`{"competencies":[{"id":"c"}],"questions":[{"id":"q","type":"mcq","correctOptionId":"A"}]}`)
	b, err := ParseBundle("bundle.json", data)
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBundleValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *Bundle)
	}{
		{"task to unknown task model", func(b *Bundle) { b.Tasks[0].TaskModelID = "tm9" }},
		{"task to unknown question", func(b *Bundle) { b.Tasks[0].QuestionID = "q9" }},
		{"task model to unknown evidence model", func(b *Bundle) { b.TaskModels[0].EvidenceModelIDs = []string{"em9"} }},
		{"mapping outside expected observations", func(b *Bundle) {
			b.TaskModels[0].ItemMappings[0].EvidenceID = "e9"
		}},
		{"construct to unknown competency", func(b *Bundle) { b.EvidenceModels[0].Constructs[0].CompetencyID = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b := loadTestBundle(t)
			tt.mutate(&b)
			if err := b.Validate(); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestEnrichTaskDegradesToRawIDs(t *testing.T) {
	s, _ := loadTestBundle(t)
	ctx := context.Background()
	r := New(s)

	v, err := r.EnrichTask(ctx, "t1")
	if err != nil {
		t.Fatalf("EnrichTask: %v", err)
	}
	if v.TaskModelName != "Passage questions" || v.QuestionStem != "What is the main idea of the passage?" {
		t.Errorf("unexpected view %+v", v)
	}
	if len(v.Missing) != 0 {
		t.Errorf("expected nothing missing, got %v", v.Missing)
	}

	if err := s.PutTask(ctx, model.Task{ID: "t-orphan", TaskModelID: "tm-gone", QuestionID: "q-gone"}); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	v, err = r.EnrichTask(ctx, "t-orphan")
	if err != nil {
		t.Fatalf("EnrichTask orphan: %v", err)
	}
	if v.TaskModelName != "tm-gone" || v.QuestionStem != "q-gone" {
		t.Errorf("expected raw ids, got %+v", v)
	}
	if len(v.Missing) != 2 {
		t.Errorf("expected taskModel and question missing, got %v", v.Missing)
	}

	v, err = r.EnrichTask(ctx, "t-none")
	if err != nil {
		t.Fatalf("EnrichTask missing task: %v", err)
	}
	if v.TaskModelName != "t-none" || len(v.Missing) != 1 {
		t.Errorf("expected raw task id, got %+v", v)
	}
}

func TestEvidenceModelForObservation(t *testing.T) {
	s, _ := loadTestBundle(t)
	r := New(s)
	em, err := r.EvidenceModelForObservation(context.Background(), []string{"em-missing", "em1"}, "o2")
	if err != nil {
		t.Fatalf("EvidenceModelForObservation: %v", err)
	}
	if em.ID != "em1" {
		t.Errorf("expected em1, got %s", em.ID)
	}
	_, err = r.EvidenceModelForObservation(context.Background(), []string{"em1"}, "o9")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestImportSkipsUnchangedAndRefusesChanged(t *testing.T) {
	ctx := context.Background()
	data, err := os.ReadFile("testdata/reading.yaml")
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	s := store.NewMemory()

	res, err := Import(ctx, s, s, "reading.yaml", data)
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	if res.Skipped || res.Count == 0 || len(res.Hash) != 64 {
		t.Errorf("unexpected first result %+v", res)
	}
	if _, err := s.GetTask(ctx, "t3"); err != nil {
		t.Errorf("task not imported: %v", err)
	}

	res, err = Import(ctx, s, s, "reading.yaml", data)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if !res.Skipped || res.Count != 0 {
		t.Errorf("expected unchanged file to be skipped, got %+v", res)
	}

	changed := append([]byte{}, data...)
	changed = append(changed, '\n')
	if _, err := Import(ctx, s, s, "reading.yaml", changed); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for changed file, got %v", err)
	}
	if _, err := Import(ctx, s, s, "broken.json", []byte("{")); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unparsable file, got %v", err)
	}
}
