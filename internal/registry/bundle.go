package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/ecd/internal/model"
)

// Bundle is a set of reference data imported as a unit.
type Bundle struct {
	Competencies   []model.Competency    `json:"competencies"`
	EvidenceModels []model.EvidenceModel `json:"evidenceModels"`
	TaskModels     []model.TaskModel     `json:"taskModels"`
	Tasks          []model.Task          `json:"tasks"`
	Questions      []model.Question      `json:"questions"`
	Policies       []model.Policy        `json:"policies"`
}

// Sink is the subset of the repository a bundle is written to.
type Sink interface {
	PutCompetency(ctx context.Context, c model.Competency) error
	PutEvidenceModel(ctx context.Context, em model.EvidenceModel) error
	PutTaskModel(ctx context.Context, tm model.TaskModel) error
	PutTask(ctx context.Context, t model.Task) error
	PutQuestion(ctx context.Context, q model.Question) error
	PutPolicy(ctx context.Context, p model.Policy) error
}

// ParseBundle decodes a bundle. Files ending in .yaml or .yml are YAML, anything else JSON.
func ParseBundle(name string, data []byte) (Bundle, error) {
	var b Bundle
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		// Decode YAML generically and re-encode so the JSON decoders of the
		// tagged unions apply to both formats.
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return b, fmt.Errorf("parse %s: %w", name, err)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return b, fmt.Errorf("convert %s: %w", name, err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("parse %s: %w", name, err)
	}
	return b, nil
}

// Validate checks every bundle invariant, including cross-entity references
// within the bundle.
func (b Bundle) Validate() error {
	if err := model.ValidateCompetencies(b.Competencies); err != nil {
		return err
	}
	comps := make(map[string]bool, len(b.Competencies))
	for _, c := range b.Competencies {
		comps[c.ID] = true
	}
	ems := make(map[string]model.EvidenceModel, len(b.EvidenceModels))
	for _, em := range b.EvidenceModels {
		if err := model.ValidateEvidenceModel(em, func(id string) bool { return comps[id] }); err != nil {
			return err
		}
		ems[em.ID] = em
	}
	tms := make(map[string]bool, len(b.TaskModels))
	for _, tm := range b.TaskModels {
		if err := model.ValidateTaskModel(tm); err != nil {
			return err
		}
		for _, emID := range tm.EvidenceModelIDs {
			if _, ok := ems[emID]; !ok {
				return model.Validationf("task model %s references unknown evidence model %s", tm.ID, emID)
			}
		}
		for _, eo := range tm.ExpectedObservations {
			if !observationIn(ems, tm.EvidenceModelIDs, eo.ObservationID) {
				return model.Validationf("task model %s expects observation %s outside its evidence models", tm.ID, eo.ObservationID)
			}
		}
		tms[tm.ID] = true
	}
	qs := make(map[string]bool, len(b.Questions))
	for _, q := range b.Questions {
		if err := model.ValidateQuestion(q); err != nil {
			return err
		}
		qs[q.ID] = true
	}
	for _, t := range b.Tasks {
		if t.ID == "" {
			return model.Validationf("task id is required")
		}
		if !tms[t.TaskModelID] {
			return model.Validationf("task %s references unknown task model %s", t.ID, t.TaskModelID)
		}
		if t.QuestionID != "" && !qs[t.QuestionID] {
			return model.Validationf("task %s references unknown question %s", t.ID, t.QuestionID)
		}
	}
	for _, p := range b.Policies {
		if err := model.ValidatePolicy(p); err != nil {
			return err
		}
	}
	return nil
}

func observationIn(ems map[string]model.EvidenceModel, ids []string, observationID string) bool {
	for _, id := range ids {
		if _, ok := ems[id].Observation(observationID); ok {
			return true
		}
	}
	return false
}

// Load validates b and writes it to sink. It returns the number of entities written.
func Load(ctx context.Context, sink Sink, b Bundle) (int, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range b.Competencies {
		if err := sink.PutCompetency(ctx, c); err != nil {
			return n, fmt.Errorf("put competency %s: %w", c.ID, err)
		}
		n++
	}
	for _, em := range b.EvidenceModels {
		if err := sink.PutEvidenceModel(ctx, em); err != nil {
			return n, fmt.Errorf("put evidence model %s: %w", em.ID, err)
		}
		n++
	}
	for _, tm := range b.TaskModels {
		if err := sink.PutTaskModel(ctx, tm); err != nil {
			return n, fmt.Errorf("put task model %s: %w", tm.ID, err)
		}
		n++
	}
	for _, q := range b.Questions {
		if err := sink.PutQuestion(ctx, q); err != nil {
			return n, fmt.Errorf("put question %s: %w", q.ID, err)
		}
		n++
	}
	for _, t := range b.Tasks {
		if err := sink.PutTask(ctx, t); err != nil {
			return n, fmt.Errorf("put task %s: %w", t.ID, err)
		}
		n++
	}
	for _, p := range b.Policies {
		if err := sink.PutPolicy(ctx, p); err != nil {
			return n, fmt.Errorf("put policy %s: %w", p.ID, err)
		}
		n++
	}
	return n, nil
}
