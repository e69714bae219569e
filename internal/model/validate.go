package model

import (
	"fmt"
	"math"
)

// ValidateCompetencies checks ids are unique, parents exist and the parent links form a forest.
func ValidateCompetencies(comps []Competency) error {
	byID := make(map[string]Competency, len(comps))
	for _, c := range comps {
		if c.ID == "" {
			return Validationf("competency id is required")
		}
		if _, dup := byID[c.ID]; dup {
			return Validationf("duplicate competency id %s", c.ID)
		}
		byID[c.ID] = c
	}
	for _, c := range comps {
		if c.ParentID != "" {
			if _, ok := byID[c.ParentID]; !ok {
				return Validationf("competency %s: unknown parent %s", c.ID, c.ParentID)
			}
		}
		seen := map[string]bool{c.ID: true}
		for cur := c.ParentID; cur != ""; cur = byID[cur].ParentID {
			if seen[cur] {
				return Validationf("competency %s: parent cycle through %s", c.ID, cur)
			}
			seen[cur] = true
		}
	}
	return nil
}

// ValidateEvidenceModel checks internal references of an evidence model.
// competencyExists may be nil to skip the competency check.
func ValidateEvidenceModel(em EvidenceModel, competencyExists func(id string) bool) error {
	if em.ID == "" {
		return Validationf("evidence model id is required")
	}
	evidences := make(map[string]bool)
	for _, e := range em.Evidences {
		evidences[e.ID] = true
	}
	constructs := make(map[string]bool)
	for _, c := range em.Constructs {
		if constructs[c.ID] {
			return Validationf("evidence model %s: duplicate construct %s", em.ID, c.ID)
		}
		constructs[c.ID] = true
		if c.EvidenceID != "" && !evidences[c.EvidenceID] {
			return Validationf("evidence model %s: construct %s references unknown evidence %s", em.ID, c.ID, c.EvidenceID)
		}
		if c.CompetencyID != "" && competencyExists != nil && !competencyExists(c.CompetencyID) {
			return Validationf("evidence model %s: construct %s references unknown competency %s", em.ID, c.ID, c.CompetencyID)
		}
	}
	keys := make(map[string]bool)
	for _, o := range em.Observations {
		if keys[o.ID] {
			return Validationf("evidence model %s: duplicate observation %s", em.ID, o.ID)
		}
		keys[o.ID] = true
		if !constructs[o.ConstructID] {
			return Validationf("evidence model %s: observation %s references unknown construct %s", em.ID, o.ID, o.ConstructID)
		}
		switch o.Scoring {
		case ScoringBinary, ScoringPartial, ScoringRubric:
		default:
			return Validationf("evidence model %s: observation %s has unknown scoring %q", em.ID, o.ID, o.Scoring)
		}
	}
	rubricFor := make(map[string]string)
	for _, r := range em.Rubrics {
		if _, ok := em.Observation(r.ObservationID); !ok {
			return Validationf("evidence model %s: rubric %s references unknown observation %s", em.ID, r.ID, r.ObservationID)
		}
		if prev, dup := rubricFor[r.ObservationID]; dup {
			return Validationf("evidence model %s: observation %s has rubrics %s and %s", em.ID, r.ObservationID, prev, r.ID)
		}
		rubricFor[r.ObservationID] = r.ID
		if len(r.Criteria) == 0 {
			return Validationf("evidence model %s: rubric %s has no criteria", em.ID, r.ID)
		}
		for _, c := range r.Criteria {
			if len(c.Levels) == 0 {
				return Validationf("evidence model %s: rubric %s criterion %q has no levels", em.ID, r.ID, c.Name)
			}
		}
		keys[r.ID] = true
	}
	return validateMeasurement(em, keys)
}

func validateMeasurement(em EvidenceModel, keys map[string]bool) error {
	switch c := em.MeasurementModel.Config.(type) {
	case nil:
		return nil
	case WeightedConfig:
		for k, w := range c.Weights {
			if !keys[k] {
				return Validationf("evidence model %s: weight key %s is not an observation or rubric of this model", em.ID, k)
			}
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return Validationf("evidence model %s: weight %s must be a finite non-negative number", em.ID, k)
			}
		}
	case IRTConfig:
		switch c.Model {
		case "1PL", "2PL", "3PL":
		default:
			return Validationf("evidence model %s: unknown IRT model %q", em.ID, c.Model)
		}
		for k := range c.Items {
			if !keys[k] {
				return Validationf("evidence model %s: IRT item %s is not an observation or rubric of this model", em.ID, k)
			}
		}
	case BayesianConfig:
		nodes := make(map[string]bool, len(c.Nodes))
		for _, n := range c.Nodes {
			nodes[n] = true
		}
		for n, cpt := range c.CPTs {
			if !nodes[n] {
				return Validationf("evidence model %s: CPT for unknown node %s", em.ID, n)
			}
			for _, p := range cpt {
				if p < 0 || p > 1 {
					return Validationf("evidence model %s: CPT %s has probability %v outside [0,1]", em.ID, n, p)
				}
			}
		}
	default:
		return Validationf("evidence model %s: unsupported measurement config %T", em.ID, c)
	}
	return nil
}

// ValidateTaskModel checks that every item mapping appears in the expected observations.
func ValidateTaskModel(tm TaskModel) error {
	if tm.ID == "" {
		return Validationf("task model id is required")
	}
	expected := make(map[ExpectedObservation]bool, len(tm.ExpectedObservations))
	for _, eo := range tm.ExpectedObservations {
		expected[eo] = true
	}
	items := make(map[string]bool)
	for _, m := range tm.ItemMappings {
		if !expected[ExpectedObservation{ObservationID: m.ObservationID, EvidenceID: m.EvidenceID}] {
			return Validationf("task model %s: item %s maps to (%s, %s) which is not an expected observation",
				tm.ID, m.ItemID, m.ObservationID, m.EvidenceID)
		}
		if items[m.ItemID] {
			return Validationf("task model %s: item %s mapped twice", tm.ID, m.ItemID)
		}
		items[m.ItemID] = true
	}
	return nil
}

// ValidateQuestion checks the fields each question type needs.
func ValidateQuestion(q Question) error {
	if q.ID == "" {
		return Validationf("question id is required")
	}
	switch q.Type {
	case QuestionMCQ:
		if q.CorrectOptionID == "" {
			return Validationf("question %s: mcq requires correctOptionId", q.ID)
		}
	case QuestionMSQ:
		if len(q.CorrectOptionIDs) == 0 {
			return Validationf("question %s: msq requires correctOptionIds", q.ID)
		}
	case QuestionOpen, QuestionConstructed, QuestionRubric, QuestionNumeric:
	case QuestionReading:
		if len(q.SubQuestionIDs) == 0 {
			return Validationf("question %s: reading passage has no sub-questions", q.ID)
		}
	default:
		return Validationf("question %s: unknown type %q", q.ID, q.Type)
	}
	return nil
}

// ValidatePolicy checks the policy carries a config of its declared type.
func ValidatePolicy(p Policy) error {
	if p.ID == "" {
		return Validationf("policy id is required")
	}
	switch c := p.Config.(type) {
	case IRTPolicyConfig:
		if c.MaxItems < 0 {
			return Validationf("policy %s: maxItems must not be negative", p.ID)
		}
	case BayesianPolicyConfig:
		if c.Threshold < 0 || c.Threshold > 1 {
			return Validationf("policy %s: threshold must be within [0,1]", p.ID)
		}
	case MarkovPolicyConfig:
		for from, row := range c.Transitions {
			var sum float64
			for _, prob := range row {
				sum += prob
			}
			if sum > 1+1e-9 {
				return Validationf("policy %s: transitions from %s sum to %v", p.ID, from, sum)
			}
		}
	case nil:
		return Validationf("policy %s: config is required", p.ID)
	default:
		return fmt.Errorf("policy %s: unsupported config %T", p.ID, c)
	}
	return nil
}
