package report

import (
	"github.com/pavelanni/ecd/internal/model"
)

// Contribution is one scored response credited to a competency.
type Contribution struct {
	CompetencyID string
	Value        float64
	// Max is the best score the item allows: 1 for auto-graded items, the top
	// rubric level for rubric items.
	Max      float64
	IsRubric bool
}

type tally struct {
	sum, max    float64
	count       int
	rubricSum   float64
	rubricCount int
}

func (t *tally) add(c Contribution) {
	t.sum += c.Value
	t.max += c.Max
	t.count++
	if c.IsRubric {
		t.rubricSum += c.Value
		t.rubricCount++
	}
}

func (t *tally) merge(o tally) {
	t.sum += o.sum
	t.max += o.max
	t.count += o.count
	t.rubricSum += o.rubricSum
	t.rubricCount += o.rubricCount
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Aggregate computes one score per competency, in registry order. Competencies
// without contributors score 0. RollupAverage covers the competency and all of
// its descendants.
func Aggregate(comps []model.Competency, contribs []Contribution) []model.CompetencyScore {
	own := make(map[string]*tally, len(comps))
	children := make(map[string][]string)
	for _, c := range comps {
		own[c.ID] = &tally{}
		if c.ParentID != "" {
			children[c.ParentID] = append(children[c.ParentID], c.ID)
		}
	}
	for _, c := range contribs {
		if t, ok := own[c.CompetencyID]; ok {
			t.add(c)
		}
	}

	subtree := make(map[string]tally, len(comps))
	var walk func(id string, seen map[string]bool) tally
	walk = func(id string, seen map[string]bool) tally {
		if t, ok := subtree[id]; ok {
			return t
		}
		if seen[id] {
			return tally{}
		}
		seen[id] = true
		t := *own[id]
		for _, child := range children[id] {
			t.merge(walk(child, seen))
		}
		subtree[id] = t
		return t
	}

	out := make([]model.CompetencyScore, 0, len(comps))
	for _, c := range comps {
		t := own[c.ID]
		st := walk(c.ID, make(map[string]bool))
		out = append(out, model.CompetencyScore{
			CompetencyID:   c.ID,
			Name:           c.Name,
			ParentID:       c.ParentID,
			Average:        ratio(t.sum, float64(t.count)),
			Count:          t.count,
			RubricAverage:  ratio(t.rubricSum, float64(t.rubricCount)),
			RubricCount:    t.rubricCount,
			Mastery:        ratio(t.sum, t.max),
			RollupAverage:  ratio(st.sum, float64(st.count)),
			HasDescendants: len(children[c.ID]) > 0,
		})
	}
	return out
}

// EvidenceScore is an evidence model's result under its measurement model.
type EvidenceScore struct {
	EvidenceModelID string                `json:"evidenceModelId"`
	Name            string                `json:"name"`
	Type            model.MeasurementType `json:"type"`
	Score           *float64              `json:"score,omitempty"`
	Observations    int                   `json:"observations"`
	// Delegated is set for irt and BN models, which are scored by an external engine.
	Delegated bool `json:"delegated,omitempty"`
}

// Measure applies em's measurement model to the scored responses attributed to it.
func Measure(em model.EvidenceModel, responses []model.Response) EvidenceScore {
	es := EvidenceScore{EvidenceModelID: em.ID, Name: em.Name, Type: em.MeasurementModel.Type()}
	switch es.Type {
	case model.MeasurementIRT, model.MeasurementBN:
		es.Delegated = true
		for _, r := range responses {
			if r.Scored() {
				es.Observations++
			}
		}
		return es
	}

	var weighted, weights float64
	for _, r := range responses {
		if !r.Scored() {
			continue
		}
		if es.Type == model.MeasurementRubric && !r.IsRubric {
			continue
		}
		w := weightFor(em, r.ObservationID)
		weighted += w * *r.ScoredValue
		weights += w
		es.Observations++
	}
	switch es.Type {
	case model.MeasurementSum:
		es.Score = model.Float(weighted)
	default:
		es.Score = model.Float(ratio(weighted, weights))
	}
	return es
}

// weightFor prefers a weight keyed by the observation's rubric id over one
// keyed by the observation id.
func weightFor(em model.EvidenceModel, observationID string) float64 {
	if wc, ok := em.MeasurementModel.Config.(model.WeightedConfig); ok {
		if r, ok := em.RubricFor(observationID); ok {
			if w, ok := wc.Weights[r.ID]; ok {
				return w
			}
		}
	}
	return em.MeasurementModel.Weight(observationID)
}

// rubricMax is the highest level score in the rubric linked to observationID,
// or 1 when there is none.
func rubricMax(em model.EvidenceModel, observationID string) float64 {
	r, ok := em.RubricFor(observationID)
	if !ok {
		return 1
	}
	best, found := 0.0, false
	for _, c := range r.Criteria {
		for _, l := range c.Levels {
			if !found || l.Score > best {
				best, found = l.Score, true
			}
		}
	}
	if !found || best <= 0 {
		return 1
	}
	return best
}
