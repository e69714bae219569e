package model

import (
	"encoding/json"
	"fmt"
)

// Evidence is a named piece of evidence an evidence model collects.
type Evidence struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Construct is a claim about a learner, optionally linked to a competency and an evidence.
type Construct struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CompetencyID string `json:"linkedCompetencyId,omitempty"`
	EvidenceID   string `json:"evidenceId,omitempty"`
}

// ScoringKind describes how an observation is scored.
type ScoringKind string

const (
	ScoringBinary  ScoringKind = "binary"
	ScoringPartial ScoringKind = "partial"
	ScoringRubric  ScoringKind = "rubric"
)

// Observation is a scorable signal captured from one or more questions.
type Observation struct {
	ID                string      `json:"id"`
	ConstructID       string      `json:"constructId"`
	Type              string      `json:"type,omitempty"`
	LinkedQuestionIDs []string    `json:"linkedQuestionIds,omitempty"`
	Scoring           ScoringKind `json:"scoring"`
}

// RubricLevel is one performance level of a rubric criterion.
type RubricLevel struct {
	Name       string  `json:"name"`
	Descriptor string  `json:"descriptor,omitempty"`
	Score      float64 `json:"score"`
}

// RubricCriterion holds ordered levels.
type RubricCriterion struct {
	Name   string        `json:"name"`
	Levels []RubricLevel `json:"levels"`
}

// Rubric scores one observation.
type Rubric struct {
	ID            string            `json:"id"`
	ObservationID string            `json:"observationId"`
	Criteria      []RubricCriterion `json:"criteria"`
}

// Level finds a level by name across all criteria, first match in declared order.
func (r Rubric) Level(name string) (RubricLevel, bool) {
	for _, c := range r.Criteria {
		for _, l := range c.Levels {
			if l.Name == name {
				return l, true
			}
		}
	}
	return RubricLevel{}, false
}

// EvidenceModel owns evidences, constructs, observations, rubrics and the measurement model.
type EvidenceModel struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Evidences        []Evidence       `json:"evidences"`
	Constructs       []Construct      `json:"constructs"`
	Observations     []Observation    `json:"observations"`
	Rubrics          []Rubric         `json:"rubrics"`
	MeasurementModel MeasurementModel `json:"measurementModel"`
}

// Observation looks up an observation by id.
func (em EvidenceModel) Observation(id string) (Observation, bool) {
	for _, o := range em.Observations {
		if o.ID == id {
			return o, true
		}
	}
	return Observation{}, false
}

// Construct looks up a construct by id.
func (em EvidenceModel) Construct(id string) (Construct, bool) {
	for _, c := range em.Constructs {
		if c.ID == id {
			return c, true
		}
	}
	return Construct{}, false
}

// RubricFor returns the rubric linked to an observation.
func (em EvidenceModel) RubricFor(observationID string) (Rubric, bool) {
	for _, r := range em.Rubrics {
		if r.ObservationID == observationID {
			return r, true
		}
	}
	return Rubric{}, false
}

// MeasurementType tags a measurement model.
type MeasurementType string

const (
	MeasurementSum     MeasurementType = "sum"
	MeasurementAverage MeasurementType = "average"
	MeasurementIRT     MeasurementType = "irt"
	MeasurementRubric  MeasurementType = "rubric"
	MeasurementBN      MeasurementType = "BN"
)

// MeasurementConfig is the type-specific configuration of a measurement model.
type MeasurementConfig interface {
	MeasurementType() MeasurementType
}

// WeightedConfig configures sum, average and rubric measurement models.
// Weights are keyed by observation or rubric id; a missing key weighs 1.
type WeightedConfig struct {
	Kind    MeasurementType    `json:"-"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

func (c WeightedConfig) MeasurementType() MeasurementType { return c.Kind }

// IRTItem holds item parameters for one observation.
type IRTItem struct {
	Discrimination float64 `json:"a"`
	Difficulty     float64 `json:"b"`
	Guessing       float64 `json:"c,omitempty"`
}

// IRTConfig configures an IRT measurement model.
type IRTConfig struct {
	Model string             `json:"model"` // 1PL, 2PL or 3PL
	Items map[string]IRTItem `json:"items"`
}

func (IRTConfig) MeasurementType() MeasurementType { return MeasurementIRT }

// BayesianConfig configures a Bayesian network measurement model.
type BayesianConfig struct {
	Nodes []string             `json:"nodes"`
	CPTs  map[string][]float64 `json:"cpts"`
}

func (BayesianConfig) MeasurementType() MeasurementType { return MeasurementBN }

// MeasurementModel is a tagged union over MeasurementConfig implementations.
type MeasurementModel struct {
	Config MeasurementConfig
}

// Type returns the tag, or "" when unset.
func (m MeasurementModel) Type() MeasurementType {
	if m.Config == nil {
		return ""
	}
	return m.Config.MeasurementType()
}

// Weight returns the weight for an observation/rubric id. Non-weighted models weigh 1.
func (m MeasurementModel) Weight(id string) float64 {
	if wc, ok := m.Config.(WeightedConfig); ok {
		if w, ok := wc.Weights[id]; ok {
			return w
		}
	}
	return 1
}

type measurementWire struct {
	Type           MeasurementType    `json:"type"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	IRTConfig      *IRTConfig         `json:"irtConfig,omitempty"`
	BayesianConfig *BayesianConfig    `json:"bayesianConfig,omitempty"`
}

func (m MeasurementModel) MarshalJSON() ([]byte, error) {
	w := measurementWire{Type: m.Type()}
	switch c := m.Config.(type) {
	case WeightedConfig:
		w.Weights = c.Weights
	case IRTConfig:
		w.IRTConfig = &c
	case BayesianConfig:
		w.BayesianConfig = &c
	case nil:
		return []byte("null"), nil
	}
	return json.Marshal(w)
}

func (m *MeasurementModel) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		m.Config = nil
		return nil
	}
	var w measurementWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case MeasurementSum, MeasurementAverage, MeasurementRubric:
		if w.IRTConfig != nil || w.BayesianConfig != nil {
			return Validationf("measurement model %q carries config of another type", w.Type)
		}
		m.Config = WeightedConfig{Kind: w.Type, Weights: w.Weights}
	case MeasurementIRT:
		if w.IRTConfig == nil {
			return Validationf("measurement model irt requires irtConfig")
		}
		if w.Weights != nil || w.BayesianConfig != nil {
			return Validationf("measurement model irt carries config of another type")
		}
		m.Config = *w.IRTConfig
	case MeasurementBN:
		if w.BayesianConfig == nil {
			return Validationf("measurement model BN requires bayesianConfig")
		}
		if w.Weights != nil || w.IRTConfig != nil {
			return Validationf("measurement model BN carries config of another type")
		}
		m.Config = *w.BayesianConfig
	default:
		return Validationf("unknown measurement model type %q", w.Type)
	}
	return nil
}

// String implements fmt.Stringer for log output.
func (m MeasurementModel) String() string {
	return fmt.Sprintf("measurement(%s)", m.Type())
}
