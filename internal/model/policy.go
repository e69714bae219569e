package model

import (
	"bytes"
	"encoding/json"
)

// PolicyType tags an adaptive task-selection policy.
type PolicyType string

const (
	PolicyIRT             PolicyType = "IRT"
	PolicyBayesianNetwork PolicyType = "BayesianNetwork"
	PolicyMarkovChain     PolicyType = "MarkovChain"
)

// PolicyConfig is the type-specific configuration of a policy. The engine passes it
// through to the provider untouched.
type PolicyConfig interface {
	PolicyType() PolicyType
}

// IRTPolicyConfig configures computerized adaptive testing over an item bank.
type IRTPolicyConfig struct {
	ItemBank   string  `json:"itemBank,omitempty"`
	StartTheta float64 `json:"startTheta"`
	MaxItems   int     `json:"maxItems,omitempty"`
}

func (IRTPolicyConfig) PolicyType() PolicyType { return PolicyIRT }

// BayesianPolicyConfig selects tasks that maximize information on target nodes.
type BayesianPolicyConfig struct {
	TargetNodes []string `json:"targetNodes"`
	Threshold   float64  `json:"threshold,omitempty"`
}

func (BayesianPolicyConfig) PolicyType() PolicyType { return PolicyBayesianNetwork }

// MarkovPolicyConfig holds task-to-task transition probabilities.
type MarkovPolicyConfig struct {
	Transitions map[string]map[string]float64 `json:"transitions"`
}

func (MarkovPolicyConfig) PolicyType() PolicyType { return PolicyMarkovChain }

// Policy is a named adaptive-selection configuration.
type Policy struct {
	ID     string
	Name   string
	Config PolicyConfig
}

// Type returns the policy tag, or "" when unset.
func (p Policy) Type() PolicyType {
	if p.Config == nil {
		return ""
	}
	return p.Config.PolicyType()
}

type policyWire struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Type   PolicyType      `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (p Policy) MarshalJSON() ([]byte, error) {
	w := policyWire{ID: p.ID, Name: p.Name, Type: p.Type()}
	if p.Config != nil {
		raw, err := json.Marshal(p.Config)
		if err != nil {
			return nil, err
		}
		w.Config = raw
	}
	return json.Marshal(w)
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var w policyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var cfg PolicyConfig
	switch w.Type {
	case PolicyIRT:
		var c IRTPolicyConfig
		if err := decodeConfig(w.Config, &c); err != nil {
			return err
		}
		cfg = c
	case PolicyBayesianNetwork:
		var c BayesianPolicyConfig
		if err := decodeConfig(w.Config, &c); err != nil {
			return err
		}
		cfg = c
	case PolicyMarkovChain:
		var c MarkovPolicyConfig
		if err := decodeConfig(w.Config, &c); err != nil {
			return err
		}
		cfg = c
	default:
		return Validationf("policy %q: unknown type %q", w.ID, w.Type)
	}
	p.ID, p.Name, p.Config = w.ID, w.Name, cfg
	return nil
}

// decodeConfig rejects fields that do not belong to the declared config shape.
func decodeConfig(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return Validationf("policy config: %v", err)
	}
	return nil
}
