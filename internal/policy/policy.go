// Package policy picks the next task of a session, either in fixed order or by
// asking an external adaptive-policy provider.
package policy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavelanni/ecd/internal/model"
)

// Selector returns the next task id for a session, or ok=false when none remains.
// Calling Next twice without an intervening submit returns the same answer.
type Selector interface {
	Next(ctx context.Context, s model.Session) (taskID string, ok bool)
}

// Fixed hands out the session's tasks in listed order.
type Fixed struct{}

// Next returns the first task with no response.
func (Fixed) Next(_ context.Context, s model.Session) (string, bool) {
	for _, id := range s.TaskIDs {
		if _, answered := s.ResponseFor(id); !answered {
			return id, true
		}
	}
	return "", false
}

// Remaining returns the unanswered tasks in listed order.
func Remaining(s model.Session) []string {
	var out []string
	for _, id := range s.TaskIDs {
		if _, answered := s.ResponseFor(id); !answered {
			out = append(out, id)
		}
	}
	return out
}

// Request is what a provider is asked.
type Request struct {
	Policy     model.Policy     `json:"policy"`
	SessionID  string           `json:"sessionId"`
	StudentID  string           `json:"studentId"`
	History    []model.Response `json:"history"`
	Candidates []string         `json:"candidates"`
}

// Provider computes adaptive selections. An empty task id means the policy
// considers the session done.
type Provider interface {
	Next(ctx context.Context, req Request) (string, error)
}

// PolicyLookup resolves policy definitions.
type PolicyLookup interface {
	Policy(ctx context.Context, id string) (model.Policy, error)
}

// Engine dispatches on the session's selection strategy. Adaptive selection
// falls back to fixed order whenever the provider cannot answer.
type Engine struct {
	policies PolicyLookup
	provider Provider
	fixed    Fixed
}

// NewEngine creates an Engine. provider may be nil, in which case adaptive
// sessions always use the fixed order.
func NewEngine(policies PolicyLookup, provider Provider) *Engine {
	return &Engine{policies: policies, provider: provider}
}

// Next implements Selector.
func (e *Engine) Next(ctx context.Context, s model.Session) (string, bool) {
	if s.SelectionStrategy != model.StrategyAdaptive {
		return e.fixed.Next(ctx, s)
	}
	id, ok, err := e.adaptive(ctx, s)
	if err != nil {
		slog.Warn("adaptive policy unavailable, using fixed order",
			"session_id", s.ID, "policy_id", policyID(s), "error", err)
		return e.fixed.Next(ctx, s)
	}
	return id, ok
}

func (e *Engine) adaptive(ctx context.Context, s model.Session) (string, bool, error) {
	candidates := Remaining(s)
	if len(candidates) == 0 {
		return "", false, nil
	}
	if e.provider == nil {
		return "", false, model.PolicyUnavailablef("no policy provider configured")
	}
	pid := policyID(s)
	if pid == "" {
		return "", false, model.PolicyUnavailablef("session %s has no policy", s.ID)
	}
	p, err := e.policies.Policy(ctx, pid)
	if err != nil {
		return "", false, model.PolicyUnavailablef("load policy %s: %v", pid, err)
	}

	id, err := e.provider.Next(ctx, Request{
		Policy:     p,
		SessionID:  s.ID,
		StudentID:  s.StudentID,
		History:    s.Responses,
		Candidates: candidates,
	})
	if err != nil {
		if errors.Is(err, model.ErrPolicyUnavailable) {
			return "", false, err
		}
		return "", false, model.PolicyUnavailablef("policy %s: %v", pid, err)
	}
	if id == "" {
		return "", false, nil
	}
	for _, c := range candidates {
		if c == id {
			return id, true, nil
		}
	}
	return "", false, model.PolicyUnavailablef("policy %s chose %s, which is not an open task of the session", pid, id)
}

func policyID(s model.Session) string {
	return s.NextTaskPolicy.PolicyID
}
