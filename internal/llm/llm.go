// Package llm asks an OpenAI-compatible model for grading suggestions on
// responses that need manual grading. Suggestions are advisory; a teacher
// still records the grade.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/ecd/internal/model"
)

// GradingInput is one response awaiting a grade.
type GradingInput struct {
	Question  model.Question
	Rubric    *model.Rubric
	RawAnswer string
}

// Suggestion is the model's proposed grade.
type Suggestion struct {
	RubricLevel string   `json:"rubricLevel,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	Rationale   string   `json:"rationale"`
}

// rawSuggestion is the JSON shape the prompt asks for.
type rawSuggestion struct {
	RubricLevel string   `json:"rubric_level"`
	Score       *float64 `json:"score"`
	Rationale   string   `json:"rationale"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant PromptVariant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: PromptVariant(variant),
	}, nil
}

// Ping checks the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Suggest proposes a rubric level, or a 0..1 score when there is no rubric.
// A level outside the rubric is reported as model.ErrInvalidLevel.
func (c *Client) Suggest(ctx context.Context, in GradingInput) (*Suggestion, error) {
	system, err := buildSystemPrompt(c.variant, in)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(in.RawAnswer)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", in.Question.ID, "raw", raw)
	return parseSuggestion(raw, in.Rubric)
}

func parseSuggestion(raw string, rubric *model.Rubric) (*Suggestion, error) {
	var rs rawSuggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rs); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	s := &Suggestion{Rationale: rs.Rationale}
	if rubric != nil {
		lvl, ok := rubric.Level(rs.RubricLevel)
		if !ok {
			return nil, model.InvalidLevelf("suggested level %q is not part of rubric %s", rs.RubricLevel, rubric.ID)
		}
		s.RubricLevel = lvl.Name
		s.Score = model.Float(lvl.Score)
		return s, nil
	}
	if rs.Score == nil {
		return nil, fmt.Errorf("LLM response has no score (raw: %s)", raw)
	}
	v := *rs.Score
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.Score = model.Float(v)
	return s, nil
}
