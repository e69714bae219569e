package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pavelanni/ecd/internal/model"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 2 * time.Second

// HTTPProvider asks a remote policy service for the next task.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider posting to {baseURL}/policies/{id}/next.
// A zero timeout uses DefaultTimeout.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type nextResponse struct {
	TaskID string `json:"taskId"`
}

// Next implements Provider. Transport errors, timeouts and non-200 replies are
// reported as model.ErrPolicyUnavailable.
func (p *HTTPProvider) Next(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal policy request: %w", err)
	}
	endpoint := p.baseURL + "/policies/" + url.PathEscape(req.Policy.ID) + "/next"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create policy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", model.PolicyUnavailablef("policy request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", model.PolicyUnavailablef("policy service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out nextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", model.PolicyUnavailablef("decode policy response: %v", err)
	}
	return out.TaskID, nil
}
