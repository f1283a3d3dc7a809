// Package voice implements the outbound call provider over the Bolna-style
// HTTP API.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raftaar/ambudispatch/core/call"
	"github.com/raftaar/ambudispatch/core/logger"
)

// Config defines the voice provider connection settings.
type Config struct {
	BaseURL        string `json:"base_url"`
	CallsPath      string `json:"calls_path"`
	APIKey         string `json:"api_key"`
	AgentID        string `json:"agent_id"`
	FromNumber     string `json:"from_number"`
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults assigns default values for unset fields.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.bolna.ai"
	}
	if c.CallsPath == "" {
		c.CallsPath = "/call"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 15
	}
}

// Validate checks that the credentials needed to place calls are present.
// Missing credentials fail here, at startup, not on the first dispatch.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("voice: api_key is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("voice: agent_id is required")
	}
	return nil
}

// Client talks to the provider's REST API. It implements call.Provider.
type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger
}

// NewClient builds a Client from validated config.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:  log,
	}, nil
}

// callPayload is the provider's call-creation body. The user_data keys must
// match the agent's configured variable names exactly.
type callPayload struct {
	AgentID        string       `json:"agent_id"`
	RecipientPhone string       `json:"recipient_phone_number"`
	FromPhone      string       `json:"from_phone_number,omitempty"`
	WebhookURL     string       `json:"webhook_url,omitempty"`
	UserData       call.Context `json:"user_data"`
}

type callResponse struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id"`
	Message     string `json:"message"`
}

// PlaceCall starts an outbound agent call and returns the execution id that
// keys all later status lookups and webhook deliveries.
func (c *Client) PlaceCall(ctx context.Context, req call.Request) (string, error) {
	payload := callPayload{
		AgentID:        c.cfg.AgentID,
		RecipientPhone: req.Phone,
		FromPhone:      c.cfg.FromNumber,
		WebhookURL:     c.cfg.WebhookURL,
		UserData:       req.Context,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("voice: encode call payload: %w", err)
	}

	url := c.cfg.BaseURL + c.cfg.CallsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("voice: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("voice: place call: %w", err)
	}
	defer resp.Body.Close()

	var out callResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("voice: decode call response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("voice: place call: status %d: %s", resp.StatusCode, msg)
	}
	if out.ExecutionID == "" {
		return "", fmt.Errorf("voice: call response missing execution_id")
	}
	c.log.Debugw("call placed", map[string]any{
		"execution_id": out.ExecutionID,
		"status":       out.Status,
	})
	return out.ExecutionID, nil
}

// GetExecution fetches the current state of a call.
func (c *Client) GetExecution(ctx context.Context, executionID string) (call.Execution, error) {
	url := fmt.Sprintf("%s/v2/executions/%s", c.cfg.BaseURL, executionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return call.Execution{}, fmt.Errorf("voice: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return call.Execution{}, fmt.Errorf("voice: get execution %s: %w", executionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return call.Execution{}, fmt.Errorf("voice: get execution %s: status %d: %s",
			executionID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var exec call.Execution
	if err := json.NewDecoder(resp.Body).Decode(&exec); err != nil {
		return call.Execution{}, fmt.Errorf("voice: decode execution %s: %w", executionID, err)
	}
	if exec.ID == "" {
		exec.ID = executionID
	}
	return exec, nil
}
