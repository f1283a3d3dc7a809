// Package whatsapp sends templated WhatsApp messages over a DoubleTick-style
// HTTP API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raftaar/ambudispatch/core/logger"
)

// Config defines the messaging provider settings.
type Config struct {
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	TemplateName   string `json:"template_name"`
	Language       string `json:"language"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults assigns default values for unset fields.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = "https://public.doubletick.io/whatsapp/message/template"
	}
	if c.TemplateName == "" {
		c.TemplateName = "raftaar_ambulance_alert"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks the credentials are present before the first send.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("whatsapp: api_key is required")
	}
	return nil
}

// Client implements notify.Sender against the provider's template endpoint.
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

type templateMessage struct {
	To      string          `json:"to"`
	Content templateContent `json:"content"`
}

type templateContent struct {
	TemplateName string       `json:"templateName"`
	Language     string       `json:"language"`
	TemplateData templateData `json:"templateData"`
}

type templateData struct {
	Body templateBody `json:"body"`
}

type templateBody struct {
	Placeholders []string `json:"placeholders"`
}

type sendResponse struct {
	Messages []struct {
		MessageID string `json:"messageId"`
		Status    string `json:"status"`
	} `json:"messages"`
	Message string `json:"message"`
}

// SendTemplate delivers the three-placeholder template to the given phone
// number and returns the provider message id when one is reported.
func (c *Client) SendTemplate(ctx context.Context, phone string, fields [3]string) (string, error) {
	to := whatsAppNumber(phone)
	if to == "" {
		return "", fmt.Errorf("whatsapp: invalid phone %q", phone)
	}
	payload := struct {
		Messages []templateMessage `json:"messages"`
	}{
		Messages: []templateMessage{{
			To: to,
			Content: templateContent{
				TemplateName: c.cfg.TemplateName,
				Language:     c.cfg.Language,
				TemplateData: templateData{Body: templateBody{Placeholders: fields[:]}},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("whatsapp: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send template: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var out sendResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("whatsapp: send template: status %d: %s", resp.StatusCode, msg)
	}
	id := ""
	if len(out.Messages) > 0 {
		id = out.Messages[0].MessageID
	}
	c.log.Debugw("template sent", map[string]any{"to": to, "message_id": id})
	return id, nil
}

// whatsAppNumber normalizes to the provider's digits-only 91-prefixed format.
// Returns "" when the number cannot be resolved to ten national digits.
func whatsAppNumber(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()
	switch {
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "91"):
		return cleaned
	case len(cleaned) == 10:
		return "91" + cleaned
	case strings.HasPrefix(strings.TrimSpace(raw), "+") && len(cleaned) > 10:
		return cleaned
	default:
		return ""
	}
}
