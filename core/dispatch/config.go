package dispatch

import "fmt"

// Config defines the tunable parameters of the dispatch state machine.
type Config struct {
	// MaxWaitSeconds bounds the poll wait for one call. The webhook is the
	// normal completion path; this is the backstop.
	MaxWaitSeconds int `json:"max_wait_seconds"`
	// PollIntervalSeconds is the call-provider poll cadence.
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	// AdvanceDelaySeconds is a best-effort debounce before calling the next
	// candidate, letting an in-flight webhook for the previous entry land.
	// Correctness never depends on it; zero is valid.
	AdvanceDelaySeconds int `json:"advance_delay_seconds"`
	// CountryCode is prefixed to bare 10-digit driver numbers.
	CountryCode string `json:"country_code"`
	// AlertType labels the outbound call payload.
	AlertType string `json:"alert_type"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MaxWaitSeconds == 0 {
		c.MaxWaitSeconds = 120
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 5
	}
	if c.AdvanceDelaySeconds == 0 {
		c.AdvanceDelaySeconds = 5
	}
	if c.CountryCode == "" {
		c.CountryCode = "91"
	}
	if c.AlertType == "" {
		c.AlertType = "Raftaar Ambulance Alert"
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.MaxWaitSeconds < 0 || c.PollIntervalSeconds < 0 || c.AdvanceDelaySeconds < 0 {
		return fmt.Errorf("dispatch durations must not be negative")
	}
	if c.PollIntervalSeconds > c.MaxWaitSeconds && c.MaxWaitSeconds > 0 {
		return fmt.Errorf("poll interval %ds exceeds max wait %ds", c.PollIntervalSeconds, c.MaxWaitSeconds)
	}
	return nil
}
