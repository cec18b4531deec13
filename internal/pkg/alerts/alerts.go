package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ConfigFunc is called each time an alert is attempted to get the latest
// webhook settings.
type ConfigFunc func() (enabled bool, webhookURL string)

// Service posts operational alerts to a configured webhook.
type Service struct {
	configFn   ConfigFunc
	httpClient *http.Client

	mu         sync.Mutex
	lastSentAt map[string]time.Time
	throttleD  time.Duration
}

// New creates an alert service. configFn is called on each send so webhook
// changes made through the settings API apply without a restart.
func New(configFn ConfigFunc) *Service {
	return &Service{
		configFn:   configFn,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		lastSentAt: make(map[string]time.Time),
		throttleD:  30 * time.Minute,
	}
}

type alertPayload struct {
	Source   string `json:"source"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	SentAt   string `json:"sent_at"`
}

// Send posts an alert immediately (no throttle).
func (s *Service) Send(severity, title, body string) error {
	enabled, webhookURL := s.configFn()
	if !enabled {
		return nil
	}
	if webhookURL == "" {
		return fmt.Errorf("alert webhook not configured")
	}

	payload := alertPayload{
		Source:   "researchflow-ai-core",
		Severity: severity,
		Title:    title,
		Body:     body,
		SentAt:   time.Now().UTC().Format(time.RFC3339),
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Post(webhookURL, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// SendThrottled sends at most one alert per key per throttle window.
// Budget and scan-failure alerts use this to avoid flooding the webhook
// on every request once a threshold is crossed.
func (s *Service) SendThrottled(key, severity, title, body string) {
	enabled, webhookURL := s.configFn()
	if !enabled || webhookURL == "" {
		return
	}

	s.mu.Lock()
	last, ok := s.lastSentAt[key]
	if ok && time.Since(last) < s.throttleD {
		s.mu.Unlock()
		return
	}
	s.lastSentAt[key] = time.Now()
	s.mu.Unlock()

	_ = s.Send(severity, title, body)
}
