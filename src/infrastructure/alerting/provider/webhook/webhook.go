package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-line-scheduler/src/infrastructure/alerting/alert"
)

var (
	ErrURLNotSet     = errors.New("webhook url not set")
	ErrInvalidScheme = errors.New("webhook url must be http or https")
)

const defaultTimeout = 10 * time.Second

// AlertProvider POSTs alerts as JSON to a configured URL
type AlertProvider struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`

	// DefaultAlert is the default alert configuration to use for alerts with an alert of the appropriate type
	DefaultAlert *alert.Alert `yaml:"default-alert,omitempty"`

	client *http.Client
}

type payload struct {
	Type        string            `json:"type"`
	Subject     string            `json:"subject"`
	Description string            `json:"description"`
	Fields      map[string]string `json:"fields,omitempty"`
	Checksum    string            `json:"checksum"`
	Timestamp   int64             `json:"timestamp"`
}

func (provider *AlertProvider) Validate() error {
	if provider.URL == "" {
		return ErrURLNotSet
	}
	u, err := url.Parse(provider.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidScheme
	}
	return nil
}

func (provider *AlertProvider) httpClient() *http.Client {
	if provider.client == nil {
		timeout := provider.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		provider.client = &http.Client{Timeout: timeout}
	}
	return provider.client
}

func (provider *AlertProvider) Send(ctx context.Context, a *alert.Alert) error {
	body, err := json.Marshal(payload{
		Type:        string(a.Type),
		Subject:     a.GetSubject(),
		Description: a.GetDescription(),
		Fields:      a.Fields,
		Checksum:    a.Checksum(),
		Timestamp:   a.TriggeredAt.Unix(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-line-scheduler-Alert")
	for k, v := range provider.Headers {
		req.Header.Set(k, v)
	}
	resp, err := provider.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode > 399 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call to webhook alert provider returned status code %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func (provider *AlertProvider) GetDefaultAlert() *alert.Alert {
	return provider.DefaultAlert
}
