package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"time"
)

// Alert is one operational alert, or a provider's default alert configuration when loaded from yaml
type Alert struct {
	Type Type `yaml:"type"`

	Enabled *bool `yaml:"enabled,omitempty"`

	Description *string `yaml:"description,omitempty"`

	Subject *string `yaml:"subject,omitempty"`

	// Fields carries structured context such as the failure count
	Fields map[string]string `yaml:"fields,omitempty"`

	TriggeredAt time.Time `yaml:"-"`
}

// New builds an enabled alert of type t.
func New(t Type, subject, description string) *Alert {
	return &Alert{
		Type:        t,
		Subject:     &subject,
		Description: &description,
		TriggeredAt: time.Now().UTC(),
	}
}

// GetDescription retrieves the description of the alert
func (alert *Alert) GetDescription() string {
	if alert.Description == nil {
		return ""
	}
	return *alert.Description
}

func (alert *Alert) GetSubject() string {
	if alert.Subject == nil {
		return ""
	}
	return *alert.Subject
}

// IsEnabled returns whether an alert is enabled or not
// Returns true if not set
func (alert *Alert) IsEnabled() bool {
	if alert.Enabled == nil {
		return true
	}
	return *alert.Enabled
}

// Checksum identifies alerts with the same type, subject and description
func (alert *Alert) Checksum() string {
	hash := sha256.New()
	hash.Write([]byte(string(alert.Type) + "_" +
		strconv.FormatBool(alert.IsEnabled()) + "_" +
		alert.GetSubject() + "_" +
		alert.GetDescription()),
	)
	return hex.EncodeToString(hash.Sum(nil))
}

// SortedFieldKeys returns the field names in a stable order for rendering.
func (alert *Alert) SortedFieldKeys() []string {
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
