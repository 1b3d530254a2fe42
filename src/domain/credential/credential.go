package credential

import (
	"strings"
	"time"
)

// DefaultID keys the process-wide credential configured through the environment.
const DefaultID = "default"

// Credential is one LINE channel (a "bot"): a distinct sender identity with its own secrets.
type Credential struct {
	ID            string
	Name          string
	BasicID       string
	AccessToken   string
	ChannelSecret string // optional; signature validation is skipped when empty
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c Credential) HasSecret() bool {
	return strings.TrimSpace(c.ChannelSecret) != ""
}

func (c Credential) Usable() bool {
	return c.IsActive && strings.TrimSpace(c.AccessToken) != ""
}

// DisplayName falls back to the id for credentials created without a name.
func (c Credential) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// DestinationType mirrors the LINE webhook source types.
type DestinationType string

const (
	DestinationUser  DestinationType = "user"
	DestinationGroup DestinationType = "group"
	DestinationRoom  DestinationType = "room"
)

// ChatDestination is a chat a bot can push to, registered from inbound events.
type ChatDestination struct {
	ID            int
	DestinationID string
	Type          DestinationType
	Name          string
	PictureURL    string
	CredentialID  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
