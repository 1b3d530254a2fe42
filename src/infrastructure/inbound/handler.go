package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainCredential "go-line-scheduler/src/domain/credential"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
)

// Replier is what event handling needs from the selected credential's client.
type Replier interface {
	ReplyMessage(ctx context.Context, replyToken string, messages []line.Message) error
	GetGroupSummary(ctx context.Context, groupID string) (*line.GroupSummary, error)
}

// Dispatch ties an event to the credential that received it, so replies use the same identity.
type Dispatch struct {
	CredentialID   string
	CredentialName string
	Client         Replier
}

type DestinationStore interface {
	Upsert(ctx context.Context, d *domainCredential.ChatDestination) error
}

var registrationCommands = map[string]struct{}{
	"!id":   {},
	".id":   {},
	"!reg":  {},
	"!sync": {},
}

func IsRegistrationCommand(text string) bool {
	_, ok := registrationCommands[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// RegistrationHandler records chats the bot is reachable in and answers the id commands.
type RegistrationHandler struct {
	destinations DestinationStore
	Logger       *logger.Logger
}

func NewRegistrationHandler(destinations DestinationStore, loggerInstance *logger.Logger) *RegistrationHandler {
	return &RegistrationHandler{destinations: destinations, Logger: loggerInstance}
}

func (h *RegistrationHandler) Handle(ctx context.Context, ev Event, d Dispatch) error {
	h.Logger.Debug("Handling webhook event",
		zap.String("eventType", ev.Type),
		zap.String("sourceType", ev.Source.Type),
		zap.String("credentialID", d.CredentialID))

	groupSynced := false
	if ev.Type == "message" && ev.Message.Type == "text" && IsRegistrationCommand(ev.Message.Text) {
		if err := h.register(ctx, ev, d); err != nil {
			return err
		}
		groupSynced = ev.Source.Type == "group"
	}

	if !groupSynced && ev.Source.Type == "group" && ev.Source.GroupID != "" &&
		(ev.Type == "join" || ev.Type == "message") {
		return h.destinations.Upsert(ctx, h.groupDestination(ctx, ev.Source.GroupID, d))
	}
	return nil
}

func (h *RegistrationHandler) register(ctx context.Context, ev Event, d Dispatch) error {
	id := ev.Source.ID()
	if id == "" {
		return fmt.Errorf("%s event carries no source id", ev.Source.Type)
	}

	var dest *domainCredential.ChatDestination
	var label string
	switch ev.Source.Type {
	case "group":
		dest, label = h.groupDestination(ctx, id, d), "Group ID"
	case "room":
		dest = &domainCredential.ChatDestination{DestinationID: id, Type: domainCredential.DestinationRoom, CredentialID: d.CredentialID}
		label = "Room ID"
	case "user":
		dest = &domainCredential.ChatDestination{DestinationID: id, Type: domainCredential.DestinationUser, CredentialID: d.CredentialID}
		label = "User ID"
	default:
		return fmt.Errorf("unsupported source type %q", ev.Source.Type)
	}

	if err := h.destinations.Upsert(ctx, dest); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	h.Logger.Info("Chat destination registered by command",
		zap.String("destinationID", id), zap.String("credentialID", d.CredentialID))

	if d.Client == nil || ev.ReplyToken == "" {
		return nil
	}
	reply := fmt.Sprintf("[%s]\nRegistered successfully!\n%s: %s", d.CredentialName, label, id)
	if err := d.Client.ReplyMessage(ctx, ev.ReplyToken, []line.Message{line.NewTextMessage(reply)}); err != nil {
		return fmt.Errorf("reply to %s: %w", id, err)
	}
	return nil
}

// groupDestination fetches the group's name and picture; on failure the bare id is still returned.
func (h *RegistrationHandler) groupDestination(ctx context.Context, groupID string, d Dispatch) *domainCredential.ChatDestination {
	dest := &domainCredential.ChatDestination{
		DestinationID: groupID,
		Type:          domainCredential.DestinationGroup,
		CredentialID:  d.CredentialID,
	}
	if d.Client == nil {
		return dest
	}
	summary, err := d.Client.GetGroupSummary(ctx, groupID)
	if err != nil {
		var apiErr *line.APIError
		if errors.As(err, &apiErr) {
			h.Logger.Warn("Group summary unavailable, registering id only",
				zap.String("groupID", groupID), zap.Int("statusCode", apiErr.StatusCode))
		} else {
			h.Logger.Warn("Group summary unavailable, registering id only",
				zap.String("groupID", groupID), zap.Error(err))
		}
		return dest
	}
	dest.Name = summary.GroupName
	dest.PictureURL = summary.PictureURL
	return dest
}
