package inbound

import (
	"context"
	"errors"
	"testing"

	domainCredential "go-line-scheduler/src/domain/credential"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReplier struct {
	mock.Mock
}

func (m *mockReplier) ReplyMessage(ctx context.Context, replyToken string, messages []line.Message) error {
	args := m.Called(ctx, replyToken, messages)
	return args.Error(0)
}

func (m *mockReplier) GetGroupSummary(ctx context.Context, groupID string) (*line.GroupSummary, error) {
	args := m.Called(ctx, groupID)
	summary, _ := args.Get(0).(*line.GroupSummary)
	return summary, args.Error(1)
}

type memDestinations struct {
	upserts []domainCredential.ChatDestination
	err     error
}

func (m *memDestinations) Upsert(_ context.Context, d *domainCredential.ChatDestination) error {
	if m.err != nil {
		return m.err
	}
	m.upserts = append(m.upserts, *d)
	return nil
}

func textEvent(sourceType, id, text string) Event {
	src := Source{Type: sourceType}
	switch sourceType {
	case "group":
		src.GroupID = id
	case "room":
		src.RoomID = id
	default:
		src.UserID = id
	}
	return Event{Type: "message", ReplyToken: "rt-1", Source: src, Message: EventMessage{Type: "text", Text: text}}
}

func TestHandle_UserCommandRegistersAndReplies(t *testing.T) {
	store := &memDestinations{}
	replier := &mockReplier{}
	replier.On("ReplyMessage", mock.Anything, "rt-1", mock.MatchedBy(func(msgs []line.Message) bool {
		return len(msgs) == 1 && msgs[0].Type == "text" &&
			msgs[0].Text == "[Bot A]\nRegistered successfully!\nUser ID: U1"
	})).Return(nil)
	h := NewRegistrationHandler(store, logger.NewNopLogger())

	err := h.Handle(context.Background(), textEvent("user", "U1", " !ID "), Dispatch{CredentialID: "a", CredentialName: "Bot A", Client: replier})
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, domainCredential.DestinationUser, store.upserts[0].Type)
	assert.Equal(t, "a", store.upserts[0].CredentialID)
	replier.AssertExpectations(t)
}

func TestHandle_GroupCommandUsesSummaryOnce(t *testing.T) {
	store := &memDestinations{}
	replier := &mockReplier{}
	replier.On("GetGroupSummary", mock.Anything, "C1").
		Return(&line.GroupSummary{GroupID: "C1", GroupName: "Team", PictureURL: "https://p.example.com/t.jpg"}, nil).Once()
	replier.On("ReplyMessage", mock.Anything, "rt-1", mock.Anything).Return(nil).Once()
	h := NewRegistrationHandler(store, logger.NewNopLogger())

	err := h.Handle(context.Background(), textEvent("group", "C1", "!reg"), Dispatch{CredentialID: "b", CredentialName: "Bot B", Client: replier})
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "Team", store.upserts[0].Name)
	assert.Equal(t, "b", store.upserts[0].CredentialID)
	replier.AssertExpectations(t)
}

func TestHandle_JoinSyncsGroupEvenWhenSummaryFails(t *testing.T) {
	store := &memDestinations{}
	replier := &mockReplier{}
	replier.On("GetGroupSummary", mock.Anything, "C9").Return(nil, &line.APIError{StatusCode: 403, Message: "forbidden"})
	h := NewRegistrationHandler(store, logger.NewNopLogger())

	ev := Event{Type: "join", ReplyToken: "rt", Source: Source{Type: "group", GroupID: "C9"}}
	require.NoError(t, h.Handle(context.Background(), ev, Dispatch{CredentialID: "a", Client: replier}))
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "C9", store.upserts[0].DestinationID)
	assert.Empty(t, store.upserts[0].Name)
	replier.AssertNotCalled(t, "ReplyMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_PlainGroupMessageRefreshesSummary(t *testing.T) {
	store := &memDestinations{}
	replier := &mockReplier{}
	replier.On("GetGroupSummary", mock.Anything, "C2").Return(&line.GroupSummary{GroupName: "Ops"}, nil)
	h := NewRegistrationHandler(store, logger.NewNopLogger())

	require.NoError(t, h.Handle(context.Background(), textEvent("group", "C2", "good morning"), Dispatch{CredentialID: "a", Client: replier}))
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "Ops", store.upserts[0].Name)
}

func TestHandle_UserChatterIsIgnored(t *testing.T) {
	store := &memDestinations{}
	h := NewRegistrationHandler(store, logger.NewNopLogger())

	require.NoError(t, h.Handle(context.Background(), textEvent("user", "U1", "hello"), Dispatch{CredentialID: "a"}))
	assert.Empty(t, store.upserts)
}

func TestHandle_StoreErrorIsReturned(t *testing.T) {
	store := &memDestinations{err: errors.New("db down")}
	h := NewRegistrationHandler(store, logger.NewNopLogger())

	err := h.Handle(context.Background(), textEvent("room", "R1", "!sync"), Dispatch{CredentialID: "a"})
	assert.ErrorContains(t, err, "db down")
}

func TestIsRegistrationCommand(t *testing.T) {
	for _, cmd := range []string{"!id", ".id", "!reg", "!sync", " !SYNC "} {
		assert.True(t, IsRegistrationCommand(cmd), cmd)
	}
	assert.False(t, IsRegistrationCommand("id"))
	assert.False(t, IsRegistrationCommand("!id please"))
}
