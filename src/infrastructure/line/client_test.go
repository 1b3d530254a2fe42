package line

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestPushMessage_SendsBodyAndHeaders(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotRetryKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pushPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotRetryKey = r.Header.Get(retryKeyHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL), WithNotificationDisabled(true))
	err := c.PushMessage(context.Background(), "U1", []Message{
		NewTextMessage("hi"),
		NewImageMessage("https://cdn.example.com/a.png"),
	}, "7a1c0c3e-3d4b-4d8e-9f52-0d6f2c0e6a11")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "7a1c0c3e-3d4b-4d8e-9f52-0d6f2c0e6a11", gotRetryKey)
	assert.Equal(t, "U1", gjson.GetBytes(gotBody, "to").String())
	assert.True(t, gjson.GetBytes(gotBody, "notificationDisabled").Bool())
	assert.Equal(t, "text", gjson.GetBytes(gotBody, "messages.0.type").String())
	assert.Equal(t, "hi", gjson.GetBytes(gotBody, "messages.0.text").String())
	assert.Equal(t, "https://cdn.example.com/a.png", gjson.GetBytes(gotBody, "messages.1.originalContentUrl").String())
}

func TestPushMessage_APIErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)","details":[{"message":"invalid uri","property":"messages[0].originalContentUrl"}]}`))
	}))
	defer srv.Close()

	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL))
	err := c.PushMessage(context.Background(), "U1", []Message{NewTextMessage("x")}, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid uri")
	assert.False(t, IsTransient(err))
}

func TestPushMessage_ConflictWithRetryKeyIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"The retry key is already accepted"}`))
	}))
	defer srv.Close()

	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL))
	assert.NoError(t, c.PushMessage(context.Background(), "U1", []Message{NewTextMessage("x")}, "key"))
}

func TestPushMessage_RejectsTooManyMessages(t *testing.T) {
	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL("http://127.0.0.1:1"))
	msgs := make([]Message, MaxMessagesPerRequest+1)
	for i := range msgs {
		msgs[i] = NewTextMessage("x")
	}
	assert.Error(t, c.PushMessage(context.Background(), "U1", msgs, ""))
	assert.Error(t, c.PushMessage(context.Background(), "U1", nil, ""))
}

func TestGetGroupSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/group/C123/summary", r.URL.Path)
		_, _ = w.Write([]byte(`{"groupId":"C123","groupName":"Team","pictureUrl":"https://p.example.com/x.jpg"}`))
	}))
	defer srv.Close()

	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL))
	summary, err := c.GetGroupSummary(context.Background(), "C123")
	require.NoError(t, err)
	assert.Equal(t, "Team", summary.GroupName)
	assert.Equal(t, "https://p.example.com/x.jpg", summary.PictureURL)
}

func TestReplyMessage_SetsReplyToken(t *testing.T) {
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		token = gjson.GetBytes(body, "replyToken").String()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL))
	require.NoError(t, c.ReplyMessage(context.Background(), "rt-1", []Message{NewTextMessage("id")}))
	assert.Equal(t, "rt-1", token)
	assert.Error(t, c.ReplyMessage(context.Background(), "", []Message{NewTextMessage("id")}))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&APIError{StatusCode: 500}))
	assert.True(t, IsTransient(&APIError{StatusCode: 429}))
	assert.False(t, IsTransient(&APIError{StatusCode: 400}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}

func TestGetBotInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, botInfoPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"userId":"Ub1","basicId":"@abc","displayName":"Notify","pictureUrl":"https://p.example.com/b.png"}`))
	}))
	defer srv.Close()

	info, err := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL)).GetBotInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Notify", info.DisplayName)
	assert.Equal(t, "@abc", info.BasicID)
}

func TestGetBotInfo_InvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Authentication failed"}`))
	}))
	defer srv.Close()

	_, err := NewClient("bad", logger.NewNopLogger(), WithBaseURL(srv.URL)).GetBotInfo(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestGetQuotaAndConsumption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case quotaPath:
			if r.Header.Get("Authorization") == "Bearer free" {
				_, _ = w.Write([]byte(`{"type":"none"}`))
				return
			}
			_, _ = w.Write([]byte(`{"type":"limited","value":500}`))
		case consumptionPath:
			_, _ = w.Write([]byte(`{"totalUsage":120}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient("tok", logger.NewNopLogger(), WithBaseURL(srv.URL))

	q, err := c.GetQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "limited", q.Type)
	require.NotNil(t, q.Limit)
	assert.EqualValues(t, 500, *q.Limit)

	used, err := c.GetQuotaConsumption(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 120, used)

	q, err = NewClient("free", logger.NewNopLogger(), WithBaseURL(srv.URL)).GetQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "none", q.Type)
	assert.Nil(t, q.Limit)
}
