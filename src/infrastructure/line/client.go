package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const (
	DefaultAPIBaseURL = "https://api.line.me"
	// MaxMessagesPerRequest is the platform cap on message objects in one push or reply.
	MaxMessagesPerRequest = 5

	pushPath         = "/v2/bot/message/push"
	replyPath        = "/v2/bot/message/reply"
	groupSummaryPath = "/v2/bot/group/%s/summary"
	botInfoPath      = "/v2/bot/info"
	quotaPath        = "/v2/bot/message/quota"
	consumptionPath  = "/v2/bot/message/quota/consumption"

	retryKeyHeader = "X-Line-Retry-Key"
)

// Message is one LINE message object. Only text and image are produced here.
type Message struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

func NewTextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

func NewImageMessage(url string) Message {
	return Message{Type: "image", OriginalContentURL: url, PreviewImageURL: url}
}

type GroupSummary struct {
	GroupID    string `json:"groupId"`
	GroupName  string `json:"groupName"`
	PictureURL string `json:"pictureUrl"`
}

// BotInfo is the channel's own profile.
type BotInfo struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// Quota is the monthly push budget. Limit is nil when the plan has no cap.
type Quota struct {
	Type  string
	Limit *int64
}

// APIError is a non-2xx answer from the messaging API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line api: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether retrying the same request may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Client talks to the messaging API on behalf of a single channel access token.
type Client struct {
	baseURL              string
	accessToken          string
	httpClient           *http.Client
	notificationDisabled bool
	Logger               *logger.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithNotificationDisabled(disabled bool) Option {
	return func(c *Client) { c.notificationDisabled = disabled }
}

func NewClient(accessToken string, loggerInstance *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultAPIBaseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		Logger:      loggerInstance,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PushMessage sends messages to one user, group or room. retryKey, when set, lets the platform
// deduplicate a retried push.
func (c *Client) PushMessage(ctx context.Context, to string, messages []Message, retryKey string) error {
	if err := checkMessages(messages); err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		Messages []Message `json:"messages"`
	}{messages})
	if err != nil {
		return fmt.Errorf("encode push body: %w", err)
	}
	if body, err = sjson.SetBytes(body, "to", to); err != nil {
		return fmt.Errorf("encode push body: %w", err)
	}
	if c.notificationDisabled {
		if body, err = sjson.SetBytes(body, "notificationDisabled", true); err != nil {
			return fmt.Errorf("encode push body: %w", err)
		}
	}
	headers := map[string]string{}
	if retryKey != "" {
		headers[retryKeyHeader] = retryKey
	}
	_, err = c.do(ctx, http.MethodPost, pushPath, body, headers)
	return err
}

func (c *Client) ReplyMessage(ctx context.Context, replyToken string, messages []Message) error {
	if replyToken == "" {
		return errors.New("reply token is empty")
	}
	if err := checkMessages(messages); err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		Messages []Message `json:"messages"`
	}{messages})
	if err != nil {
		return fmt.Errorf("encode reply body: %w", err)
	}
	if body, err = sjson.SetBytes(body, "replyToken", replyToken); err != nil {
		return fmt.Errorf("encode reply body: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, replyPath, body, nil)
	return err
}

func (c *Client) GetGroupSummary(ctx context.Context, groupID string) (*GroupSummary, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf(groupSummaryPath, url.PathEscape(groupID)), nil, nil)
	if err != nil {
		return nil, err
	}
	var summary GroupSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("decode group summary: %w", err)
	}
	return &summary, nil
}

// GetBotInfo doubles as an access token check: an invalid token answers 401.
func (c *Client) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	raw, err := c.do(ctx, http.MethodGet, botInfoPath, nil, nil)
	if err != nil {
		return nil, err
	}
	var info BotInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode bot info: %w", err)
	}
	return &info, nil
}

func (c *Client) GetQuota(ctx context.Context) (*Quota, error) {
	raw, err := c.do(ctx, http.MethodGet, quotaPath, nil, nil)
	if err != nil {
		return nil, err
	}
	q := &Quota{Type: gjson.GetBytes(raw, "type").String()}
	if q.Type == "limited" {
		limit := gjson.GetBytes(raw, "value").Int()
		q.Limit = &limit
	}
	return q, nil
}

// GetQuotaConsumption returns the number of pushes counted against this month's quota.
func (c *Client) GetQuotaConsumption(ctx context.Context) (int64, error) {
	raw, err := c.do(ctx, http.MethodGet, consumptionPath, nil, nil)
	if err != nil {
		return 0, err
	}
	usage := gjson.GetBytes(raw, "totalUsage")
	if !usage.Exists() {
		return 0, errors.New("quota consumption response has no totalUsage")
	}
	return usage.Int(), nil
}

func checkMessages(messages []Message) error {
	if len(messages) == 0 {
		return errors.New("no messages to send")
	}
	if len(messages) > MaxMessagesPerRequest {
		return fmt.Errorf("%d messages exceed the per-request limit of %d", len(messages), MaxMessagesPerRequest)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.Logger.Warn("LINE API request failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(raw, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if details := gjson.GetBytes(raw, "details.#.message"); details.Exists() && len(details.Array()) > 0 {
			parts := make([]string, 0, len(details.Array()))
			for _, d := range details.Array() {
				parts = append(parts, d.String())
			}
			msg += " (" + strings.Join(parts, "; ") + ")"
		}
		// 409 on a retried push means the first attempt already went through.
		if resp.StatusCode == http.StatusConflict && headers[retryKeyHeader] != "" {
			c.Logger.Info("LINE push already accepted for retry key", zap.String("path", path))
			return raw, nil
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, nil
}
