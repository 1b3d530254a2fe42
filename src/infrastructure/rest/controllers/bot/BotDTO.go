package bot

import "time"

type CreateBotRequest struct {
	ID                 string `json:"id" binding:"omitempty,max=64"`
	Name               string `json:"name" binding:"required"`
	BasicID            string `json:"basicId"`
	ChannelAccessToken string `json:"channelAccessToken" binding:"required"`
	ChannelSecret      string `json:"channelSecret"`
}

type VerifyBotRequest struct {
	ChannelAccessToken string `json:"channelAccessToken" binding:"required"`
}

// BotResponse never carries the token or the secret.
type BotResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BasicID   string    `json:"basicId,omitempty"`
	IsActive  bool      `json:"isActive"`
	HasSecret bool      `json:"hasSecret"`
	CreatedAt time.Time `json:"createdAt"`
}

type BotInfoResponse struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

type QuotaResponse struct {
	BotID       string `json:"botId"`
	BotName     string `json:"botName"`
	QuotaType   string `json:"quotaType"`
	QuotaLimit  *int64 `json:"quotaLimit"`
	TotalUsage  int64  `json:"totalUsage"`
	Remaining   *int64 `json:"remaining"`
	PercentUsed int    `json:"percentUsed"`
}

type DestinationResponse struct {
	DestinationID string    `json:"destinationId"`
	Type          string    `json:"type"`
	Name          string    `json:"name,omitempty"`
	PictureURL    string    `json:"pictureUrl,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
