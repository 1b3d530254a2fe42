package message

import "time"

type ScheduleMessageRequest struct {
	Content       string    `json:"content"`
	ImageURLs     []string  `json:"imageUrls" binding:"omitempty,max=20,dive,required"`
	ScheduledTime time.Time `json:"scheduledTime" binding:"required"`
	TargetType    string    `json:"targetType" binding:"required,oneof=user group room"`
	TargetIDs     []string  `json:"targetIds" binding:"required,min=1,dive,required"`
	ImageFirst    bool      `json:"imageFirst"`
	BotID         string    `json:"botId"`
}

// UpdateMessageRequest is a partial edit; omitted fields are left unchanged.
type UpdateMessageRequest struct {
	Content       *string    `json:"content"`
	ImageURLs     *[]string  `json:"imageUrls" binding:"omitempty,max=20"`
	ScheduledTime *time.Time `json:"scheduledTime"`
	TargetType    *string    `json:"targetType" binding:"omitempty,oneof=user group room"`
	TargetIDs     *[]string  `json:"targetIds" binding:"omitempty,min=1"`
	ImageFirst    *bool      `json:"imageFirst"`
	BotID         *string    `json:"botId"`
}

type ListMessagesRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending sending sent failed cancelled"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type MessageIDRequest struct {
	ID int `uri:"id" binding:"required,min=1"`
}

type MessageResponse struct {
	ID            int       `json:"id"`
	Status        string    `json:"status"`
	Content       string    `json:"content"`
	ImageURLs     []string  `json:"imageUrls"`
	ScheduledTime string    `json:"scheduledTime"`
	TargetType    string    `json:"targetType"`
	TargetIDs     []string  `json:"targetIds"`
	ImageFirst    bool      `json:"imageFirst"`
	BotID         string    `json:"botId,omitempty"`
	CreatedAt     string    `json:"createdAt"`
	UpdatedAt     string    `json:"updatedAt"`
	Attempts      []Attempt `json:"attempts,omitempty"`
	LastAttempt   *Attempt  `json:"lastAttempt,omitempty"`
}

type Attempt struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"createdAt"`
}
