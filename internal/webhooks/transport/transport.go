package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryPending    = "pending"
	DeliveryProcessing = "processing"
	DeliverySuccess    = "success"
	DeliveryFailed     = "failed"
	DeliveryAbandoned  = "abandoned"
)

// EventAll subscribes a webhook to every event.
const EventAll = "*"

// EventTest is the event type of deliveries created by the test endpoint.
const EventTest = "webhook.test"

type WebhookResponse struct {
	ID          uuid.UUID  `json:"id"`
	URL         string     `json:"url"`
	Events      []string   `json:"events"`
	IsActive    bool       `json:"isActive"`
	Secret      string     `json:"secret"`
	Description *string    `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type CreateWebhookRequest struct {
	URL         string   `json:"url" validate:"required,url,max=2000"`
	Events      []string `json:"events" validate:"required,min=1,max=50,dive,required,max=100"`
	IsActive    *bool    `json:"isActive"`
	Secret      string   `json:"secret" validate:"required,min=16,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=500"`
}

type UpdateWebhookRequest struct {
	URL         *string   `json:"url" validate:"omitempty,url,max=2000"`
	Events      *[]string `json:"events" validate:"omitempty,min=1,max=50,dive,required,max=100"`
	IsActive    *bool     `json:"isActive"`
	Secret      *string   `json:"secret" validate:"omitempty,min=16,max=200"`
	Description *string   `json:"description" validate:"omitempty,max=500"`
}

type DeliveryResponse struct {
	ID            uuid.UUID       `json:"id"`
	WebhookID     uuid.UUID       `json:"webhookId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	AttemptCount  int             `json:"attemptCount"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	StatusCode    *int            `json:"statusCode,omitempty"`
	ResponseBody  *string         `json:"responseBody,omitempty"`
	Error         *string         `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
