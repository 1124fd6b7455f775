package domain

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobOrderConfirmation JobType = "order_confirmation"
	JobShippingUpdate    JobType = "shipping_update"
)

type NotificationJob struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type OrderConfirmationPayload struct {
	OrderID     string      `json:"orderId"`
	OrderNumber int64       `json:"orderNumber"`
	Email       string      `json:"email"`
	Total       string      `json:"total"`
	Currency    string      `json:"currency"`
	Items       []OrderItem `json:"items"`
}

type ShippingUpdatePayload struct {
	OrderID        string `json:"orderId"`
	OrderNumber    int64  `json:"orderNumber"`
	Email          string `json:"email"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
}

type EmailMessage struct {
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Tags    map[string]string `json:"tags,omitempty"`
}
