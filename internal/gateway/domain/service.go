package domain

import (
	"context"
	"net/http"
)

// WebhookResult reports how an incoming webhook was handled.
type WebhookResult struct {
	Provider  string
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
}

// Service is the transport-free gateway entry point. The HTTP layer maps
// the sentinel errors to status codes.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookResult, error)
	Charge(ctx context.Context, provider string, req ChargeRequest) (*ChargeResult, error)
}
