// Package njiamoney adapts the NjiaMoney mobile money gateway. Webhooks
// carry a shared-secret token header rather than a payload signature.
package njiamoney

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
)

const tokenHeader = "X-Njia-Token"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "njiamoney"
}

func (f *Factory) NewAdapter(cfg gatewaydomain.AdapterConfig) (gatewaydomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok || strings.TrimSpace(secret) == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}
	apiKey, _ := readString(cfg.Config, "api_key")
	endpoint, _ := readString(cfg.Config, "endpoint")

	return &Adapter{
		webhookSecret: strings.TrimSpace(secret),
		apiKey:        strings.TrimSpace(apiKey),
		endpoint:      strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		client:        &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type Adapter struct {
	webhookSecret string
	apiKey        string
	endpoint      string
	client        *http.Client
}

// Verify compares the shared-secret token in constant time.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	token := strings.TrimSpace(headers.Get(tokenHeader))
	if token == "" {
		return gatewaydomain.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(token), []byte(a.webhookSecret)) {
		return gatewaydomain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	Event         string            `json:"event"`
	EventID       string            `json:"event_id"`
	TransactionID string            `json:"transaction_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Msisdn        string            `json:"msisdn"`
	Reason        string            `json:"reason"`
	Timestamp     string            `json:"timestamp"`
	Metadata      map[string]string `json:"metadata"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*gatewaydomain.PaymentEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.TransactionID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.TrimSpace(event.Event) {
	case "collection.success":
		eventType = gatewaydomain.EventTypePaymentSucceeded
	case "collection.failed":
		eventType = gatewaydomain.EventTypePaymentFailed
	case "refund.success":
		eventType = gatewaydomain.EventTypeRefunded
	default:
		return nil, gatewaydomain.ErrEventIgnored
	}

	occurredAt := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(event.Timestamp)); err == nil {
		occurredAt = ts.UTC()
	}

	parsed := &gatewaydomain.PaymentEvent{
		Provider:          "njiamoney",
		ProviderEventID:   event.EventID,
		ProviderPaymentID: event.TransactionID,
		Type:              eventType,
		Amount:            event.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(event.Currency)),
		OccurredAt:        occurredAt,
		RawPayload:        payload,
		FailureCode:       strings.TrimSpace(event.Reason),
		SaleKind:          strings.TrimSpace(event.Metadata["sale_kind"]),
	}
	parsed.InvoiceID = parseID(event.Metadata, "invoice_id")
	parsed.SubscriptionID = parseID(event.Metadata, "subscription_id")
	parsed.AuthorID = parseID(event.Metadata, "author_id")
	parsed.WorkID = parseID(event.Metadata, "work_id")
	return parsed, nil
}

type collectionRequest struct {
	ExternalID string `json:"external_id"`
	Msisdn     string `json:"msisdn"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Narrative  string `json:"narrative,omitempty"`
}

type collectionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// Charge requests a mobile money collection. The provider answers
// synchronously with accepted or rejected; settlement arrives by webhook.
func (a *Adapter) Charge(ctx context.Context, req gatewaydomain.ChargeRequest) (*gatewaydomain.ChargeResult, error) {
	body, err := json.Marshal(collectionRequest{
		ExternalID: req.Reference,
		Msisdn:     req.InstrumentRef,
		Amount:     req.AmountMinor,
		Currency:   req.Currency,
		Narrative:  req.Description,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/collections", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &gatewaydomain.ProviderError{Provider: "njiamoney", Code: "network_error", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &gatewaydomain.ProviderError{
			Provider:  "njiamoney",
			Code:      "provider_unavailable",
			Transient: true,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, &gatewaydomain.ProviderError{
			Provider:  "njiamoney",
			Code:      "request_rejected",
			Transient: false,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var parsed collectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if parsed.Status == "rejected" {
		return &gatewaydomain.ChargeResult{
			ProviderTxnID: parsed.TransactionID,
			Accepted:      false,
			DeclineCode:   parsed.Reason,
		}, nil
	}
	return &gatewaydomain.ChargeResult{ProviderTxnID: parsed.TransactionID, Accepted: true}, nil
}

func parseID(metadata map[string]string, key string) *snowflake.ID {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}

func readString(config map[string]any, key string) (string, bool) {
	if config == nil {
		return "", false
	}
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
