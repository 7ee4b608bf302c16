// Package tambapay adapts the TambaPay mobile money gateway. Webhooks are
// signed with HMAC-SHA512 over "<timestamp>.<body>" with the timestamp in
// its own header.
package tambapay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
	"github.com/mokanda/livraly/internal/money"
)

const (
	signatureHeader = "X-Tamba-Signature"
	timestampHeader = "X-Tamba-Timestamp"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "tambapay"
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

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	ts := strings.TrimSpace(headers.Get(timestampHeader))
	if signature == "" || ts == "" {
		return gatewaydomain.ErrInvalidSignature
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return gatewaydomain.ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return gatewaydomain.ErrInvalidSignature
	}
	return nil
}

// TambaPay reports amounts in major units (whole francs for the CFA
// currencies), not minor units.
type webhookEvent struct {
	EventID   string            `json:"event_id"`
	Status    string            `json:"status"`
	Reference string            `json:"reference"`
	Amount    json.Number       `json:"amount"`
	Currency  string            `json:"currency"`
	Wallet    string            `json:"wallet"`
	ErrorCode string            `json:"error_code"`
	PaidAt    int64             `json:"paid_at"`
	Context   map[string]string `json:"context"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*gatewaydomain.PaymentEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.Reference) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.TrimSpace(event.Status) {
	case "SUCCESS":
		eventType = gatewaydomain.EventTypePaymentSucceeded
	case "FAILED":
		eventType = gatewaydomain.EventTypePaymentFailed
	case "REFUNDED":
		eventType = gatewaydomain.EventTypeRefunded
	default:
		return nil, gatewaydomain.ErrEventIgnored
	}

	occurredAt := time.Now().UTC()
	if event.PaidAt > 0 {
		occurredAt = time.Unix(event.PaidAt, 0).UTC()
	}

	currency, err := money.ParseCurrency(event.Currency)
	if err != nil {
		return nil, gatewaydomain.ErrInvalidEvent
	}
	amount, err := money.FromMajorUnits(event.Amount.String(), currency)
	if err != nil {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	parsed := &gatewaydomain.PaymentEvent{
		Provider:          "tambapay",
		ProviderEventID:   event.EventID,
		ProviderPaymentID: event.Reference,
		Type:              eventType,
		Amount:            amount.AmountMinor,
		Currency:          string(currency),
		OccurredAt:        occurredAt,
		RawPayload:        payload,
		FailureCode:       strings.TrimSpace(event.ErrorCode),
		SaleKind:          strings.TrimSpace(event.Context["sale_kind"]),
	}
	parsed.InvoiceID = parseID(event.Context, "invoice_id")
	parsed.SubscriptionID = parseID(event.Context, "subscription_id")
	parsed.AuthorID = parseID(event.Context, "author_id")
	parsed.WorkID = parseID(event.Context, "work_id")
	return parsed, nil
}

type paymentRequest struct {
	Reference string `json:"reference"`
	Wallet    string `json:"wallet"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Label     string `json:"label,omitempty"`
}

type paymentResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
}

func (a *Adapter) Charge(ctx context.Context, req gatewaydomain.ChargeRequest) (*gatewaydomain.ChargeResult, error) {
	amount, err := money.New(req.AmountMinor, money.Currency(req.Currency))
	if err != nil {
		return nil, err
	}
	major, err := amount.MajorUnits()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(paymentRequest{
		Reference: req.Reference,
		Wallet:    req.InstrumentRef,
		Amount:    major,
		Currency:  req.Currency,
		Label:     req.Description,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &gatewaydomain.ProviderError{Provider: "tambapay", Code: "network_error", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &gatewaydomain.ProviderError{
			Provider:  "tambapay",
			Code:      "provider_unavailable",
			Transient: true,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 400 {
		return nil, &gatewaydomain.ProviderError{
			Provider:  "tambapay",
			Code:      "request_rejected",
			Transient: false,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var parsed paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.EqualFold(parsed.Status, "REJECTED") {
		return &gatewaydomain.ChargeResult{
			ProviderTxnID: parsed.Reference,
			Accepted:      false,
			DeclineCode:   parsed.ErrorCode,
		}, nil
	}
	return &gatewaydomain.ChargeResult{ProviderTxnID: parsed.Reference, Accepted: true}, nil
}

func parseID(contextValues map[string]string, key string) *snowflake.ID {
	raw := strings.TrimSpace(contextValues[key])
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
