// Package cardstream adapts the Cardstream card gateway: HMAC-SHA256
// signed webhooks and a synchronous charge API.
package cardstream

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
)

const signatureHeader = "Cardstream-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "cardstream"
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

// Verify checks the t=<unix>,v1=<hex> signature header. The signed payload
// is "<timestamp>.<body>".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return gatewaydomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return gatewaydomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return gatewaydomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*gatewaydomain.PaymentEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment.succeeded":
		return a.parseCharge(event, payload, gatewaydomain.EventTypePaymentSucceeded)
	case "payment.failed":
		return a.parseCharge(event, payload, gatewaydomain.EventTypePaymentFailed)
	case "payment.refunded":
		return a.parseRefund(event, payload)
	default:
		return nil, gatewaydomain.ErrEventIgnored
	}
}

type chargeRequestBody struct {
	Reference   string `json:"reference"`
	Instrument  string `json:"instrument"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type chargeResponseBody struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	DeclineCode string `json:"decline_code"`
}

// Charge submits a card charge. A declined card is a normal result, not an
// error; transport and provider failures come back as ProviderError.
func (a *Adapter) Charge(ctx context.Context, req gatewaydomain.ChargeRequest) (*gatewaydomain.ChargeResult, error) {
	body, err := json.Marshal(chargeRequestBody{
		Reference:   req.Reference,
		Instrument:  req.InstrumentRef,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &gatewaydomain.ProviderError{Provider: "cardstream", Code: "network_error", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	var parsed chargeResponseBody
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)

	switch {
	case resp.StatusCode >= 500:
		return nil, &gatewaydomain.ProviderError{
			Provider:  "cardstream",
			Code:      "provider_unavailable",
			Transient: true,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusPaymentRequired:
		if decodeErr != nil {
			return nil, gatewaydomain.ErrInvalidPayload
		}
		return &gatewaydomain.ChargeResult{
			ProviderTxnID: parsed.ID,
			Accepted:      false,
			DeclineCode:   parsed.DeclineCode,
		}, nil
	case resp.StatusCode >= 400:
		return nil, &gatewaydomain.ProviderError{
			Provider:  "cardstream",
			Code:      "request_rejected",
			Transient: false,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	if decodeErr != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if parsed.Status == "declined" {
		return &gatewaydomain.ChargeResult{
			ProviderTxnID: parsed.ID,
			Accepted:      false,
			DeclineCode:   parsed.DeclineCode,
		}, nil
	}
	return &gatewaydomain.ChargeResult{ProviderTxnID: parsed.ID, Accepted: true}, nil
}

type webhookEvent struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Created int64            `json:"created"`
	Data    webhookEventData `json:"data"`
}

type webhookEventData struct {
	Object json.RawMessage `json:"object"`
}

type chargeObject struct {
	ID          string         `json:"id"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Created     int64          `json:"created"`
	FailureCode string         `json:"failure_code"`
	Metadata    map[string]any `json:"metadata"`
}

// refundObject is the payload of payment.refunded. The refund carries its
// own id, distinct from the charge it reverses.
type refundObject struct {
	ID       string         `json:"id"`
	Charge   string         `json:"charge"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Created  int64          `json:"created"`
	Metadata map[string]any `json:"metadata"`
}

func (a *Adapter) parseRefund(event webhookEvent, payload []byte) (*gatewaydomain.PaymentEvent, error) {
	var refund refundObject
	if err := json.Unmarshal(event.Data.Object, &refund); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(refund.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	parsed := &gatewaydomain.PaymentEvent{
		Provider:          "cardstream",
		ProviderEventID:   event.ID,
		ProviderPaymentID: refund.ID,
		Type:              gatewaydomain.EventTypeRefunded,
		Amount:            refund.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(refund.Currency)),
		OccurredAt:        timestamp(refund.Created, event.Created),
		RawPayload:        payload,
		SaleKind:          readMetadataValue(refund.Metadata, "sale_kind"),
	}
	parsed.InvoiceID = parseMetadataID(refund.Metadata, "invoice_id")
	parsed.SubscriptionID = parseMetadataID(refund.Metadata, "subscription_id")
	parsed.AuthorID = parseMetadataID(refund.Metadata, "author_id")
	parsed.WorkID = parseMetadataID(refund.Metadata, "work_id")
	return parsed, nil
}

func (a *Adapter) parseCharge(event webhookEvent, payload []byte, eventType string) (*gatewaydomain.PaymentEvent, error) {
	var charge chargeObject
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	parsed := &gatewaydomain.PaymentEvent{
		Provider:          "cardstream",
		ProviderEventID:   event.ID,
		ProviderPaymentID: charge.ID,
		Type:              eventType,
		Amount:            charge.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:        timestamp(charge.Created, event.Created),
		RawPayload:        payload,
		FailureCode:       strings.TrimSpace(charge.FailureCode),
		SaleKind:          readMetadataValue(charge.Metadata, "sale_kind"),
	}
	parsed.InvoiceID = parseMetadataID(charge.Metadata, "invoice_id")
	parsed.SubscriptionID = parseMetadataID(charge.Metadata, "subscription_id")
	parsed.AuthorID = parseMetadataID(charge.Metadata, "author_id")
	parsed.WorkID = parseMetadataID(charge.Metadata, "work_id")
	return parsed, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func parseMetadataID(metadata map[string]any, key string) *snowflake.ID {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	default:
		return ""
	}
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
