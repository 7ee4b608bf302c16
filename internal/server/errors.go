package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	"github.com/mokanda/livraly/internal/money"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
	royaltydomain "github.com/mokanda/livraly/internal/royalty/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}

	// 404
	case errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrAccountNotFound),
		errors.Is(err, recurringdomain.ErrSubscriptionNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionMissing),
		errors.Is(err, royaltydomain.ErrRoyaltyNotFound),
		errors.Is(err, configdomain.ErrConfigMissing),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	// 401
	case errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "invalid signature"}

	// 409
	case errors.Is(err, invoicedomain.ErrInvalidTransition),
		errors.Is(err, recurringdomain.ErrInvalidTransition),
		errors.Is(err, royaltydomain.ErrImmutablePeriod),
		errors.Is(err, royaltydomain.ErrNothingPayable):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}

	// 400
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent),
		errors.Is(err, invoicedomain.ErrEmptyInvoice),
		errors.Is(err, invoicedomain.ErrCurrencyMismatch),
		errors.Is(err, recurringdomain.ErrInvalidSubscription),
		errors.Is(err, ledgerdomain.ErrInvalidTransaction),
		errors.Is(err, royaltydomain.ErrInvalidPeriod),
		errors.Is(err, royaltydomain.ErrInvalidCorrection),
		errors.Is(err, configdomain.ErrInvalidConfig),
		errors.Is(err, configdomain.ErrValueKindMismatch),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrCurrencyMismatch):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}

	default:
		var providerErr *gatewaydomain.ProviderError
		if errors.As(err, &providerErr) {
			return http.StatusBadGateway, errorPayload{Type: "provider_error", Message: providerErr.Error()}
		}
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
