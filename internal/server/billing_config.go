package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	"github.com/mokanda/livraly/internal/money"
	"github.com/shopspring/decimal"
)

type setConfigRequest struct {
	ConfigType    string    `json:"config_type" binding:"required"`
	Key           string    `json:"key" binding:"required"`
	Kind          string    `json:"kind" binding:"required"`
	Rate          string    `json:"rate"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	IntValue      int64     `json:"int_value"`
	Schedule      []int     `json:"schedule"`
	EffectiveFrom time.Time `json:"effective_from" binding:"required"`
}

func (s *Server) SetBillingConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	set := configdomain.SetRequest{
		ConfigType:    configdomain.ConfigType(strings.ToLower(strings.TrimSpace(req.ConfigType))),
		Key:           strings.TrimSpace(req.Key),
		Kind:          configdomain.ValueKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Int:           req.IntValue,
		Schedule:      req.Schedule,
		EffectiveFrom: req.EffectiveFrom,
	}

	switch set.Kind {
	case configdomain.ValueKindRate:
		rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		set.Rate = rate
	case configdomain.ValueKindAmount:
		currency, err := money.ParseCurrency(req.Currency)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		amount, err := money.New(req.AmountMinor, currency)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		set.Amount = amount
	}

	entry, err := s.configSvc.Set(c.Request.Context(), set)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": entry})
}

func (s *Server) BillingConfigHistory(c *gin.Context) {
	configType := configdomain.ConfigType(strings.ToLower(strings.TrimSpace(c.Param("type"))))
	key := strings.TrimSpace(c.Param("key"))

	entries, err := s.configSvc.History(c.Request.Context(), configType, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
