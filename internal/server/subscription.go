package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
)

type createSubscriptionRequest struct {
	AccountID     snowflake.ID `json:"account_id" binding:"required"`
	PlanName      string       `json:"plan_name" binding:"required"`
	Provider      string       `json:"provider" binding:"required"`
	InstrumentRef string       `json:"instrument_ref" binding:"required"`
	AmountMinor   int64        `json:"amount_minor" binding:"required"`
	Currency      string       `json:"currency" binding:"required"`
	Frequency     string       `json:"frequency" binding:"required"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.recurringSvc.Create(c.Request.Context(), recurringdomain.CreateRequest{
		AccountID:     req.AccountID,
		PlanName:      req.PlanName,
		Provider:      req.Provider,
		InstrumentRef: req.InstrumentRef,
		AmountMinor:   req.AmountMinor,
		Currency:      req.Currency,
		Frequency:     recurringdomain.Frequency(strings.ToUpper(strings.TrimSpace(req.Frequency))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	subs, err := s.recurringSvc.List(c.Request.Context(), recurringdomain.ListFilter{
		AccountID: parseIDQuery(c, "account_id"),
		Status:    recurringdomain.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Limit:     parseLimitQuery(c, 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subs})
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.recurringSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) PauseSubscription(c *gin.Context) {
	s.transitionSubscription(c, s.recurringSvc.Pause)
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	s.transitionSubscription(c, s.recurringSvc.Resume)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	s.transitionSubscription(c, s.recurringSvc.Cancel)
}

func (s *Server) transitionSubscription(c *gin.Context, fn func(ctx context.Context, id snowflake.ID) (recurringdomain.Subscription, error)) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := fn(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}
