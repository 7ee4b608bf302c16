package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mokanda/livraly/internal/money"
	royaltydomain "github.com/mokanda/livraly/internal/royalty/domain"
)

type computeRoyaltiesRequest struct {
	Period string `json:"period" binding:"required"`
}

func (s *Server) ComputeRoyalties(c *gin.Context) {
	var req computeRoyaltiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	rows, err := s.royaltySvc.ComputePeriod(c.Request.Context(), strings.TrimSpace(req.Period))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) GetAuthorRoyalties(c *gin.Context) {
	authorID, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	currency, err := money.ParseCurrency(c.Query("currency"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.royaltySvc.GetSummary(c.Request.Context(), authorID, string(currency), strings.TrimSpace(c.Query("period")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type payAuthorRequest struct {
	Currency string `json:"currency" binding:"required"`
}

func (s *Server) PayAuthorRoyalties(c *gin.Context) {
	authorID, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req payAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payoutRef, amount, err := s.royaltySvc.MarkPaid(c.Request.Context(), authorID, string(currency))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"payout_ref":   payoutRef,
			"amount_minor": amount,
			"currency":     string(currency),
		},
	})
}

type correctRoyaltyRequest struct {
	Ref        string `json:"ref" binding:"required"`
	DeltaGross int64  `json:"delta_gross" binding:"required"`
	Note       string `json:"note"`
}

func (s *Server) CorrectRoyalty(c *gin.Context) {
	var req correctRoyaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	correction, err := s.royaltySvc.Correct(c.Request.Context(), royaltydomain.CorrectionRequest{
		Ref:        strings.TrimSpace(req.Ref),
		DeltaGross: req.DeltaGross,
		Note:       req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": correction})
}
