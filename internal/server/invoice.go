package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
)

type createAccountRequest struct {
	Kind        string `json:"kind" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email"`
	Currency    string `json:"currency" binding:"required"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.invoiceSvc.CreateAccount(c.Request.Context(), invoicedomain.BillingAccount{
		Kind:        invoicedomain.AccountKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Currency:    req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": account})
}

type invoiceItemRequest struct {
	WorkID      *snowflake.ID `json:"work_id"`
	Description string        `json:"description"`
	Quantity    int64         `json:"quantity" binding:"required"`
	UnitAmount  int64         `json:"unit_amount"`
	Currency    string        `json:"currency" binding:"required"`
}

type createInvoiceRequest struct {
	AccountID snowflake.ID         `json:"account_id" binding:"required"`
	Currency  string               `json:"currency" binding:"required"`
	DueAt     *time.Time           `json:"due_at"`
	Items     []invoiceItemRequest `json:"items" binding:"required"`
	Metadata  map[string]any       `json:"metadata"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	items := make([]invoicedomain.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, invoicedomain.ItemInput{
			WorkID:      item.WorkID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Currency:    item.Currency,
		})
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateRequest{
		AccountID: req.AccountID,
		Currency:  req.Currency,
		DueAt:     req.DueAt,
		Items:     items,
		Metadata:  req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	invoices, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListFilter{
		AccountID: parseIDQuery(c, "account_id"),
		Status:    invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Limit:     parseLimitQuery(c, 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, items, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice, "items": items})
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.Void(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}
