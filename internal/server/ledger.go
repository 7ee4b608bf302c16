package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
)

func (s *Server) ListTransactions(c *gin.Context) {
	filter := ledgerdomain.Filter{
		Provider:    strings.ToLower(strings.TrimSpace(c.Query("provider"))),
		Kind:        ledgerdomain.TransactionKind(strings.ToLower(strings.TrimSpace(c.Query("kind")))),
		Status:      ledgerdomain.TransactionStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		SubjectType: ledgerdomain.SubjectType(strings.ToLower(strings.TrimSpace(c.Query("subject_type")))),
		SubjectID:   parseIDQuery(c, "subject_id"),
		AuthorID:    parseIDQuery(c, "author_id"),
		SaleKind:    ledgerdomain.SaleKind(strings.ToLower(strings.TrimSpace(c.Query("sale_kind")))),
		From:        parseTimeQuery(c, "from"),
		To:          parseTimeQuery(c, "to"),
		Limit:       parseLimitQuery(c, 100),
	}

	txns, err := s.ledgerSvc.Query(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txns})
}

func (s *Server) GetTransaction(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.ledgerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}
