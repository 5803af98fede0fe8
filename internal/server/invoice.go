package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"go.uber.org/zap"
)

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	inv, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

type refundInvoiceRequest struct {
	SendEmail *bool `json:"send_email"`
}

// RefundInvoice reverses a paid invoice with a credit note and queues its
// items again.
func (s *Server) RefundInvoice(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req refundInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	sendEmail := true
	if req.SendEmail != nil {
		sendEmail = *req.SendEmail
	}

	ctx := c.Request.Context()
	inv, err := s.invoiceSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if inv.PaidAt == nil || inv.NegativeInvoiceID != nil {
		AbortWithError(c, invoicedomain.ErrNotReversible)
		return
	}

	if err := s.invoiceSvc.UndoMarkPaid(ctx, inv, invoicedomain.UndoMarkPaidOptions{SendEmail: sendEmail}); err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err = s.invoiceSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("invoice refunded",
		zap.String("invoice_id", inv.ID.String()),
		zap.Bool("reversed", inv.NegativeInvoiceID != nil),
	)

	c.JSON(http.StatusOK, gin.H{"data": inv})
}
