package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
)

type chargeResponse struct {
	InvoiceID   string `json:"invoice_id"`
	Price       int64  `json:"price"`
	Paid        bool   `json:"paid"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// ChargeOrganization turns the pending invoice into an invoice and starts
// collection.
func (s *Server) ChargeOrganization(c *gin.Context) {
	orgID, ok := parseIDParam(c)
	if !ok {
		return
	}

	result, err := s.charger.ChargeOrganization(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv := result.Invoice
	c.JSON(http.StatusOK, gin.H{"data": chargeResponse{
		InvoiceID:   inv.ID.String(),
		Price:       inv.Data().PriceWithVAT(),
		Paid:        inv.PaidAt != nil,
		CheckoutURL: result.CheckoutURL,
	}})
}

func (s *Server) QueueOrganization(c *gin.Context) {
	orgID, ok := parseIDParam(c)
	if !ok {
		return
	}

	pending, err := s.pendingSvc.Queue(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newPendingView(pending)})
}

type pendingView struct {
	ID        string                    `json:"id"`
	Total     int64                     `json:"total"`
	Locked    bool                      `json:"locked"`
	InvoiceID *string                   `json:"invoice_id"`
	Meta      invoicedomain.InvoiceMeta `json:"meta"`
}

func newPendingView(pending *pendingdomain.PendingInvoice) *pendingView {
	if pending == nil {
		return nil
	}
	view := &pendingView{
		ID:     pending.ID.String(),
		Total:  pending.Total(),
		Locked: pending.IsLocked(),
		Meta:   pending.Data(),
	}
	if pending.InvoiceID != nil {
		id := pending.InvoiceID.String()
		view.InvoiceID = &id
	}
	return view
}

type billingStatusResponse struct {
	OrganizationID string                   `json:"organization_id"`
	Pending        *pendingView             `json:"pending"`
	Packages       []*packagedomain.Package `json:"packages"`
	CreditBalance  int64                    `json:"credit_balance"`
}

func (s *Server) GetBillingStatus(c *gin.Context) {
	orgID, ok := parseIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if org == nil {
		AbortWithError(c, orgdomain.ErrOrganizationNotFound)
		return
	}

	pending, err := s.pendingSvc.Get(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pkgs, err := s.packageSvc.GetActiveForOrganization(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.creditSvc.GetBalance(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if pkgs == nil {
		pkgs = []*packagedomain.Package{}
	}

	c.JSON(http.StatusOK, gin.H{"data": billingStatusResponse{
		OrganizationID: orgID.String(),
		Pending:        newPendingView(pending),
		Packages:       pkgs,
		CreditBalance:  balance,
	}})
}
