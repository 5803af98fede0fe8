package domain

import (
	"errors"

	"github.com/smallbiznis/memberhub/internal/billingerror"
)

var (
	ErrInvoiceNotFound = billingerror.New("invoice_not_found", "invoice not found", "Deze factuur bestaat niet.")
	ErrNotReversible   = billingerror.New("not_reversible", "invoice cannot be reversed", "Deze factuur kan niet teruggedraaid worden.")
	ErrInvalidInvoice  = errors.New("invalid_invoice")
)
