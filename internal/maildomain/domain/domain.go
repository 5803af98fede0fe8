// Package domain describes custom mail and register domain reconciliation.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
)

var (
	ErrProtectedDomain    = errors.New("protected_mail_domain")
	ErrIdentityNotOwned   = errors.New("mail_identity_not_owned")
	ErrIdentityVerified   = errors.New("mail_identity_verified")
	ErrMissingDKIMKey     = errors.New("missing_dkim_key")
	ErrNoDomainConfigured = errors.New("no_mail_domain")
)

// Record error codes.
const (
	CodeNotFound      = "not_found"
	CodeTooManyFields = "too_many_fields"
	CodeWrongValue    = "wrong_value"
)

type ValidationResult struct {
	// AllValid is set when every record resolved to its expected value.
	AllValid bool
	// HasAllNonTXT only considers CNAME records and gates the register domain.
	HasAllNonTXT bool
}

type Validator interface {
	Validate(ctx context.Context, records []orgdomain.DNSRecord) ValidationResult
}

// ReconcileResult summarizes one reconciliation pass of an organization.
type ReconcileResult struct {
	Validation       ValidationResult
	Records          []orgdomain.DNSRecord
	MailDomainActive bool
	BecameActive     bool
	WarningSent      bool
}

type Service interface {
	// UpdateDNSRecords validates the records of an organization and promotes or
	// demotes its register and mail domains.
	UpdateDNSRecords(ctx context.Context, orgID snowflake.ID) (*ReconcileResult, error)
	// UpdateMailIdentity provisions the sending identity for the mail domain and
	// updates org.PrivateMeta.MailDomainActive. It does not persist org.
	UpdateMailIdentity(ctx context.Context, org *orgdomain.Organization) error
	// DeleteMailIdentity removes an unverified identity that is no longer used.
	DeleteMailIdentity(ctx context.Context, org *orgdomain.Organization, mailDomain string) error
	// ListWithDNSRecords returns the organizations that have records to reconcile.
	ListWithDNSRecords(ctx context.Context) ([]snowflake.ID, error)
}
