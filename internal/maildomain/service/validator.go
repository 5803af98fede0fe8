package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/memberhub/internal/maildomain/domain"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/providers/dns"
	"go.uber.org/zap"
)

const defaultRetryDelay = 100 * time.Millisecond

type Validator struct {
	resolver   dns.Resolver
	log        *zap.Logger
	retryDelay time.Duration
}

func NewValidator(resolver dns.Resolver, log *zap.Logger) *Validator {
	return &Validator{
		resolver:   resolver,
		log:        log.Named("maildomain.validator"),
		retryDelay: defaultRetryDelay,
	}
}

// WithRetryDelay returns a copy that waits d before the second pass.
func (v *Validator) WithRetryDelay(d time.Duration) *Validator {
	clone := *v
	clone.retryDelay = d
	return &clone
}

// Validate updates the status and errors of every record in place. When not all
// records are valid the records are checked a second time.
func (v *Validator) Validate(ctx context.Context, records []orgdomain.DNSRecord) domain.ValidationResult {
	result := v.validate(ctx, records)
	if result.AllValid || ctx.Err() != nil {
		return result
	}

	timer := time.NewTimer(v.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return result
	case <-timer.C:
	}
	return v.validate(ctx, records)
}

func (v *Validator) validate(ctx context.Context, records []orgdomain.DNSRecord) domain.ValidationResult {
	result := domain.ValidationResult{AllValid: true, HasAllNonTXT: true}
	for i := range records {
		record := &records[i]
		var err error
		switch record.Type {
		case orgdomain.DNSRecordTypeCNAME:
			err = v.checkCNAME(ctx, record)
		case orgdomain.DNSRecordTypeTXT:
			err = v.checkTXT(ctx, record)
		default:
			v.log.Warn("maildomain.unknown_record_type",
				zap.String("name", record.Name),
				zap.String("type", string(record.Type)),
			)
			continue
		}
		if err != nil {
			v.lookupFailed(record, err)
		}

		if record.Status != orgdomain.DNSRecordStatusValid || err != nil {
			result.AllValid = false
			if record.Type != orgdomain.DNSRecordTypeTXT {
				result.HasAllNonTXT = false
			}
		}
	}
	return result
}

func (v *Validator) checkCNAME(ctx context.Context, record *orgdomain.DNSRecord) error {
	targets, err := v.resolver.LookupCNAME(ctx, record.Name)
	if err != nil {
		return err
	}
	record.Errors = nil

	switch {
	case len(targets) == 0:
		record.Status = orgdomain.DNSRecordStatusPending
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeNotFound,
			Message: fmt.Sprintf("We konden de CNAME-record %s nog niet vinden. Hou er rekening mee dat het even (tot 24u) kan duren voor we deze kunnen zien.", record.Name),
		}}
	case len(targets) > 1:
		record.Status = orgdomain.DNSRecordStatusFailed
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeTooManyFields,
			Message: fmt.Sprintf("Er zijn meerdere CNAME-records ingesteld voor %s.", record.Name),
		}}
	case sameHost(targets[0], record.Value):
		record.Status = orgdomain.DNSRecordStatusValid
	default:
		record.Status = orgdomain.DNSRecordStatusFailed
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeWrongValue,
			Message: fmt.Sprintf("Er is een andere waarde ingesteld voor de CNAME-record %s. Gevonden: %s", record.Name, targets[0]),
			Field:   "value",
		}}
	}
	return nil
}

func (v *Validator) checkTXT(ctx context.Context, record *orgdomain.DNSRecord) error {
	values, err := v.resolver.LookupTXT(ctx, record.Name)
	if err != nil {
		return err
	}
	record.Errors = nil

	switch {
	case len(values) == 0:
		record.Status = orgdomain.DNSRecordStatusPending
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeNotFound,
			Message: fmt.Sprintf("We konden de TXT-record %s nog niet vinden. Hou er rekening mee dat het even (tot 24u) kan duren voor we deze kunnen zien.", record.Name),
		}}
	case len(values) > 1:
		record.Status = orgdomain.DNSRecordStatusFailed
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeTooManyFields,
			Message: fmt.Sprintf("Er zijn meerdere TXT-records ingesteld voor %s.", record.Name),
		}}
	default:
		found := strings.Join(values[0], "")
		if strings.TrimSpace(found) == strings.TrimSpace(record.Value) {
			record.Status = orgdomain.DNSRecordStatusValid
			return nil
		}
		record.Status = orgdomain.DNSRecordStatusFailed
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeWrongValue,
			Message: fmt.Sprintf("Er is een andere waarde ingesteld voor de TXT-record %s. Gevonden: %s", record.Name, found),
			Field:   "value",
		}}
	}
	return nil
}

// lookupFailed marks a missing name as pending. Other resolver errors keep the
// previous status.
func (v *Validator) lookupFailed(record *orgdomain.DNSRecord, err error) {
	if errors.Is(err, dns.ErrNotFound) {
		record.Status = orgdomain.DNSRecordStatusPending
		record.Errors = []orgdomain.DNSRecordError{{
			Code:    domain.CodeNotFound,
			Message: fmt.Sprintf("We konden de record %s nog niet vinden. Hou er rekening mee dat het even (tot 24u) kan duren voor we deze kunnen zien.", record.Name),
		}}
		return
	}
	v.log.Warn("maildomain.lookup_failed",
		zap.String("name", record.Name),
		zap.String("type", string(record.Type)),
		zap.Error(err),
	)
	record.Errors = []orgdomain.DNSRecordError{{
		Code:    domain.CodeNotFound,
		Message: fmt.Sprintf("Er ging iets mis bij het opzoeken van %s.", record.Name),
	}}
}

func sameHost(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(strings.TrimSpace(a), "."), strings.TrimSuffix(strings.TrimSpace(b), "."))
}

func ProvideValidator(resolver dns.Resolver, log *zap.Logger) domain.Validator {
	return NewValidator(resolver, log)
}
