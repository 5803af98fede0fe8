package billinglock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

const invoiceNumberingKey = "billing/invoice-numbers"

func organizationKey(orgID snowflake.ID) string {
	return fmt.Sprintf("billing/invoices-%d", orgID)
}

func mailDomainKey(orgID snowflake.ID) string {
	return fmt.Sprintf("mail/domains-%d", orgID)
}

// OrgScope proves the organization billing lock is held. Only
// WithOrganizationBillingLock can produce a usable value.
type OrgScope struct {
	held *heldLock
	org  snowflake.ID
}

func (s OrgScope) OrganizationID() snowflake.ID { return s.org }

// Verify fails unless the scope is live and belongs to orgID.
func (s OrgScope) Verify(orgID snowflake.ID) error {
	if s.held == nil || !s.held.active.Load() || s.org != orgID {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, organizationKey(orgID))
	}
	return nil
}

// NumberingScope proves the global invoice numbering lock is held.
type NumberingScope struct {
	held *heldLock
}

func (s NumberingScope) Verify() error {
	if s.held == nil || !s.held.active.Load() {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, invoiceNumberingKey)
	}
	return nil
}

type heldLock struct {
	active atomic.Bool
}

type heldKeysCtxKey struct{}

type heldKeys map[string]*heldLock

func heldFromContext(ctx context.Context) heldKeys {
	held, _ := ctx.Value(heldKeysCtxKey{}).(heldKeys)
	return held
}

// Locks is the typed lock API for billing state.
type Locks struct {
	locker Locker
	log    *zap.Logger
}

func NewLocks(locker Locker, log *zap.Logger) *Locks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locks{locker: locker, log: log.Named("billinglock")}
}

// WithOrganizationBillingLock runs fn while holding the organization's billing lock.
// Nested calls with a context that already holds the lock run fn directly.
func (l *Locks) WithOrganizationBillingLock(ctx context.Context, orgID snowflake.ID, fn func(ctx context.Context, scope OrgScope) error) error {
	return l.with(ctx, organizationKey(orgID), func(ctx context.Context, held *heldLock) error {
		return fn(ctx, OrgScope{held: held, org: orgID})
	})
}

// WithInvoiceNumberingLock runs fn while holding the global invoice numbering lock.
func (l *Locks) WithInvoiceNumberingLock(ctx context.Context, fn func(ctx context.Context, scope NumberingScope) error) error {
	return l.with(ctx, invoiceNumberingKey, func(ctx context.Context, held *heldLock) error {
		return fn(ctx, NumberingScope{held: held})
	})
}

// WithOrganizationMailLock serializes updates to the mail and register domain
// state of one organization. It is independent of the billing lock.
func (l *Locks) WithOrganizationMailLock(ctx context.Context, orgID snowflake.ID, fn func(ctx context.Context) error) error {
	return l.with(ctx, mailDomainKey(orgID), func(ctx context.Context, _ *heldLock) error {
		return fn(ctx)
	})
}

func (l *Locks) with(ctx context.Context, key string, fn func(ctx context.Context, held *heldLock) error) error {
	current := heldFromContext(ctx)
	if held, ok := current[key]; ok && held.active.Load() {
		return fn(ctx, held)
	}

	start := time.Now()
	release, err := l.locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	held := &heldLock{}
	held.active.Store(true)
	defer func() {
		held.active.Store(false)
		release()
	}()

	if waited := time.Since(start); waited > time.Second {
		l.log.Debug("lock.contended", zap.String("key", key), zap.Duration("waited", waited))
	}

	next := make(heldKeys, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[key] = held
	return fn(context.WithValue(ctx, heldKeysCtxKey{}, next), held)
}
