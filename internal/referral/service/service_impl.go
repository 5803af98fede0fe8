package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	"github.com/smallbiznis/memberhub/internal/invoice/format"
	"github.com/smallbiznis/memberhub/internal/referral/domain"
	"github.com/smallbiznis/memberhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Credits creditdomain.Service
	Billing *config.BillingConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	credits creditdomain.Service
	billing *config.BillingConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("referral.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		credits: p.Credits,
		billing: p.Billing,
	}
}

func (s *Service) CreateCode(ctx context.Context, code *domain.RegisterCode) error {
	code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
	if code.Value <= 0 {
		code.Value = s.billing.Get().ReferralRewardAmount
	}
	if err := s.repo.InsertCode(ctx, s.db, code); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrCodeExists
		}
		return err
	}
	return nil
}

func (s *Service) Use(ctx context.Context, orgID snowflake.ID, code string) (*domain.UsedRegisterCode, error) {
	rc, err := s.repo.FindCode(ctx, s.db, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if rc == nil || rc.OrganizationID == orgID {
		return nil, domain.ErrCodeNotFound
	}
	used := &domain.UsedRegisterCode{
		ID:             s.genID.Generate(),
		Code:           rc.Code,
		OrganizationID: orgID,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.repo.InsertUsed(ctx, s.db, used); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyUsed
		}
		return nil, err
	}
	return used, nil
}

// RewardIfEligible credits the code owner once, after the referred organization
// paid an invoice worth at least the reward threshold.
func (s *Service) RewardIfEligible(ctx context.Context, orgID snowflake.ID, invoiceValue int64) error {
	threshold := s.billing.Get().ReferralRewardThreshold
	if invoiceValue < threshold {
		return nil
	}

	used, err := s.repo.FindUsedByOrganization(ctx, s.db, orgID)
	if err != nil || used == nil {
		return err
	}
	if used.RewardedAt != nil || used.CreditID != nil {
		return nil
	}

	code, err := s.repo.FindCode(ctx, s.db, used.Code)
	if err != nil {
		return err
	}
	if code == nil {
		s.log.Warn("referral.code_missing", zap.String("code", used.Code))
		return nil
	}

	expireAt := s.clock.Now().Add(s.billing.Get().CreditExpiryExtension)
	credit, err := s.credits.Grant(ctx, creditdomain.GrantRequest{
		OrganizationID:    code.OrganizationID,
		Description:       fmt.Sprintf("Doorverwijzing %s (%s)", code.Code, format.Price(code.Value)),
		Change:            code.Value,
		AllowTransactions: true,
		ExpireAt:          &expireAt,
	})
	if err != nil {
		return err
	}

	now := s.clock.Now()
	used.CreditID = &credit.ID
	used.RewardedAt = &now
	if err := s.repo.SaveUsed(ctx, s.db, used); err != nil {
		return err
	}

	s.log.Info("referral.rewarded",
		zap.String("code", code.Code),
		zap.String("owner_id", code.OrganizationID.String()),
		zap.String("referred_id", orgID.String()),
	)
	return nil
}
