package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Grant(ctx context.Context, req domain.GrantRequest) (*domain.Credit, error) {
	if req.OrganizationID == 0 || req.Change == 0 {
		return nil, domain.ErrInvalidCredit
	}
	credit := &domain.Credit{
		ID:                s.genID.Generate(),
		OrganizationID:    req.OrganizationID,
		Description:       req.Description,
		Change:            req.Change,
		AllowTransactions: req.AllowTransactions,
		ExpireAt:          req.ExpireAt,
		CreatedAt:         s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Credit, error) {
	credit, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if credit == nil {
		return nil, domain.ErrCreditNotFound
	}
	return credit, nil
}

func (s *Service) GetBalance(ctx context.Context, orgID snowflake.ID) (int64, error) {
	return s.repo.Balance(ctx, s.db, orgID, s.clock.Now())
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]*domain.Credit, error) {
	return s.repo.ListForOrganization(ctx, s.db, orgID)
}

func (s *Service) ApplyCredits(ctx context.Context, orgID snowflake.ID, inv *invoicedomain.Invoice) error {
	if inv.Number != nil || inv.CreditID != nil {
		return nil
	}

	balance, err := s.GetBalance(ctx, orgID)
	if err != nil {
		return err
	}
	use := min(balance, inv.Data().CreditablePrice())
	if use <= 0 {
		return nil
	}

	now := s.clock.Now()
	expireAt := now.Add(domain.ReservationTTL)
	credit, err := s.Grant(ctx, domain.GrantRequest{
		OrganizationID: orgID,
		Description:    domain.PendingDescription,
		Change:         -use,
		ExpireAt:       &expireAt,
	})
	if err != nil {
		return err
	}

	inv.CreditID = &credit.ID
	inv.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		meta.Items = append(meta.Items, invoicedomain.InvoiceItem{
			ID:            invoicedomain.NewItemID(),
			Name:          domain.ItemName,
			Amount:        1,
			UnitPrice:     -use,
			CanUseCredits: false,
		})
	})

	s.log.Info("credit.applied",
		zap.String("organization_id", orgID.String()),
		zap.String("credit_id", credit.ID.String()),
		zap.Int64("amount", use),
	)
	return nil
}

// MarkUsed makes a reserved usage credit permanent.
func (s *Service) MarkUsed(ctx context.Context, id snowflake.ID) error {
	credit, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if credit.ExpireAt == nil && credit.Description == domain.UsageDescription {
		return nil
	}
	credit.ExpireAt = nil
	credit.Description = domain.UsageDescription
	return s.repo.Save(ctx, s.db, credit)
}

// Expire ends the credit at at. Already expired credits keep their expiry.
func (s *Service) Expire(ctx context.Context, id snowflake.ID, at time.Time) error {
	credit, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if credit.IsExpiredAt(at) {
		return nil
	}
	credit.ExpireAt = &at
	return s.repo.Save(ctx, s.db, credit)
}
