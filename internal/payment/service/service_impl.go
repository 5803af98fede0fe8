package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/clock"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
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
	Repo  paymentdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  paymentdomain.Repository
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) Create(ctx context.Context, payment *paymentdomain.Payment) error {
	if payment.ID == 0 {
		payment.ID = s.genID.Generate()
	}
	if payment.Status == "" {
		payment.Status = paymentdomain.StatusCreated
	}
	if payment.Method == "" {
		payment.Method = paymentdomain.MethodUnknown
	}
	return s.repo.Insert(ctx, s.db, payment)
}

func (s *Service) Save(ctx context.Context, payment *paymentdomain.Payment) error {
	return s.repo.Save(ctx, s.db, payment)
}

func (s *Service) FindByProviderID(ctx context.Context, provider, providerID string) (*paymentdomain.Payment, error) {
	return s.repo.FindByProviderID(ctx, s.db, strings.ToLower(provider), providerID)
}

func (s *Service) GetMollieCustomer(ctx context.Context, orgID snowflake.ID) (*paymentdomain.MollieCustomer, error) {
	return s.repo.FindMollieCustomer(ctx, s.db, orgID)
}

func (s *Service) LinkMollieCustomer(ctx context.Context, orgID snowflake.ID, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}
	existing, err := s.repo.FindMollieCustomer(ctx, s.db, orgID)
	if err != nil {
		return err
	}
	if existing != nil && existing.CustomerID == customerID {
		return nil
	}
	s.log.Info("payment.mollie_customer_linked",
		zap.String("organization_id", orgID.String()),
		zap.String("customer_id", customerID),
	)
	return s.repo.UpsertMollieCustomer(ctx, s.db, &paymentdomain.MollieCustomer{
		OrganizationID: orgID,
		CustomerID:     customerID,
		UpdatedAt:      s.clock.Now(),
	})
}
