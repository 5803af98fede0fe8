package payment

import (
	"github.com/smallbiznis/memberhub/internal/payment/adapters/mollie"
	"github.com/smallbiznis/memberhub/internal/payment/repository"
	paymentservice "github.com/smallbiznis/memberhub/internal/payment/service"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(mollie.NewFromConfig),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
