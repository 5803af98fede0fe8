package referral

import (
	"github.com/smallbiznis/memberhub/internal/referral/domain"
	"github.com/smallbiznis/memberhub/internal/referral/repository"
	"github.com/smallbiznis/memberhub/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Rewarder { return svc }),
)
