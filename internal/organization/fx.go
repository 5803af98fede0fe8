package organization

import (
	"github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/organization/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("organization",
	fx.Provide(repository.NewRepository),
	fx.Provide(func() domain.GroupBootstrapper { return domain.NoopGroupBootstrapper{} }),
)
