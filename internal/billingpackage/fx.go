package billingpackage

import (
	"github.com/smallbiznis/memberhub/internal/billingpackage/repository"
	"github.com/smallbiznis/memberhub/internal/billingpackage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("package.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
