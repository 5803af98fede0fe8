package maildomain

import (
	"github.com/smallbiznis/memberhub/internal/maildomain/service"
	"go.uber.org/fx"
)

var Module = fx.Module("maildomain.service",
	fx.Provide(service.ProvideValidator),
	fx.Provide(service.NewService),
)
