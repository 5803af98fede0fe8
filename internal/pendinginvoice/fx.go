package pendinginvoice

import (
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/repository"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pendinginvoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.NewCharger),
)
