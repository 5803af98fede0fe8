package providers

import (
	"github.com/smallbiznis/memberhub/internal/providers/dns"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	"github.com/smallbiznis/memberhub/internal/providers/ses"
	"github.com/smallbiznis/memberhub/internal/providers/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	storage.Module,
	dns.Module,
	ses.Module,
)
