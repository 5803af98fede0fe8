package pdf

import (
	"context"

	"go.uber.org/fx"
)

// Renderer turns an invoice document into PDF bytes.
type Renderer interface {
	RenderInvoice(ctx context.Context, doc Document) ([]byte, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
