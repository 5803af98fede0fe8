package mollie

import (
	"github.com/smallbiznis/memberhub/internal/config"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"go.uber.org/zap"
)

// MethodFor maps a Mollie method name onto a payment method.
func MethodFor(method string) paymentdomain.Method {
	switch method {
	case MethodDirectDebit:
		return paymentdomain.MethodDirectDebit
	case MethodCreditCard:
		return paymentdomain.MethodCreditCard
	case MethodBancontact:
		return paymentdomain.MethodBancontact
	case MethodTransfer:
		return paymentdomain.MethodTransfer
	default:
		return paymentdomain.MethodUnknown
	}
}

// NewFromConfig builds the API client. Without an API key every call fails with ErrNotConfigured.
func NewFromConfig(cfg config.Config, log *zap.Logger) Client {
	if cfg.Mollie.APIKey == "" {
		log.Warn("MOLLIE_API_KEY not set, recurring payments are disabled")
	}
	return New(Config{
		APIKey:  cfg.Mollie.APIKey,
		BaseURL: cfg.Mollie.BaseURL,
	})
}
