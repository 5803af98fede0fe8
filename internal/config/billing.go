package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_billing_config")

// BillingConfig is the hot-reloadable billing policy.
type BillingConfig struct {
	Currency                string        `mapstructure:"currency"`
	VATPercentage           int           `mapstructure:"vatPercentage"`
	ReferralRewardThreshold int64         `mapstructure:"referralRewardThreshold"`
	ReferralRewardAmount    int64         `mapstructure:"referralRewardAmount"`
	CreditExpiryExtension   time.Duration `mapstructure:"creditExpiryExtension"`
	FailedPaymentGrace      time.Duration `mapstructure:"failedPaymentGrace"`
	RenewalGraceMonths      int           `mapstructure:"renewalGraceMonths"`
	DNS                     DNSConfig     `mapstructure:"dns"`
	Mail                    MailConfig    `mapstructure:"mail"`
}

type DNSConfig struct {
	Resolvers      []string      `mapstructure:"resolvers"`
	WarningBackoff time.Duration `mapstructure:"warningBackoff"`
	WarningRepeat  time.Duration `mapstructure:"warningRepeat"`
	MaxWarnings    int           `mapstructure:"maxWarnings"`
}

type MailConfig struct {
	ProtectedDomains []string `mapstructure:"protectedDomains"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Currency:                "EUR",
		VATPercentage:           21,
		ReferralRewardThreshold: 100_0000,
		ReferralRewardAmount:    25_0000,
		CreditExpiryExtension:   365 * 24 * time.Hour,
		FailedPaymentGrace:      28 * 24 * time.Hour,
		RenewalGraceMonths:      3,
		DNS: DNSConfig{
			Resolvers:      []string{"1.1.1.1:53", "8.8.8.8:53", "8.8.4.4:53"},
			WarningBackoff: 2 * time.Hour,
			WarningRepeat:  24 * time.Hour,
			MaxWarnings:    2,
		},
		Mail: MailConfig{
			ProtectedDomains: []string{"memberhub.app", "memberhub.be", "memberhub.nl", "memberhub.shop"},
		},
	}
}

// IsProtectedDomain reports whether domain (or a parent of it) is owned by the platform.
func (c BillingConfig) IsProtectedDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	for _, protected := range c.Mail.ProtectedDomains {
		protected = strings.ToLower(strings.TrimSpace(protected))
		if protected == "" {
			continue
		}
		if domain == protected || strings.HasSuffix(domain, "."+protected) {
			return true
		}
	}
	return false
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed policy, used by tests and tools.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("config.billing")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/memberhub/config")
	v.AddConfigPath("/etc/memberhub")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEMBERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setBillingDefaults(v, DefaultBillingConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("billing.config.defaults")
	}

	cfg, err := unmarshalBilling(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalBilling(v)
		if err != nil {
			log.Warn("billing.config.reload_ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing.config.reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func setBillingDefaults(v *viper.Viper, defaults BillingConfig) {
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.vatPercentage", defaults.VATPercentage)
	v.SetDefault("billing.referralRewardThreshold", defaults.ReferralRewardThreshold)
	v.SetDefault("billing.referralRewardAmount", defaults.ReferralRewardAmount)
	v.SetDefault("billing.creditExpiryExtension", defaults.CreditExpiryExtension)
	v.SetDefault("billing.failedPaymentGrace", defaults.FailedPaymentGrace)
	v.SetDefault("billing.renewalGraceMonths", defaults.RenewalGraceMonths)
	v.SetDefault("billing.dns.resolvers", defaults.DNS.Resolvers)
	v.SetDefault("billing.dns.warningBackoff", defaults.DNS.WarningBackoff)
	v.SetDefault("billing.dns.warningRepeat", defaults.DNS.WarningRepeat)
	v.SetDefault("billing.dns.maxWarnings", defaults.DNS.MaxWarnings)
	v.SetDefault("billing.mail.protectedDomains", defaults.Mail.ProtectedDomains)
}

func unmarshalBilling(v *viper.Viper) (BillingConfig, error) {
	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return BillingConfig{}, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func validateBillingConfig(cfg BillingConfig) error {
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.Join(ErrInvalidConfig, errors.New("billing.currency cannot be empty"))
	}
	if cfg.VATPercentage < 0 || cfg.VATPercentage > 100 {
		return errors.Join(ErrInvalidConfig, errors.New("billing.vatPercentage out of range"))
	}
	if len(cfg.DNS.Resolvers) == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("billing.dns.resolvers cannot be empty"))
	}
	if cfg.DNS.MaxWarnings < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("billing.dns.maxWarnings cannot be negative"))
	}
	return nil
}
