package scheduler

import (
	"time"

	"github.com/smallbiznis/memberhub/internal/config"
)

// Config holds the cron schedules and per job timeouts.
type Config struct {
	DNSReconcile     string
	BillingRun       string
	PackageReminders string

	DNSReconcileTimeout     time.Duration
	BillingRunTimeout       time.Duration
	PackageRemindersTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DNSReconcile:            "@every 1h",
		BillingRun:              "0 3 1 * *",
		PackageReminders:        "0 9 * * *",
		DNSReconcileTimeout:     30 * time.Minute,
		BillingRunTimeout:       time.Hour,
		PackageRemindersTimeout: 10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		DNSReconcile:     cfg.Cron.DNSReconcile,
		BillingRun:       cfg.Cron.BillingRun,
		PackageReminders: cfg.Cron.PackageReminders,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.DNSReconcile == "" {
		c.DNSReconcile = defaults.DNSReconcile
	}
	if c.BillingRun == "" {
		c.BillingRun = defaults.BillingRun
	}
	if c.PackageReminders == "" {
		c.PackageReminders = defaults.PackageReminders
	}
	if c.DNSReconcileTimeout <= 0 {
		c.DNSReconcileTimeout = defaults.DNSReconcileTimeout
	}
	if c.BillingRunTimeout <= 0 {
		c.BillingRunTimeout = defaults.BillingRunTimeout
	}
	if c.PackageRemindersTimeout <= 0 {
		c.PackageRemindersTimeout = defaults.PackageRemindersTimeout
	}
	return c
}
