package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	"github.com/smallbiznis/memberhub/internal/billingpackage"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/credit"
	"github.com/smallbiznis/memberhub/internal/invoice"
	"github.com/smallbiznis/memberhub/internal/maildomain"
	"github.com/smallbiznis/memberhub/internal/migration"
	"github.com/smallbiznis/memberhub/internal/observability"
	"github.com/smallbiznis/memberhub/internal/organization"
	"github.com/smallbiznis/memberhub/internal/payment"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice"
	"github.com/smallbiznis/memberhub/internal/providers"
	"github.com/smallbiznis/memberhub/internal/referral"
	"github.com/smallbiznis/memberhub/internal/server"
	"github.com/smallbiznis/memberhub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		billinglock.Module,
		providers.Module,

		// Billing domains
		organization.Module,
		billingpackage.Module,
		credit.Module,
		referral.Module,
		payment.Module,
		invoice.Module,
		pendinginvoice.Module,
		maildomain.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
