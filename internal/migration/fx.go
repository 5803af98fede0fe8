package migration

import (
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(migrateBillingSchema),
)

// migrateBillingSchema runs on startup. Only postgres carries the SQL schema;
// other dialects are expected to be migrated already.
func migrateBillingSchema(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		log.Info("migrations skipped", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	migrator, err := NewMigrator(sqlDB, log)
	if err != nil {
		return err
	}
	return migrator.Up()
}
