package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/querylens/querylens/internal/config"
)

const pingTimeout = 5 * time.Second

// Open connects to the dataset registry described by cfg. Connections carry
// application_name so registry sessions show up per service in
// pg_stat_activity.
func Open(ctx context.Context, cfg config.CatalogConfig, applicationName string) (*sql.DB, error) {
	connConfig, err := registryConnConfig(cfg, applicationName)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*connConfig)
	applyPoolSettings(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping dataset registry %s: %w", describeTarget(connConfig), err)
	}
	return db, nil
}

func registryConnConfig(cfg config.CatalogConfig, applicationName string) (*pgx.ConnConfig, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("QUERYLENS_CATALOG_DSN is required for the dataset registry")
	}
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse QUERYLENS_CATALOG_DSN: %w", err)
	}
	if name := strings.TrimSpace(applicationName); name != "" {
		if _, set := connConfig.RuntimeParams["application_name"]; !set {
			connConfig.RuntimeParams["application_name"] = name
		}
	}
	return connConfig, nil
}

func applyPoolSettings(db *sql.DB, cfg config.CatalogConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// describeTarget names the registry without leaking credentials.
func describeTarget(connConfig *pgx.ConnConfig) string {
	return fmt.Sprintf("%s:%d/%s", connConfig.Host, connConfig.Port, connConfig.Database)
}
