// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/configs"
)

// PostgresConnector exposes the document store holding conversations and
// users. Callers obtain a request-scoped handle via DB(ctx).
type PostgresConnector interface {
	DB(ctx context.Context) *gorm.DB
	Ping(ctx context.Context) error
	Close() error
}

type postgresConnector struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewPostgresConnector builds a connector from config and verifies
// connectivity before returning.
func NewPostgresConnector(ctx context.Context, cfg configs.PostgresConfig, logger commons.Logger) (PostgresConnector, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connector: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres connector: %w", err)
	}
	if cfg.MaxOpenConnection > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnection)
	}
	if cfg.MaxIdealConnection > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdealConnection)
	}

	connector := &postgresConnector{db: db, logger: logger}
	if err := connector.Ping(ctx); err != nil {
		return nil, err
	}
	logger.Infof("postgres connector ready on %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
	return connector, nil
}

// NewPostgresConnectorWithDB wraps an already-open gorm handle. Used by tests
// to plug a sqlmock-backed connection.
func NewPostgresConnectorWithDB(db *gorm.DB, logger commons.Logger) PostgresConnector {
	return &postgresConnector{db: db, logger: logger}
}

func (pc *postgresConnector) DB(ctx context.Context) *gorm.DB {
	return pc.db.WithContext(ctx)
}

func (pc *postgresConnector) Ping(ctx context.Context) error {
	sqlDB, err := pc.db.DB()
	if err != nil {
		return fmt.Errorf("postgres connector: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("unable to reach postgres: %w", err)
	}
	return nil
}

func (pc *postgresConnector) Close() error {
	sqlDB, err := pc.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
