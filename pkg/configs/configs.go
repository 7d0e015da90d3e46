// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package configs

import "fmt"

// PostgresConfig holds the connection settings for the conversation store.
type PostgresConfig struct {
	Host               string         `mapstructure:"host" validate:"required"`
	Port               int            `mapstructure:"port" validate:"required"`
	DBName             string         `mapstructure:"db_name" validate:"required"`
	Auth               PostgresAuth   `mapstructure:"auth"`
	MaxOpenConnection  int            `mapstructure:"max_open_connection"`
	MaxIdealConnection int            `mapstructure:"max_ideal_connection"`
	SSLMode            string         `mapstructure:"ssl_mode"`
}

type PostgresAuth struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN renders the gorm/pgx connection string.
func (pc PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.Auth.User, pc.Auth.Password, pc.DBName, pc.SSLMode)
}

// RedisConfig holds the connection settings for the shared per-user cache.
type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders the host:port pair for go-redis.
func (rc RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", rc.Host, rc.Port)
}
