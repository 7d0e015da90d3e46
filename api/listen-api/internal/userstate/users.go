// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_userstate

import (
	"context"
	"fmt"

	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/connectors"
)

// Users answers whether a uid belongs to a registered account. Sessions for
// unknown users are rejected before any upstream resource is opened.
type Users interface {
	Exists(ctx context.Context, uid string) (bool, error)
}

type postgresUsers struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewUsers creates the postgres-backed user lookup.
func NewUsers(postgres connectors.PostgresConnector, logger commons.Logger) Users {
	return &postgresUsers{postgres: postgres, logger: logger}
}

func (u *postgresUsers) Exists(ctx context.Context, uid string) (bool, error) {
	db := u.postgres.DB(ctx)
	var count int64
	err := db.Table("users").Where("id = ?", uid).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", uid, err)
	}
	return count > 0, nil
}
