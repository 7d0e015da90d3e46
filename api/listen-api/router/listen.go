// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package listen_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	listenApi "github.com/rapidaai/listen/api/listen-api/api"
	"github.com/rapidaai/listen/config"
	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/connectors"
)

func ListenApiRoute(
	cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	postgres connectors.PostgresConnector,
	redis connectors.RedisConnector,
) {
	api := listenApi.NewListenApi(cfg, logger, postgres, redis)

	engine.GET("/v3/listen", api.Listen)
	engine.GET("/healthcheck", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"service": cfg.Name,
			"version": cfg.Version,
			"status":  "ok",
		})
	})
}
