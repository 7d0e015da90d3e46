// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	listen_routers "github.com/rapidaai/listen/api/listen-api/router"
	"github.com/rapidaai/listen/config"
	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/connectors"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("failed to load application config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	postgres, err := connectors.NewPostgresConnector(ctx, cfg.PostgresConfig, logger)
	if err != nil {
		logger.Errorf("failed to connect postgres: %v", err)
		log.Fatal(err)
	}
	defer postgres.Close()

	redis, err := connectors.NewRedisConnector(ctx, cfg.RedisConfig, logger)
	if err != nil {
		logger.Errorf("failed to connect redis: %v", err)
		log.Fatal(err)
	}
	defer redis.Close()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	listen_routers.ListenApiRoute(cfg, engine, logger, postgres, redis)

	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Infof("%s listening on %s", cfg.Name, address)
	if err := engine.Run(address); err != nil {
		logger.Errorf("server exited: %v", err)
		log.Fatal(err)
	}
}
