// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package listen_api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_audio "github.com/rapidaai/listen/api/listen-api/internal/audio"
	internal_conversation "github.com/rapidaai/listen/api/listen-api/internal/conversation"
	internal_memories "github.com/rapidaai/listen/api/listen-api/internal/memories"
	internal_pusher "github.com/rapidaai/listen/api/listen-api/internal/pusher"
	internal_session "github.com/rapidaai/listen/api/listen-api/internal/session"
	internal_speechprofile "github.com/rapidaai/listen/api/listen-api/internal/speechprofile"
	internal_stt "github.com/rapidaai/listen/api/listen-api/internal/stt"
	internal_userstate "github.com/rapidaai/listen/api/listen-api/internal/userstate"
	"github.com/rapidaai/listen/config"
	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/connectors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type ListenApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	deps   internal_session.Deps
}

func NewListenApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	postgres connectors.PostgresConnector,
	redis connectors.RedisConnector,
) *ListenApi {
	profiles := internal_speechprofile.NewStorage(cfg.SpeechProfileDir, logger)
	deps := internal_session.Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    internal_conversation.NewStore(postgres, logger),
		Cache:    internal_userstate.NewCache(redis, logger),
		Users:    internal_userstate.NewUsers(postgres, logger),
		Memories: internal_memories.NewProcessor(cfg.MemoryHost, logger),
		Plugins:  internal_memories.NewPluginDispatcher(cfg.MemoryHost, logger),
		Geocoder: internal_memories.NewGeocoder(cfg.MapsApiKey, logger),
		STT:      internal_stt.NewFactory(cfg, profiles, logger),
		NewPusher: func(uid string, sampleRate int, audioEnabled bool) *internal_pusher.Pusher {
			return internal_pusher.New(cfg.PusherHost, uid, sampleRate, audioEnabled, logger)
		},
		NewDecoder: func(codec string, sampleRate int) (internal_audio.Decoder, error) {
			if codec == "opus" && sampleRate == 16000 {
				return internal_audio.NewOpusDecoder(sampleRate)
			}
			return internal_audio.NewPassthroughDecoder(), nil
		},
		NewGate: func(sampleRate int) (*internal_audio.Gate, error) {
			detector, err := internal_audio.NewSileroDetector(cfg.VadModelPath, sampleRate)
			if err != nil {
				return nil, err
			}
			return internal_audio.NewGate(detector, sampleRate, logger), nil
		},
	}
	return &ListenApi{cfg: cfg, logger: logger, deps: deps}
}

// Listen upgrades the client connection and runs the streaming session until
// the socket closes.
func (l *ListenApi) Listen(ctx *gin.Context) {
	params := sessionParams(ctx)
	uid := ctx.Query("uid")

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		l.logger.Errorf("listen: websocket upgrade failed: %v", err)
		return
	}

	if uid == "" {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Bad user"))
		_ = conn.Close()
		return
	}

	l.logger.Infof("listen: session accepted uid=%s, service=%s, codec=%s, sample_rate=%d",
		uid, params.Service, params.Codec, params.SampleRate)
	session := internal_session.New(conn, uid, params, l.deps)
	session.Listen(ctx.Request.Context())
}

func sessionParams(ctx *gin.Context) internal_stt.Params {
	return internal_stt.Params{
		Service:              ctx.DefaultQuery("stt_service", internal_stt.ProviderSoniox),
		Language:             ctx.DefaultQuery("language", "en"),
		SampleRate:           queryInt(ctx, "sample_rate", 8000),
		Codec:                ctx.DefaultQuery("codec", "pcm8"),
		Channels:             queryInt(ctx, "channels", 1),
		IncludeSpeechProfile: queryBool(ctx, "include_speech_profile", true),
	}
}

func queryInt(ctx *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(ctx.Query(key))
	if err != nil {
		return fallback
	}
	return value
}

func queryBool(ctx *gin.Context, key string, fallback bool) bool {
	value, err := strconv.ParseBool(ctx.Query(key))
	if err != nil {
		return fallback
	}
	return value
}
