// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rapidaai/listen/pkg/configs"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path" validate:"required"`

	PostgresConfig configs.PostgresConfig `mapstructure:"postgres" validate:"required"`
	RedisConfig    configs.RedisConfig    `mapstructure:"redis" validate:"required"`

	// STT provider credentials
	DeepgramApiKey     string `mapstructure:"deepgram_api_key"`
	DeepgramModel      string `mapstructure:"deepgram_model"`
	SonioxApiKey       string `mapstructure:"soniox_api_key"`
	SpeechmaticsApiKey string `mapstructure:"speechmatics_api_key"`

	// Soniox is coerced to Deepgram at session entry while the Soniox
	// language rollout is incomplete. Kept as a flag so the coercion can be
	// switched off without a deploy of new code.
	SttForceDeepgram bool `mapstructure:"stt_force_deepgram"`

	// Downstream trigger pusher base URL (ws:// or wss://).
	PusherHost string `mapstructure:"pusher_host" validate:"required"`

	// Post-capture collaborators.
	MemoryHost string `mapstructure:"memory_host" validate:"required"`
	MapsApiKey string `mapstructure:"maps_api_key"`

	// Speech profile WAV storage directory and VAD model location.
	SpeechProfileDir string `mapstructure:"speech_profile_dir" validate:"required"`
	VadModelPath     string `mapstructure:"vad_model_path" validate:"required"`

	// Soft session timeout toggle; NO_SOCKET_TIMEOUT in the environment
	// disables the 420s soft timeout, matching the deployment contract.
	NoSocketTimeout bool `mapstructure:"no_socket_timeout"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "listen-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9098)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "logs")

	v.SetDefault("DEEPGRAM_API_KEY", "")
	v.SetDefault("DEEPGRAM_MODEL", "nova-2-general")
	v.SetDefault("SONIOX_API_KEY", "")
	v.SetDefault("SPEECHMATICS_API_KEY", "")
	v.SetDefault("STT_FORCE_DEEPGRAM", true)

	v.SetDefault("PUSHER_HOST", "ws://localhost:8990")
	v.SetDefault("MEMORY_HOST", "http://localhost:8991")
	v.SetDefault("MAPS_API_KEY", "")

	v.SetDefault("SPEECH_PROFILE_DIR", "profiles")
	v.SetDefault("VAD_MODEL_PATH", "models/silero_vad.onnx")
	v.SetDefault("NO_SOCKET_TIMEOUT", os.Getenv("NO_SOCKET_TIMEOUT") != "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "<>")
	v.SetDefault("POSTGRES__AUTH__USER", "<>")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "<>")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
