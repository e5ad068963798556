package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rhac/rhacbot/internal/payload"
)

// Defaults applied to anything the config file leaves empty
const (
	DefaultBackendURL      = "http://127.0.0.1:5000/api"
	DefaultListenAddr      = ":5000"
	DefaultAPIPrefix       = "/api"
	DefaultAppEnv          = "dev"
	DefaultGroupMeAPIURL   = "https://api.groupme.com/v3"
	DefaultGroupMeImageURL = "https://image.groupme.com/pictures"
	DefaultSendConcurrency = 4
)

// DefaultSupportedAttachmentTypes are the image types GroupMe's image service accepts
var DefaultSupportedAttachmentTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// LoadConfig loads config from the given path. A missing file is not an error;
// defaults and environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := &Config{}

	configBytes, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		err = yaml.Unmarshal(configBytes, config)
		if err != nil {
			return nil, err
		}
	}

	applyEnv(config)
	applyDefaults(config)

	config.SupportedTypesMap = payload.SupportedSet(config.SupportedAttachmentTypes)

	return config, nil
}

// applyEnv lets the deployment environment override secrets
func applyEnv(config *Config) {
	if v := os.Getenv("GROUPME_ACCESS_TOKEN"); v != "" {
		config.GroupMeAccessToken = v
	}
	if v := os.Getenv("EXECUTIVE_PASSWORD"); v != "" {
		config.AdminPassword = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		config.AppEnv = v
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		config.BackendURL = v
	}
}

func applyDefaults(config *Config) {
	if config.BackendURL == "" {
		config.BackendURL = DefaultBackendURL
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.APIPrefix == "" {
		config.APIPrefix = DefaultAPIPrefix
	}
	if config.AppEnv == "" {
		config.AppEnv = DefaultAppEnv
	}
	if config.GroupMeAPIURL == "" {
		config.GroupMeAPIURL = DefaultGroupMeAPIURL
	}
	if config.GroupMeImageURL == "" {
		config.GroupMeImageURL = DefaultGroupMeImageURL
	}
	if config.SendConcurrency <= 0 {
		config.SendConcurrency = DefaultSendConcurrency
	}
	if len(config.SupportedAttachmentTypes) == 0 {
		config.SupportedAttachmentTypes = append([]string(nil), DefaultSupportedAttachmentTypes...)
	}
}
