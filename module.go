package chatsync

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lioncast/chatsync/internal/config"
	"github.com/lioncast/chatsync/internal/logging"
	"github.com/lioncast/chatsync/remote"
)

// Config is the client configuration, loaded from TOML.
type Config = config.Config

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a TOML config file, filling unset fields with defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// SaveConfig writes a config file, creating parent directories as needed.
func SaveConfig(path string, cfg *Config) error { return config.Save(path, cfg) }

// Params holds the host-supplied configuration passed to the fx module.
type Params struct {
	// ConfigPath points at the TOML config file; empty uses defaults.
	ConfigPath string
	// ClientID tags log lines when several embedded clients share a host.
	ClientID string
	// UserID is the authenticated user the client syncs as.
	UserID string
	// Service is the backend collaborator implementation.
	Service remote.Service
}

// Module returns the fx module composing the client and its lifecycle.
func Module(p Params) fx.Option {
	return fx.Module("chatsync",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideService,
			New,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.ConfigPath == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(p.ConfigPath); os.IsNotExist(err) {
		cfg := config.Default()
		if err := config.Save(p.ConfigPath, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(p.ConfigPath)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath, p.ClientID)
}

func provideService(p Params) remote.Service {
	return p.Service
}

func registerLifecycle(lc fx.Lifecycle, p Params, client *Client, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Init(context.Background(), p.UserID)
		},
		OnStop: func(context.Context) error {
			if err := client.Close(); err != nil {
				logger.Warn("error closing client", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	})
}
