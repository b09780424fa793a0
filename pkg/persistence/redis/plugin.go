package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/osvaldoandrade/uicase/internal/providers"
	"github.com/osvaldoandrade/uicase/internal/repository"
	"github.com/osvaldoandrade/uicase/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration; ignored when the application
// shares its own client.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client *redis.Client
	owned  bool
	runs   repository.RunRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	client, owned := config.Redis, false
	if client == nil {
		var cfg Config
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
		if cfg.Addr == "" {
			return nil, errors.New("redis persistence: addr is required")
		}
		client = providers.NewRedisProvider(cfg.Addr, cfg.Password, cfg.DB)
		owned = true
	}

	return &Plugin{
		client: client,
		owned:  owned,
		runs:   repository.NewRunRepository(client, config.RunTTL),
	}, nil
}

func (p *Plugin) RunStorage() persistence.RunStorage { return p.runs }

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return providers.PingRedis(ctx, p.client, 2*time.Second)
}

// Close releases the Redis connection when the plugin dialed it.
func (p *Plugin) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
