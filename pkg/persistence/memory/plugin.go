package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/uicase/pkg/domain"
	"github.com/osvaldoandrade/uicase/pkg/persistence"
)

const defaultMaxRuns = 1000

// Config holds memory-specific configuration.
type Config struct {
	MaxRuns int `json:"maxRuns,omitempty"`
}

// Plugin implements PluginPersistence for in-memory storage.
// Records do not survive a restart; meant for local runs without redis.
type Plugin struct {
	mu      sync.RWMutex
	runs    map[string]entry
	ttl     time.Duration
	maxRuns int
	now     func() time.Time
}

type entry struct {
	rec       domain.RunRecord
	expiresAt time.Time
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, fmt.Errorf("memory persistence: invalid config: %w", err)
		}
	}
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = defaultMaxRuns
	}
	ttl := config.RunTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Plugin{
		runs:    make(map[string]entry),
		ttl:     ttl,
		maxRuns: cfg.MaxRuns,
		now:     time.Now,
	}, nil
}

func (p *Plugin) RunStorage() persistence.RunStorage { return p }

// Health always succeeds for in-memory storage
func (p *Plugin) Health(ctx context.Context) error { return nil }

// Close drops every record.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = make(map[string]entry)
	return nil
}

func (p *Plugin) Save(ctx context.Context, rec domain.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record without id")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs[rec.ID] = entry{rec: rec, expiresAt: p.now().Add(p.ttl)}
	p.evictLocked()
	return nil
}

func (p *Plugin) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.runs[id]
	if !ok || !p.now().Before(e.expiresAt) {
		return nil, persistence.ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

func (p *Plugin) List(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	p.mu.RLock()
	out := make([]domain.RunRecord, 0, len(p.runs))
	now := p.now()
	for _, e := range p.runs {
		if now.Before(e.expiresAt) {
			out = append(out, e.rec)
		}
	}
	p.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// evictLocked drops expired records, then the oldest ones past maxRuns.
func (p *Plugin) evictLocked() {
	now := p.now()
	for id, e := range p.runs {
		if !now.Before(e.expiresAt) {
			delete(p.runs, id)
		}
	}
	if len(p.runs) <= p.maxRuns {
		return
	}
	recs := make([]domain.RunRecord, 0, len(p.runs))
	for _, e := range p.runs {
		recs = append(recs, e.rec)
	}
	sortNewestFirst(recs)
	for _, rec := range recs[p.maxRuns:] {
		delete(p.runs, rec.ID)
	}
}

func sortNewestFirst(recs []domain.RunRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].FinishedAt.Equal(recs[j].FinishedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].FinishedAt.After(recs[j].FinishedAt)
	})
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}
