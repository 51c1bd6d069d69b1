// Package bridgepool collects, tests, stores and ranks Tor bridges.
package bridgepool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"torrer/bridgepool/model"
	"torrer/bridgepool/scraper"
	"torrer/bridgepool/storage"
	"torrer/bridgepool/validator"
	"torrer/internal/shared/logger"
)

const DefaultTransport = "obfs4"

// Prober checks whether a bridge endpoint is reachable.
type Prober interface {
	Validate(ctx context.Context, bridges []model.Bridge) []validator.Result
}

// Priority is one entry of the ranked bridge list.
type Priority struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Manager 是网桥池模块的总控制器：发现、测试、持久化并记录每个网桥的历史。
type Manager struct {
	storage   storage.Storage
	validator Prober
	scrapers  []scraper.Scraper
	transport string

	mu       sync.Mutex
	metadata map[string]*model.Metadata // keyed by address:port, never pruned
	cache    map[string]struct{}        // keys persisted by this manager

	now func() time.Time
}

// NewManager 创建并初始化网桥池管理器。发现源通过 AddScraper 注册。
func NewManager(st storage.Storage, v Prober, transport string) *Manager {
	if transport == "" {
		transport = DefaultTransport
	}
	return &Manager{
		storage:   st,
		validator: v,
		transport: transport,
		metadata:  make(map[string]*model.Metadata),
		cache:     make(map[string]struct{}),
		now:       time.Now,
	}
}

// AddScraper 添加一个发现源到管理器。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.scrapers = append(m.scrapers, s)
}

func (m *Manager) Storage() storage.Storage { return m.storage }

// CollectBridges queries every discovery source concurrently. Failing
// sources are logged and skipped. The result is deduplicated by
// address:port, keeping the first occurrence in source registration order.
func (m *Manager) CollectBridges(ctx context.Context) []model.Bridge {
	l := logger.WithComponent("BridgePool/Manager")
	l.Info().Int("sources", len(m.scrapers)).Str("transport", m.transport).Msg("Collecting bridges...")

	perSource := make([][]model.Bridge, len(m.scrapers))
	var wg sync.WaitGroup
	for i, s := range m.scrapers {
		wg.Add(1)
		go func(idx int, sc scraper.Scraper) {
			defer wg.Done()
			bridges, err := sc.Scrape(ctx, m.transport)
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Bridge source failed.")
				return
			}
			perSource[idx] = bridges
		}(i, s)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	unique := make([]model.Bridge, 0)
	for _, bridges := range perSource {
		for _, b := range bridges {
			if _, dup := seen[b.Key()]; dup {
				continue
			}
			seen[b.Key()] = struct{}{}
			unique = append(unique, b)
		}
	}

	if len(unique) == 0 {
		l.Warn().Msg("No bridges collected. Use 'torrer bridges add' to add bridges manually.")
	} else {
		l.Info().Int("count", len(unique)).Msg("Collected unique bridges.")
	}
	return unique
}

// TestAndCacheBridges probes each candidate. Reachable bridges are persisted
// and credited; the rest are debited and dropped. It returns how many
// bridges were both reachable and newly persisted. Every outcome is recorded
// even when storage fails; the first store error is returned at the end.
func (m *Manager) TestAndCacheBridges(ctx context.Context, candidates []model.Bridge) (int, error) {
	l := logger.WithComponent("BridgePool/Manager")
	if len(candidates) == 0 {
		return 0, nil
	}

	results := m.validator.Validate(ctx, candidates)

	added := 0
	var storeErr error
	for _, r := range results {
		key := r.Bridge.Key()
		if !r.Reachable {
			m.RecordFailure(key)
			continue
		}
		m.RecordSuccess(key)

		if err := m.storage.Add(r.Bridge); err != nil {
			if errors.Is(err, storage.ErrBridgeExists) {
				m.markCached(key)
				continue
			}
			// 存储失败不影响其余结果的记录，返回第一个错误
			l.Warn().Err(err).Str("bridge", key).Msg("Failed to store reachable bridge.")
			if storeErr == nil {
				storeErr = err
			}
			continue
		}
		m.markCached(key)
		added++
	}

	l.Info().Int("tested", len(candidates)).Int("added", added).Msg("Bridge test and cache finished.")
	return added, storeErr
}

// CacheBridges persists candidates without testing them. Existing bridges
// are skipped. It returns the number newly stored.
func (m *Manager) CacheBridges(candidates []model.Bridge) (int, error) {
	added := 0
	for _, b := range candidates {
		if err := m.storage.Add(b); err != nil {
			if errors.Is(err, storage.ErrBridgeExists) {
				continue
			}
			return added, err
		}
		m.markCached(b.Key())
		added++
	}
	return added, nil
}

// GetPrioritizedBridges ranks every bridge with test history by score,
// highest first.
func (m *Manager) GetPrioritizedBridges() []Priority {
	m.mu.Lock()
	now := m.now()
	ranked := make([]Priority, 0, len(m.metadata))
	for key, md := range m.metadata {
		ranked = append(ranked, Priority{Key: key, Score: md.Score(now)})
	}
	m.mu.Unlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// AutoCollect runs collect, test and cache on every interval until ctx is
// cancelled. Step failures are logged and the loop carries on.
func (m *Manager) AutoCollect(ctx context.Context, interval time.Duration) error {
	l := logger.WithComponent("BridgePool/Manager")
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	l.Info().Dur("interval", interval).Msg("Automatic bridge collection started.")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.runCollectCycle(ctx)

		select {
		case <-ctx.Done():
			l.Info().Msg("Automatic bridge collection stopped.")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) runCollectCycle(ctx context.Context) {
	l := logger.WithComponent("BridgePool/Manager").With().Str("trace_id", uuid.NewString()).Logger()
	start := time.Now()

	bridges := m.CollectBridges(ctx)
	if ctx.Err() != nil {
		return
	}
	added, err := m.TestAndCacheBridges(ctx, bridges)
	if err != nil {
		l.Error().Err(err).Msg("Failed to cache tested bridges.")
		return
	}
	l.Info().Int("collected", len(bridges)).Int("added", added).Dur("took", time.Since(start)).Msg("Collection cycle finished.")
}

// RecordSuccess credits a bridge identified by address:port.
func (m *Manager) RecordSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(key).RecordSuccess(m.now())
}

// RecordFailure debits a bridge identified by address:port.
func (m *Manager) RecordFailure(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(key).RecordFailure(m.now())
}

// Metadata returns a snapshot of a bridge's history.
func (m *Manager) Metadata(key string) (model.Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.metadata[key]
	if !ok {
		return model.Metadata{}, false
	}
	return *md, true
}

// Cached reports whether this manager has persisted or confirmed the bridge.
func (m *Manager) Cached(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cache[key]
	return ok
}

func (m *Manager) markCached(key string) {
	m.mu.Lock()
	m.cache[key] = struct{}{}
	m.mu.Unlock()
}

// entry must be called with m.mu held.
func (m *Manager) entry(key string) *model.Metadata {
	md, ok := m.metadata[key]
	if !ok {
		md = &model.Metadata{}
		m.metadata[key] = md
	}
	return md
}
