// Package location resolves departments and municipalities through the
// oracle, with a day-long department cache and a fixed fallback list.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/storage"
)

// Source is the remote provider of the administrative hierarchy. Retries
// and per-attempt timeouts are the source's concern.
type Source interface {
	Departamentos(ctx context.Context) ([]domain.Region, error)
	Municipios(ctx context.Context, departamentoID string) ([]domain.Region, error)
}

const (
	DefaultCacheTTL    = 24 * time.Hour
	DefaultFallbackTTL = 5 * time.Minute
	defaultNameEntries = 2048
)

// FallbackRegions is served when the oracle cannot be reached.
func FallbackRegions() []domain.Region {
	return []domain.Region{
		{Code: "1", Name: "Guatemala"},
		{Code: "9", Name: "Quetzaltenango"},
		{Code: "18", Name: "Izabal"},
	}
}

type cacheEntry struct {
	Regions   []domain.Region `json:"regions"`
	FetchedAt time.Time       `json:"fetched_at"`
	Fallback  bool            `json:"fallback"`
}

// Resolver answers region and sub-region queries.
type Resolver struct {
	source      Source
	store       domain.KVStore
	cacheTTL    time.Duration
	fallbackTTL time.Duration
	now         func() time.Time
	logger      *logrus.Logger

	names *lru.Cache[string, string]

	mu       sync.RWMutex
	regions  []domain.Region
	degraded bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCacheTTL sets the lifetime of regular and fallback cache entries.
func WithCacheTTL(ttl, fallbackTTL time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
		if fallbackTTL > 0 {
			r.fallbackTTL = fallbackTTL
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver. nameEntries bounds the sub-region name
// cache; zero selects the default.
func NewResolver(source Source, store domain.KVStore, nameEntries int, logger *logrus.Logger, opts ...Option) (*Resolver, error) {
	if nameEntries <= 0 {
		nameEntries = defaultNameEntries
	}
	names, err := lru.New[string, string](nameEntries)
	if err != nil {
		return nil, fmt.Errorf("create name cache: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	r := &Resolver{
		source:      source,
		store:       store,
		cacheTTL:    DefaultCacheTTL,
		fallbackTTL: DefaultFallbackTTL,
		now:         time.Now,
		logger:      logger,
		names:       names,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ListRegions returns the departments. A fresh cache entry is served without
// a network call. When the source fails the fixed fallback list is
// returned and cached for a short period; only context cancellation is
// reported as an error.
func (r *Resolver) ListRegions(ctx context.Context) ([]domain.Region, error) {
	if entry, ok := r.loadCache(ctx); ok && r.fresh(entry) {
		r.remember(entry.Regions, entry.Fallback)
		return cloneRegions(entry.Regions), nil
	}

	regions, err := r.source.Departamentos(ctx)
	if err == nil && len(regions) == 0 {
		err = &domain.DataShapeError{Op: "departamentos", Reason: "empty list"}
	}

	entry := cacheEntry{Regions: regions, FetchedAt: r.now()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.WithError(err).Warn("Department lookup failed, serving fallback list")
		entry.Regions = FallbackRegions()
		entry.Fallback = true
	}

	r.saveCache(ctx, entry)
	r.remember(entry.Regions, entry.Fallback)
	return cloneRegions(entry.Regions), nil
}

// ListSubRegions fetches the municipalities of regionCode. Results are not
// cached, but their names are remembered for SubRegionName.
func (r *Resolver) ListSubRegions(ctx context.Context, regionCode string) ([]domain.Region, error) {
	if regionCode == "" {
		return nil, nil
	}

	subRegions, err := r.source.Municipios(ctx, regionCode)
	if err != nil {
		r.logger.WithError(err).WithField("region", regionCode).Warn("Municipality lookup failed")
		return nil, fmt.Errorf("list sub-regions of %s: %w", regionCode, err)
	}

	for _, s := range subRegions {
		r.names.Add(nameKey(regionCode, s.Code), s.Name)
	}
	return subRegions, nil
}

// RegionName returns the department name, loading the list if needed.
func (r *Resolver) RegionName(ctx context.Context, code string) string {
	if name, ok := r.lookupRegion(code); ok {
		return name
	}
	if _, err := r.ListRegions(ctx); err == nil {
		if name, ok := r.lookupRegion(code); ok {
			return name
		}
	}
	return "Departamento " + code
}

// SubRegionName returns the municipality name. Each region is fetched at
// most once per process while its names stay in the cache.
func (r *Resolver) SubRegionName(ctx context.Context, regionCode, code string) string {
	key := nameKey(regionCode, code)
	if name, ok := r.names.Get(key); ok {
		return name
	}
	if _, err := r.ListSubRegions(ctx, regionCode); err == nil {
		if name, ok := r.names.Get(key); ok {
			return name
		}
	}
	return "Municipio " + code
}

// Degraded reports whether the last department list came from the fallback.
func (r *Resolver) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// NewSelection starts a region/sub-region selection bound to r.
func (r *Resolver) NewSelection() *Selection {
	return &Selection{resolver: r}
}

func (r *Resolver) lookupRegion(code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.regions {
		if reg.Code == code {
			return reg.Name, true
		}
	}
	return "", false
}

func (r *Resolver) remember(regions []domain.Region, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = cloneRegions(regions)
	r.degraded = fallback
}

func (r *Resolver) fresh(e cacheEntry) bool {
	ttl := r.cacheTTL
	if e.Fallback {
		ttl = r.fallbackTTL
	}
	return len(e.Regions) > 0 && r.now().Sub(e.FetchedAt) < ttl
}

func (r *Resolver) loadCache(ctx context.Context) (cacheEntry, bool) {
	var entry cacheEntry
	if r.store == nil {
		return entry, false
	}
	raw, found, err := r.store.Get(ctx, storage.KeyDepartmentCache)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to read department cache")
		return entry, false
	}
	if !found {
		return entry, false
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.logger.WithError(err).Warn("Discarding unreadable department cache")
		return entry, false
	}
	return entry, true
}

func (r *Resolver) saveCache(ctx context.Context, entry cacheEntry) {
	if r.store == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err == nil {
		err = r.store.Set(ctx, storage.KeyDepartmentCache, raw)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.WithError(&domain.PersistenceError{Key: storage.KeyDepartmentCache, Err: err}).
			Warn("Failed to write department cache")
	}
}

func nameKey(regionCode, code string) string {
	return regionCode + "-" + code
}

func cloneRegions(in []domain.Region) []domain.Region {
	if in == nil {
		return nil
	}
	out := make([]domain.Region, len(in))
	copy(out, in)
	return out
}
