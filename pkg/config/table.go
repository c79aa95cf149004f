package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Tokenizer strategy names accepted in a TableConfig.
const (
	TokenizerSimple   = "simple"
	TokenizerStemming = "stemming"
	TokenizerNgram    = "ngram"
)

const tableKeyPrefix = "cfg:table:"

// FieldConfig names a searchable field and its ranking boost.
type FieldConfig struct {
	Field string  `json:"field"`
	Boost float64 `json:"boost"`
}

// GeoConfig names the row columns carrying coordinates and a free-text
// location name.
type GeoConfig struct {
	LatitudeField     string `json:"latitudeField"`
	LongitudeField    string `json:"longitudeField"`
	LocationNameField string `json:"locationNameField,omitempty"`
}

// TableConfig is the per-table search configuration, persisted as JSON in the
// key-value store under cfg:table:<name>.
type TableConfig struct {
	Table            string        `json:"table"`
	SearchableFields []FieldConfig `json:"searchableFields"`
	Tokenizer        string        `json:"tokenizer"`
	MinWordLength    int           `json:"minWordLength"`
	NgramSize        int           `json:"ngramSize,omitempty"`
	RowLimit         int           `json:"rowLimit,omitempty"`
	Geo              *GeoConfig    `json:"geo,omitempty"`
}

// HasGeo reports whether the table is configured for geo indexing. Geo
// operations check this flag before dispatch.
func (t *TableConfig) HasGeo() bool {
	return t.Geo != nil && t.Geo.LatitudeField != "" && t.Geo.LongitudeField != ""
}

// Boosts returns the configured per-field boost map.
func (t *TableConfig) Boosts() map[string]float64 {
	boosts := make(map[string]float64, len(t.SearchableFields))
	for _, f := range t.SearchableFields {
		boost := f.Boost
		if boost <= 0 {
			boost = 1.0
		}
		boosts[f.Field] = boost
	}
	return boosts
}

// Validate checks the config for structural problems before registration.
func (t *TableConfig) Validate() error {
	if t.Table == "" {
		return fmt.Errorf("table config: missing table name")
	}
	if len(t.SearchableFields) == 0 {
		return fmt.Errorf("table config %s: no searchable fields", t.Table)
	}
	switch t.Tokenizer {
	case "", TokenizerSimple, TokenizerStemming, TokenizerNgram:
	default:
		return fmt.Errorf("table config %s: unknown tokenizer %q", t.Table, t.Tokenizer)
	}
	if t.Geo != nil && (t.Geo.LatitudeField == "" || t.Geo.LongitudeField == "") {
		return fmt.Errorf("table config %s: geo section requires latitude and longitude fields", t.Table)
	}
	return nil
}

// ConfigStore is the slice of the key-value store the registry needs.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Registry holds table configurations, backed by the key-value store with an
// in-process snapshot. The snapshot is read-mostly; Put refreshes it.
type Registry struct {
	store ConfigStore
	mu    sync.RWMutex
	cache map[string]*TableConfig
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store ConfigStore) *Registry {
	return &Registry{
		store: store,
		cache: make(map[string]*TableConfig),
	}
}

// LoadAll reads every persisted table configuration into the snapshot.
func (r *Registry) LoadAll(ctx context.Context) error {
	keys, err := r.store.Keys(ctx, tableKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("listing table configs: %w", err)
	}
	loaded := make(map[string]*TableConfig, len(keys))
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("reading table config %s: %w", key, err)
		}
		var cfg TableConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			return fmt.Errorf("parsing table config %s: %w", key, err)
		}
		if cfg.Table == "" {
			cfg.Table = strings.TrimPrefix(key, tableKeyPrefix)
		}
		loaded[cfg.Table] = &cfg
	}
	r.mu.Lock()
	r.cache = loaded
	r.mu.Unlock()
	return nil
}

// Get returns the configuration for a table, or false if none is registered.
func (r *Registry) Get(table string) (*TableConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.cache[table]
	return cfg, ok
}

// Put validates, persists, and caches a table configuration.
func (r *Registry) Put(ctx context.Context, cfg *TableConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding table config %s: %w", cfg.Table, err)
	}
	if err := r.store.Set(ctx, tableKeyPrefix+cfg.Table, string(data)); err != nil {
		return fmt.Errorf("persisting table config %s: %w", cfg.Table, err)
	}
	r.mu.Lock()
	r.cache[cfg.Table] = cfg
	r.mu.Unlock()
	return nil
}

// Tables returns the names of all registered tables.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cache))
	for name := range r.cache {
		names = append(names, name)
	}
	return names
}
