// Package geoindex owns the per-table geo index: point indexing with
// coordinate validation, radius/name/bucket search, grid-based bucket
// clustering, and statistics. Like the inverted index, all persisted state
// lives in the key-value store and queries never mutate it.
package geoindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowsift/rowsift/internal/geo"
	"github.com/rowsift/rowsift/internal/location"
	"github.com/rowsift/rowsift/pkg/config"
	apperrors "github.com/rowsift/rowsift/pkg/errors"
	"github.com/rowsift/rowsift/pkg/kv"
	"github.com/rowsift/rowsift/pkg/metrics"
)

const (
	batchSize      = 500
	statSampleSize = 50
)

// RowSource supplies table rows for the optional geo-index refresh that
// precedes bucket building. The production implementation is pkg/postgres.
type RowSource interface {
	FetchRows(ctx context.Context, table string, limit int) ([]map[string]any, error)
}

// Manager maintains per-table geo indexes.
type Manager struct {
	store      kv.Store
	tables     *config.Registry
	normalizer *location.Normalizer
	rows       RowSource
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRowSource enables the pre-clustering geo refresh in BuildBuckets.
func WithRowSource(rows RowSource) Option {
	return func(m *Manager) { m.rows = rows }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithNormalizer overrides the default location alias table.
func WithNormalizer(n *location.Normalizer) Option {
	return func(m *Manager) { m.normalizer = n }
}

// NewManager creates a Manager over the given store and table registry.
func NewManager(store kv.Store, tables *config.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		tables:     tables,
		normalizer: location.New(nil),
		logger:     slog.Default().With("component", "geo-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IndexDocument indexes a single row. See IndexDocuments.
func (m *Manager) IndexDocument(ctx context.Context, table string, row map[string]any) error {
	_, err := m.IndexDocuments(ctx, table, []map[string]any{row})
	return err
}

// IndexDocuments validates and indexes the rows' coordinates, stores each
// payload augmented with the _geo_* fields, and assigns documents to a
// containing static bucket or, failing that, to the bucket of their
// normalized location name. An invalid coordinate aborts the whole batch
// with an error naming the document; rows without coordinate columns are
// skipped. Returns the number of documents indexed.
func (m *Manager) IndexDocuments(ctx context.Context, table string, rows []map[string]any) (int, error) {
	cfg, err := m.geoConfig(table, "geo-index")
	if err != nil {
		return 0, err
	}

	buckets, err := m.loadBuckets(ctx, table)
	if err != nil {
		return 0, apperrors.New("geo-index", table, err)
	}

	batch := m.store.Batch()
	indexed := 0
	for i, row := range rows {
		docID := stringifyID(row["id"])
		if docID == "" {
			m.logger.Warn("geo row without id skipped", "table", table, "row", i)
			continue
		}
		point, ok, err := extractPoint(cfg.Geo, row)
		if err != nil {
			return 0, apperrors.NewDoc("geo-index", table, docID,
				fmt.Errorf("%w: %v", apperrors.ErrInvalidCoordinate, err))
		}
		if !ok {
			continue
		}

		payload := make(map[string]any, len(row)+4)
		for k, v := range row {
			payload[k] = v
		}
		payload[FieldLat] = point.Lat
		payload[FieldLng] = point.Lng

		var canonical location.Canonical
		var resolved bool
		if cfg.Geo.LocationNameField != "" {
			if raw, ok := row[cfg.Geo.LocationNameField].(string); ok && raw != "" {
				if canonical, resolved = m.normalizer.Resolve(raw); resolved {
					payload[FieldLocationName] = canonical.Name
					batch.SAdd(locationsKey(table), canonical.Name)
				}
			}
		}

		bucketID := assignBucket(buckets, point)
		if bucketID == "" && resolved && canonical.BucketID != "" {
			if _, exists := buckets[canonical.BucketID]; exists {
				bucketID = canonical.BucketID
			}
		}
		if bucketID != "" {
			payload[FieldBucketID] = bucketID
			batch.SAdd(bucketDocsKey(table, bucketID), docID)
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return 0, apperrors.NewDoc("geo-index", table, docID,
				fmt.Errorf("encoding payload: %w", err))
		}
		batch.GeoAdd(pointsKey(table), kv.GeoMember{Member: docID, Lat: point.Lat, Lng: point.Lng})
		batch.Set(geoDocKey(table, docID), string(data))
		indexed++

		if batch.Len() >= batchSize {
			if err := batch.Exec(ctx); err != nil {
				return 0, apperrors.New("geo-index", table, storeErr(err))
			}
		}
	}
	if err := batch.Exec(ctx); err != nil {
		return 0, apperrors.New("geo-index", table, storeErr(err))
	}

	if m.metrics != nil && indexed > 0 {
		if members, err := m.store.GeoScan(ctx, pointsKey(table)); err == nil {
			m.metrics.GeoPointsIndexed.WithLabelValues(table).Set(float64(len(members)))
		}
	}
	m.logger.Info("geo documents indexed", "table", table, "indexed", indexed, "rows", len(rows))
	return indexed, nil
}

// SearchByRadius returns every indexed point within the radius of center,
// sorted ascending by distance. Relevance is 1 - distance/radius, lifted by
// the largest qualifying distance boost.
func (m *Manager) SearchByRadius(ctx context.Context, table string, center geo.Point, radius geo.Radius, opts RadiusOptions) ([]Result, error) {
	if _, err := m.geoConfig(table, "geo-radius"); err != nil {
		return nil, err
	}
	if !center.Valid() {
		return nil, apperrors.New("geo-radius", table,
			apperrors.Hint(apperrors.ErrInvalidCoordinate,
				fmt.Sprintf("center lat=%v lng=%v", center.Lat, center.Lng)))
	}
	radiusKm := radius.Km()
	if radiusKm <= 0 {
		return nil, apperrors.New("geo-radius", table,
			apperrors.Hint(apperrors.ErrInvalidGeoQuery, "radius must be positive"))
	}

	locations, err := m.store.GeoRadiusKm(ctx, pointsKey(table), center.Lat, center.Lng, radiusKm, opts.Limit)
	if err != nil {
		return nil, apperrors.New("geo-radius", table, storeErr(err))
	}

	m.countGeoQuery(table, "radius")
	results := make([]Result, 0, len(locations))
	for _, loc := range locations {
		payload, err := m.loadPayload(ctx, table, loc.Member)
		if err != nil {
			return nil, apperrors.New("geo-radius", table, err)
		}
		if payload == nil {
			m.logger.Warn("geo point without payload", "table", table, "doc_id", loc.Member)
			continue
		}
		results = append(results, Result{
			DocID:     loc.Member,
			Data:      payload,
			Point:     geo.Point{Lat: loc.Lat, Lng: loc.Lng},
			Distance:  fromKm(loc.DistKm, radius.Unit),
			Unit:      unitOrKm(radius.Unit),
			Relevance: relevance(loc.DistKm, radiusKm, opts.DistanceBoosts),
		})
	}
	return results, nil
}

// SearchByLocationName normalizes the name and searches around its
// coordinates with the given radius (default 25 km), or around its canonical
// bucket when the name resolves to a bucket only. An unresolvable name is a
// hard error, not an empty result.
func (m *Manager) SearchByLocationName(ctx context.Context, table string, name string, radius *geo.Radius, opts RadiusOptions) ([]Result, error) {
	if _, err := m.geoConfig(table, "geo-name"); err != nil {
		return nil, err
	}
	canonical, ok := m.normalizer.Resolve(name)
	if !ok {
		return nil, apperrors.New("geo-name", table,
			apperrors.Hint(apperrors.ErrUnresolvableLocation, fmt.Sprintf("name %q", name)))
	}
	m.countGeoQuery(table, "name")
	if canonical.HasPoint() {
		r := DefaultNameRadius
		if radius != nil {
			r = *radius
		}
		return m.SearchByRadius(ctx, table, canonical.Point, r, opts)
	}
	if canonical.BucketID != "" {
		return m.SearchByBucket(ctx, table, canonical.BucketID, opts)
	}
	return nil, apperrors.New("geo-name", table,
		apperrors.Hint(apperrors.ErrUnresolvableLocation,
			fmt.Sprintf("name %q has neither coordinates nor a bucket", name)))
}

// SearchByBucket searches around the named bucket's stored center and radius.
func (m *Manager) SearchByBucket(ctx context.Context, table string, bucketID string, opts RadiusOptions) ([]Result, error) {
	if _, err := m.geoConfig(table, "geo-bucket"); err != nil {
		return nil, err
	}
	bucket, err := m.getBucket(ctx, table, bucketID)
	if err != nil {
		return nil, err
	}
	m.countGeoQuery(table, "bucket")
	return m.SearchByRadius(ctx, table, bucket.Center, bucket.Radius, opts)
}

// BuildBuckets clusters the indexed points into buckets and back-assigns
// every point's bucket id. When RefreshGeoIndex is set and a row source is
// available, the raw geo index is rebuilt first; if that refresh fails,
// clustering proceeds on the existing geo index and the report says so.
func (m *Manager) BuildBuckets(ctx context.Context, table string, params BucketBuildParams) (BucketBuildReport, error) {
	cfg, err := m.geoConfig(table, "geo-buckets")
	if err != nil {
		return BucketBuildReport{}, err
	}
	params = params.withDefaults()
	report := BucketBuildReport{BuiltAt: time.Now().UTC()}

	if params.RefreshGeoIndex && m.rows != nil {
		rows, err := m.rows.FetchRows(ctx, table, cfg.RowLimit)
		if err == nil {
			_, err = m.IndexDocuments(ctx, table, rows)
		}
		if err != nil {
			report.GeoRefreshFailed = true
			m.logger.Warn("geo refresh before bucket build failed, clustering stale index",
				"table", table, "error", err)
		}
	}

	members, err := m.store.GeoScan(ctx, pointsKey(table))
	if err != nil {
		return BucketBuildReport{}, apperrors.New("geo-buckets", table, storeErr(err))
	}
	if len(members) == 0 {
		return BucketBuildReport{}, apperrors.New("geo-buckets", table,
			apperrors.Hint(apperrors.ErrIndexNotFound, "index geo documents before building buckets"))
	}

	cells := clusterPoints(members, params)

	// Bucket membership is recomputed wholesale; drop everything from the
	// previous build first.
	if _, err := m.store.DeletePattern(ctx, bucketPattern(table)); err != nil {
		return BucketBuildReport{}, apperrors.New("geo-buckets", table, storeErr(err))
	}

	batch := m.store.Batch()
	buckets := make([]Bucket, 0, len(cells))
	for i, c := range cells {
		bucket := bucketFromCell(fmt.Sprintf("b%03d", i+1), c)
		buckets = append(buckets, bucket)

		data, err := json.Marshal(bucket)
		if err != nil {
			return BucketBuildReport{}, apperrors.New("geo-buckets", table,
				fmt.Errorf("encoding bucket %s: %w", bucket.ID, err))
		}
		batch.Set(bucketKey(table, bucket.ID), string(data))
		batch.SAdd(bucketSetKey(table), bucket.ID)
		for _, member := range c.members {
			batch.SAdd(bucketDocsKey(table, bucket.ID), member.Member)
			if err := m.patchBucketID(ctx, batch, table, member.Member, bucket.ID); err != nil {
				return BucketBuildReport{}, apperrors.New("geo-buckets", table, err)
			}
		}
		if batch.Len() >= batchSize {
			if err := batch.Exec(ctx); err != nil {
				return BucketBuildReport{}, apperrors.New("geo-buckets", table, storeErr(err))
			}
		}
	}
	if err := batch.Exec(ctx); err != nil {
		return BucketBuildReport{}, apperrors.New("geo-buckets", table, storeErr(err))
	}

	report.TotalBuckets = len(buckets)
	report.TotalPoints = len(members)
	report.Buckets = buckets
	meta, err := json.Marshal(report)
	if err != nil {
		return BucketBuildReport{}, apperrors.New("geo-buckets", table, fmt.Errorf("encoding report: %w", err))
	}
	if err := m.store.Set(ctx, metaKey(table), string(meta)); err != nil {
		return BucketBuildReport{}, apperrors.New("geo-buckets", table, storeErr(err))
	}

	if m.metrics != nil {
		m.metrics.GeoBucketsTotal.WithLabelValues(table).Set(float64(len(buckets)))
	}
	m.logger.Info("geo buckets built",
		"table", table,
		"buckets", len(buckets),
		"points", len(members),
		"refresh_failed", report.GeoRefreshFailed,
	)
	return report, nil
}

// SeedBuckets installs statically configured buckets (for example named-city
// seeds). Seeded buckets participate in containment assignment during
// IndexDocuments and in name-based search.
func (m *Manager) SeedBuckets(ctx context.Context, table string, buckets []Bucket) error {
	if _, err := m.geoConfig(table, "geo-seed"); err != nil {
		return err
	}
	batch := m.store.Batch()
	for _, bucket := range buckets {
		if !bucket.Center.Valid() {
			return apperrors.New("geo-seed", table,
				apperrors.Hint(apperrors.ErrInvalidCoordinate, fmt.Sprintf("bucket %s", bucket.ID)))
		}
		data, err := json.Marshal(bucket)
		if err != nil {
			return apperrors.New("geo-seed", table, fmt.Errorf("encoding bucket %s: %w", bucket.ID, err))
		}
		batch.Set(bucketKey(table, bucket.ID), string(data))
		batch.SAdd(bucketSetKey(table), bucket.ID)
	}
	if err := batch.Exec(ctx); err != nil {
		return apperrors.New("geo-seed", table, storeErr(err))
	}
	return nil
}

// GetBuckets returns all buckets with live member counts.
func (m *Manager) GetBuckets(ctx context.Context, table string) ([]Bucket, error) {
	if _, err := m.geoConfig(table, "geo-buckets"); err != nil {
		return nil, err
	}
	ids, err := m.store.SMembers(ctx, bucketSetKey(table))
	if err != nil {
		return nil, apperrors.New("geo-buckets", table, storeErr(err))
	}
	buckets := make([]Bucket, 0, len(ids))
	for _, id := range ids {
		bucket, err := m.getBucket(ctx, table, id)
		if err != nil {
			return nil, err
		}
		members, err := m.store.SMembers(ctx, bucketDocsKey(table, id))
		if err != nil {
			return nil, apperrors.New("geo-buckets", table, storeErr(err))
		}
		if len(members) > 0 {
			bucket.Count = len(members)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// Stats reports the size and shape of the table's geo index. The byte size
// is extrapolated from a payload sample.
func (m *Manager) Stats(ctx context.Context, table string) (Stats, error) {
	if _, err := m.geoConfig(table, "geo-stats"); err != nil {
		return Stats{}, err
	}
	members, err := m.store.GeoScan(ctx, pointsKey(table))
	if err != nil {
		return Stats{}, apperrors.New("geo-stats", table, storeErr(err))
	}

	counts := make(map[string]int)
	ids, err := m.store.SMembers(ctx, bucketSetKey(table))
	if err != nil {
		return Stats{}, apperrors.New("geo-stats", table, storeErr(err))
	}
	for _, id := range ids {
		docs, err := m.store.SMembers(ctx, bucketDocsKey(table, id))
		if err != nil {
			return Stats{}, apperrors.New("geo-stats", table, storeErr(err))
		}
		counts[id] = len(docs)
	}

	locations, err := m.store.SMembers(ctx, locationsKey(table))
	if err != nil {
		return Stats{}, apperrors.New("geo-stats", table, storeErr(err))
	}

	var sampled int64
	sampleCount := 0
	for i, member := range members {
		if i >= statSampleSize {
			break
		}
		data, err := m.store.Get(ctx, geoDocKey(table, member.Member))
		if err != nil {
			continue
		}
		sampled += int64(len(data))
		sampleCount++
	}
	var sizeBytes int64
	if sampleCount > 0 {
		sizeBytes = sampled / int64(sampleCount) * int64(len(members))
	}

	return Stats{
		TotalDocuments:      len(members),
		BucketCounts:        counts,
		NormalizedLocations: len(locations),
		IndexSizeBytes:      sizeBytes,
	}, nil
}

// ClearIndex removes every key of the table's geo index. Idempotent.
func (m *Manager) ClearIndex(ctx context.Context, table string) error {
	deleted, err := m.store.DeletePattern(ctx, tablePattern(table))
	if err != nil {
		return apperrors.New("geo-clear", table, storeErr(err))
	}
	if m.metrics != nil {
		m.metrics.GeoPointsIndexed.WithLabelValues(table).Set(0)
		m.metrics.GeoBucketsTotal.WithLabelValues(table).Set(0)
	}
	m.logger.Info("geo index cleared", "table", table, "keys_deleted", deleted)
	return nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func (m *Manager) geoConfig(table string, op string) (*config.TableConfig, error) {
	cfg, ok := m.tables.Get(table)
	if !ok {
		return nil, apperrors.New(op, table, apperrors.ErrNoTableConfig)
	}
	if !cfg.HasGeo() {
		return nil, apperrors.New(op, table, apperrors.ErrGeoNotConfigured)
	}
	return cfg, nil
}

func (m *Manager) getBucket(ctx context.Context, table string, bucketID string) (Bucket, error) {
	data, err := m.store.Get(ctx, bucketKey(table, bucketID))
	if err != nil {
		if kv.IsNotFound(err) {
			return Bucket{}, apperrors.New("geo-bucket", table,
				apperrors.Hint(apperrors.ErrBucketNotFound, fmt.Sprintf("bucket %q", bucketID)))
		}
		return Bucket{}, apperrors.New("geo-bucket", table, storeErr(err))
	}
	var bucket Bucket
	if err := json.Unmarshal([]byte(data), &bucket); err != nil {
		return Bucket{}, apperrors.New("geo-bucket", table,
			fmt.Errorf("decoding bucket %s: %w", bucketID, err))
	}
	return bucket, nil
}

func (m *Manager) loadBuckets(ctx context.Context, table string) (map[string]Bucket, error) {
	ids, err := m.store.SMembers(ctx, bucketSetKey(table))
	if err != nil {
		return nil, storeErr(err)
	}
	buckets := make(map[string]Bucket, len(ids))
	for _, id := range ids {
		bucket, err := m.getBucket(ctx, table, id)
		if err != nil {
			return nil, err
		}
		buckets[id] = bucket
	}
	return buckets, nil
}

func (m *Manager) loadPayload(ctx context.Context, table string, docID string) (map[string]any, error) {
	data, err := m.store.Get(ctx, geoDocKey(table, docID))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decoding geo document %s: %w", docID, err)
	}
	return payload, nil
}

// patchBucketID rewrites a stored payload's bucket assignment.
func (m *Manager) patchBucketID(ctx context.Context, batch kv.Batch, table string, docID string, bucketID string) error {
	payload, err := m.loadPayload(ctx, table, docID)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	payload[FieldBucketID] = bucketID
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding geo document %s: %w", docID, err)
	}
	batch.Set(geoDocKey(table, docID), string(data))
	return nil
}

func (m *Manager) countGeoQuery(table string, mode string) {
	if m.metrics != nil {
		m.metrics.GeoQueriesTotal.WithLabelValues(table, mode).Inc()
	}
}

// assignBucket returns the id of the containing bucket whose center is
// nearest, or "" when no bucket contains the point.
func assignBucket(buckets map[string]Bucket, point geo.Point) string {
	best := ""
	bestDist := 0.0
	for id, bucket := range buckets {
		if !bucket.Contains(point) {
			continue
		}
		d := geo.DistanceKm(bucket.Center, point)
		if best == "" || d < bestDist {
			best = id
			bestDist = d
		}
	}
	return best
}

// extractPoint reads the configured coordinate columns. ok is false when the
// row has no coordinates at all; an error means the coordinates are present
// but invalid.
func extractPoint(cfg *config.GeoConfig, row map[string]any) (geo.Point, bool, error) {
	latRaw, latOK := row[cfg.LatitudeField]
	lngRaw, lngOK := row[cfg.LongitudeField]
	if !latOK || !lngOK || latRaw == nil || lngRaw == nil {
		return geo.Point{}, false, nil
	}
	lat, err := toFloat(latRaw)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("latitude: %v", err)
	}
	lng, err := toFloat(lngRaw)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("longitude: %v", err)
	}
	point := geo.Point{Lat: lat, Lng: lng}
	if !point.Valid() {
		return geo.Point{}, false, fmt.Errorf("lat=%v lng=%v out of range", lat, lng)
	}
	return point, true, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func relevance(distKm, radiusKm float64, boosts []DistanceBoost) float64 {
	score := 1 - distKm/radiusKm
	maxBoost := 0.0
	for _, tier := range boosts {
		if distKm <= tier.WithinKm && tier.Boost > maxBoost {
			maxBoost = tier.Boost
		}
	}
	score += maxBoost
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func fromKm(km float64, unit string) float64 {
	switch unit {
	case geo.UnitMiles:
		return km * geo.EarthRadiusMiles / geo.EarthRadiusKm
	case geo.UnitMeters:
		return km * 1000
	default:
		return km
	}
}

func unitOrKm(unit string) string {
	if unit == "" {
		return geo.UnitKilometers
	}
	return unit
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int64:
		return fmt.Sprintf("%d", id)
	case int:
		return fmt.Sprintf("%d", id)
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%g", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}
