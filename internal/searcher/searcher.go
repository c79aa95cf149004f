// Package searcher orchestrates queries across the inverted index and the
// geo index. Text-only queries pass straight through; queries carrying a geo
// clause are narrowed to the spatial hit set with distances attached.
package searcher

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/rowsift/rowsift/internal/geo"
	"github.com/rowsift/rowsift/internal/geoindex"
	"github.com/rowsift/rowsift/internal/index"
	"github.com/rowsift/rowsift/internal/ranker"
	"github.com/rowsift/rowsift/pkg/config"
	apperrors "github.com/rowsift/rowsift/pkg/errors"
)

// GeoMode selects one of the mutually exclusive geo query variants.
type GeoMode string

const (
	GeoByRadius GeoMode = "radius"
	GeoByName   GeoMode = "name"
	GeoByBucket GeoMode = "bucket"
)

// GeoQuery is the geo clause of a search. Exactly one variant's fields apply,
// selected by Mode and validated once before dispatch.
type GeoQuery struct {
	Mode GeoMode

	// GeoByRadius
	Center geo.Point
	// Radius applies to GeoByRadius and optionally to GeoByName.
	Radius *geo.Radius

	// GeoByName
	Name string

	// GeoByBucket
	BucketID string

	Limit          int
	DistanceBoosts []geoindex.DistanceBoost
}

func (q *GeoQuery) validate(table string) error {
	switch q.Mode {
	case GeoByRadius:
		if q.Radius == nil {
			return apperrors.New("search", table,
				apperrors.Hint(apperrors.ErrInvalidGeoQuery, "radius mode requires a radius"))
		}
	case GeoByName:
		if strings.TrimSpace(q.Name) == "" {
			return apperrors.New("search", table,
				apperrors.Hint(apperrors.ErrInvalidGeoQuery, "name mode requires a location name"))
		}
	case GeoByBucket:
		if q.BucketID == "" {
			return apperrors.New("search", table,
				apperrors.Hint(apperrors.ErrInvalidGeoQuery, "bucket mode requires a bucket id"))
		}
	default:
		return apperrors.New("search", table,
			apperrors.Hint(apperrors.ErrInvalidGeoQuery, "mode must be radius, name, or bucket"))
	}
	return nil
}

// Options control a combined search.
type Options struct {
	Fields        []string
	Limit         int
	Offset        int
	MinScore      float64
	UseBM25       bool
	Highlight     bool
	HighlightOpts ranker.HighlightOptions
	SnippetLength int
	Geo           *GeoQuery
}

// Hit is one combined search result. Distance and Unit are set only when the
// search carried a geo clause.
type Hit struct {
	DocID        string            `json:"doc_id"`
	Data         map[string]any    `json:"data"`
	Score        float64           `json:"score"`
	MatchedTerms []string          `json:"matched_terms,omitempty"`
	Highlights   map[string]string `json:"highlights,omitempty"`
	Distance     float64           `json:"distance,omitempty"`
	Unit         string            `json:"unit,omitempty"`
}

// TableStats composes the text and geo index statistics of one table.
type TableStats struct {
	Index index.Stats    `json:"index"`
	Geo   *geoindex.Stats `json:"geo,omitempty"`
}

// Service answers combined queries over a table's indexes.
type Service struct {
	index  *index.Manager
	geo    *geoindex.Manager
	tables *config.Registry
	logger *slog.Logger
}

// NewService wires the two managers behind one query surface.
func NewService(idx *index.Manager, geoIdx *geoindex.Manager, tables *config.Registry) *Service {
	return &Service{
		index:  idx,
		geo:    geoIdx,
		tables: tables,
		logger: slog.Default().With("component", "searcher"),
	}
}

// Search runs the query. With a geo clause, text matches are narrowed to the
// spatial hit set and carry distances; an empty query text with a geo clause
// is a pure spatial search ordered by distance.
func (s *Service) Search(ctx context.Context, table string, query string, opts Options) ([]Hit, error) {
	if opts.Geo == nil {
		results, err := s.index.Query(ctx, table, query, textOptions(opts, opts.Limit, opts.Offset))
		if err != nil {
			return nil, err
		}
		return textHits(results), nil
	}

	if err := opts.Geo.validate(table); err != nil {
		return nil, err
	}
	geoResults, err := s.geoSearch(ctx, table, opts.Geo)
	if err != nil {
		return nil, err
	}
	if len(geoResults) == 0 {
		return []Hit{}, nil
	}

	if strings.TrimSpace(query) == "" {
		return geoHits(geoResults, opts), nil
	}

	// Fetch the full ranked text result set; the final page is cut after the
	// spatial narrowing, so text-side pagination cannot be used.
	results, err := s.index.Query(ctx, table, query, textOptions(opts, math.MaxInt32, 0))
	if err != nil {
		return nil, err
	}

	byDoc := make(map[string]geoindex.Result, len(geoResults))
	for _, gr := range geoResults {
		byDoc[gr.DocID] = gr
	}

	hits := make([]Hit, 0, len(geoResults))
	for _, r := range results {
		gr, ok := byDoc[r.DocID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			DocID:        r.DocID,
			Data:         mergeGeoFields(r.Data, gr),
			Score:        r.Score,
			MatchedTerms: r.MatchedTerms,
			Highlights:   r.Highlights,
			Distance:     gr.Distance,
			Unit:         gr.Unit,
		})
	}
	return paginate(hits, opts.Offset, opts.Limit), nil
}

// Stats returns the table's index statistics, with the geo section present
// only for geo-configured tables.
func (s *Service) Stats(ctx context.Context, table string) (TableStats, error) {
	idxStats, err := s.index.Stats(ctx, table)
	if err != nil {
		return TableStats{}, err
	}
	stats := TableStats{Index: idxStats}

	if cfg, ok := s.tables.Get(table); ok && cfg.HasGeo() {
		geoStats, err := s.geo.Stats(ctx, table)
		if err != nil {
			return TableStats{}, err
		}
		stats.Geo = &geoStats
	}
	return stats, nil
}

func (s *Service) geoSearch(ctx context.Context, table string, q *GeoQuery) ([]geoindex.Result, error) {
	ropts := geoindex.RadiusOptions{Limit: q.Limit, DistanceBoosts: q.DistanceBoosts}
	switch q.Mode {
	case GeoByRadius:
		return s.geo.SearchByRadius(ctx, table, q.Center, *q.Radius, ropts)
	case GeoByName:
		return s.geo.SearchByLocationName(ctx, table, q.Name, q.Radius, ropts)
	default:
		return s.geo.SearchByBucket(ctx, table, q.BucketID, ropts)
	}
}

func textOptions(opts Options, limit, offset int) index.QueryOptions {
	return index.QueryOptions{
		Fields:        opts.Fields,
		Limit:         limit,
		Offset:        offset,
		MinScore:      opts.MinScore,
		UseBM25:       opts.UseBM25,
		Highlight:     opts.Highlight,
		HighlightOpts: opts.HighlightOpts,
		SnippetLength: opts.SnippetLength,
	}
}

func textHits(results []index.Result) []Hit {
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			DocID:        r.DocID,
			Data:         r.Data,
			Score:        r.Score,
			MatchedTerms: r.MatchedTerms,
			Highlights:   r.Highlights,
		}
	}
	return hits
}

// geoHits converts a pure spatial result set, keeping the ascending distance
// order and using spatial relevance as the score.
func geoHits(results []geoindex.Result, opts Options) []Hit {
	hits := make([]Hit, 0, len(results))
	for _, gr := range results {
		if gr.Relevance < opts.MinScore {
			continue
		}
		hits = append(hits, Hit{
			DocID:    gr.DocID,
			Data:     gr.Data,
			Score:    gr.Relevance,
			Distance: gr.Distance,
			Unit:     gr.Unit,
		})
	}
	return paginate(hits, opts.Offset, opts.Limit)
}

// mergeGeoFields overlays the geo payload's derived fields onto the text
// result's data.
func mergeGeoFields(data map[string]any, gr geoindex.Result) map[string]any {
	merged := make(map[string]any, len(data)+4)
	for k, v := range data {
		merged[k] = v
	}
	for _, field := range []string{
		geoindex.FieldLat,
		geoindex.FieldLng,
		geoindex.FieldLocationName,
		geoindex.FieldBucketID,
	} {
		if v, ok := gr.Data[field]; ok {
			merged[field] = v
		}
	}
	return merged
}

func paginate(hits []Hit, offset, limit int) []Hit {
	if limit <= 0 {
		limit = index.DefaultLimit
	}
	if offset >= len(hits) {
		return []Hit{}
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
