// Package index owns the per-table inverted index lifecycle: building from
// table rows, querying with ranked results, clearing, and statistics. All
// persisted state lives in the key-value store; queries never mutate it.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rowsift/rowsift/internal/ranker"
	"github.com/rowsift/rowsift/internal/tokenizer"
	"github.com/rowsift/rowsift/pkg/config"
	apperrors "github.com/rowsift/rowsift/pkg/errors"
	"github.com/rowsift/rowsift/pkg/kv"
	"github.com/rowsift/rowsift/pkg/metrics"
)

const defaultBatchSize = 500

// Manager builds and queries per-table inverted indexes.
type Manager struct {
	store     kv.Store
	rows      RowSource
	tables    *config.Registry
	ranker    *ranker.Ranker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	batchSize int
	group     singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithRanker overrides the default TF-IDF ranker.
func WithRanker(r *ranker.Ranker) Option {
	return func(m *Manager) { m.ranker = r }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithBatchSize sets the number of pipelined commands per build flush.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// NewManager creates a Manager over the given store, row source, and table
// configuration registry.
func NewManager(store kv.Store, rows RowSource, tables *config.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		rows:      rows,
		tables:    tables,
		ranker:    ranker.New(),
		logger:    slog.Default().With("component", "index-manager"),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Build indexes every row of the table into a fresh generation and makes it
// the active one. Building an empty table is an error, not a no-op.
// Concurrent Build calls for the same table coalesce into one.
func (m *Manager) Build(ctx context.Context, table string) (Stats, error) {
	return m.coalesce(ctx, "build", table, false)
}

// Rebuild is clear+build, atomic from the caller's perspective: the new
// generation is written completely before the pointer swaps, and the old
// generation is deleted afterwards.
func (m *Manager) Rebuild(ctx context.Context, table string) (Stats, error) {
	return m.coalesce(ctx, "rebuild", table, true)
}

func (m *Manager) coalesce(ctx context.Context, op string, table string, dropOld bool) (Stats, error) {
	v, err, _ := m.group.Do(op+":"+table, func() (any, error) {
		return m.build(ctx, op, table, dropOld)
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

func (m *Manager) build(ctx context.Context, op string, table string, dropOld bool) (Stats, error) {
	cfg, ok := m.tables.Get(table)
	if !ok {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table, apperrors.ErrNoTableConfig)
	}
	start := time.Now()

	rows, err := m.rows.FetchRows(ctx, table, cfg.RowLimit)
	if err != nil {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table, fmt.Errorf("fetching rows: %w", err))
	}
	if len(rows) == 0 {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table,
			apperrors.Hint(apperrors.ErrEmptyTable, "populate the table before building its index"))
	}

	accum := newAccumulator(cfg)
	for i, row := range rows {
		docID := stringifyID(row["id"])
		if docID == "" {
			m.logger.Warn("row without id skipped", "table", table, "row", i)
			accum.skipped++
			continue
		}
		if err := accum.addRow(docID, row); err != nil {
			m.countBuild(table, "error")
			return Stats{}, apperrors.NewDoc(op, table, docID, err)
		}
	}
	if accum.docCount() == 0 {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table,
			apperrors.Hint(apperrors.ErrEmptyTable, "no row had a usable id column"))
	}

	prevGen, _ := m.currentGen(ctx, table)
	gen := prevGen + 1

	stats, err := m.writeGeneration(ctx, table, gen, accum)
	if err != nil {
		// The pointer never swapped, so readers still see the prior index.
		// Remove whatever partial generation made it to the store.
		if _, cleanupErr := m.store.DeletePattern(ctx, genPattern(table, gen)); cleanupErr != nil {
			m.logger.Warn("cleanup of aborted build failed",
				"table", table, "generation", gen, "error", cleanupErr)
		}
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table, err)
	}
	stats.LastBuildTime = start.UTC()
	stats.BuildDurationMs = time.Since(start).Milliseconds()

	meta, err := json.Marshal(stats)
	if err != nil {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table, fmt.Errorf("encoding stats: %w", err))
	}
	if err := m.store.Set(ctx, metaKey(table, gen), string(meta)); err != nil {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table, storeErr(err))
	}
	if err := m.store.Set(ctx, genKey(table), strconv.FormatInt(gen, 10)); err != nil {
		m.countBuild(table, "error")
		return Stats{}, apperrors.New(op, table, storeErr(err))
	}

	if dropOld && prevGen > 0 {
		if _, err := m.store.DeletePattern(ctx, genPattern(table, prevGen)); err != nil {
			m.logger.Warn("deleting previous index generation failed",
				"table", table, "generation", prevGen, "error", err)
		}
	}

	m.countBuild(table, "ok")
	if m.metrics != nil {
		m.metrics.IndexBuildDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
		m.metrics.DocsIndexedTotal.WithLabelValues(table).Add(float64(stats.TotalDocuments))
		m.metrics.IndexedDocuments.WithLabelValues(table).Set(float64(stats.TotalDocuments))
	}
	m.logger.Info("index built",
		"table", table,
		"generation", gen,
		"documents", stats.TotalDocuments,
		"terms", stats.TotalTerms,
		"tokens", stats.TotalTokens,
		"skipped_rows", stats.SkippedRows,
		"duration_ms", stats.BuildDurationMs,
	)
	return stats, nil
}

// writeGeneration persists the accumulated index under the given generation
// using pipelined batches.
func (m *Manager) writeGeneration(ctx context.Context, table string, gen int64, accum *accumulator) (Stats, error) {
	batch := m.store.Batch()
	var bytesWritten int64

	put := func(key, value string) error {
		batch.Set(key, value)
		bytesWritten += int64(len(key) + len(value))
		if batch.Len() >= m.batchSize {
			if err := batch.Exec(ctx); err != nil {
				return storeErr(err)
			}
		}
		return nil
	}

	for term, byDoc := range accum.terms {
		postings := flattenPostings(byDoc)
		data, err := json.Marshal(postings)
		if err != nil {
			return Stats{}, fmt.Errorf("encoding postings for term %q: %w", term, err)
		}
		if err := put(termKey(table, gen, term), string(data)); err != nil {
			return Stats{}, err
		}
	}
	for docID, payload := range accum.docs {
		data, err := json.Marshal(payload)
		if err != nil {
			return Stats{}, fmt.Errorf("encoding document %s: %w", docID, err)
		}
		if err := put(docKey(table, gen, docID), string(data)); err != nil {
			return Stats{}, err
		}
	}
	lens, err := json.Marshal(accum.docLens)
	if err != nil {
		return Stats{}, fmt.Errorf("encoding document lengths: %w", err)
	}
	if err := put(docLensKey(table, gen), string(lens)); err != nil {
		return Stats{}, err
	}
	if err := batch.Exec(ctx); err != nil {
		return Stats{}, storeErr(err)
	}

	return Stats{
		TotalDocuments:   accum.docCount(),
		TotalTerms:       len(accum.terms),
		TotalTokens:      accum.totalTokens,
		SkippedRows:      accum.skipped,
		MemoryUsageBytes: bytesWritten,
		Fields:           accum.fields,
	}, nil
}

// Query tokenizes text with the table's build-time tokenizer configuration,
// unions per-term matches (OR semantics; matching more terms ranks higher),
// ranks the candidates, and pages the results. Store outages surface as
// errors, never as empty results.
func (m *Manager) Query(ctx context.Context, table string, text string, opts QueryOptions) ([]Result, error) {
	cfg, ok := m.tables.Get(table)
	if !ok {
		return nil, apperrors.New("query", table, apperrors.ErrNoTableConfig)
	}
	start := time.Now()

	gen, found := m.currentGen(ctx, table)
	if !found {
		m.countQuery(table, "error")
		return nil, apperrors.New("query", table,
			apperrors.Hint(apperrors.ErrIndexNotFound, "build the index before querying"))
	}

	terms := tokenizer.UniqueTerms(tokenizer.Tokenize(text, "", tokenizerOptions(cfg)))
	if len(terms) == 0 {
		m.countQuery(table, "zero_result")
		return []Result{}, nil
	}

	stats, err := m.readStats(ctx, table, gen)
	if err != nil {
		m.countQuery(table, "error")
		return nil, apperrors.New("query", table, err)
	}
	docLens, err := m.readDocLens(ctx, table, gen)
	if err != nil {
		m.countQuery(table, "error")
		return nil, apperrors.New("query", table, err)
	}

	candidates, err := m.gatherCandidates(ctx, table, gen, terms, opts.Fields, docLens)
	if err != nil {
		m.countQuery(table, "error")
		return nil, apperrors.New("query", table, err)
	}

	r := m.ranker
	if opts.UseBM25 {
		r = ranker.New(ranker.WithBM25(ranker.DefaultK1, ranker.DefaultB))
	}
	ranked := r.Rank(candidates, terms, ranker.Corpus{
		TotalDocs:    stats.TotalDocuments,
		AvgDocLength: stats.AvgDocLength(),
		FieldBoosts:  cfg.Boosts(),
	})

	page := paginate(ranked, opts)
	results, err := m.loadResults(ctx, table, gen, cfg, page, text, opts)
	if err != nil {
		m.countQuery(table, "error")
		return nil, apperrors.New("query", table, err)
	}

	outcome := "hit"
	if len(results) == 0 {
		outcome = "zero_result"
	}
	m.countQuery(table, outcome)
	if m.metrics != nil {
		m.metrics.SearchLatency.WithLabelValues(table).Observe(time.Since(start).Seconds())
		m.metrics.SearchResultsCount.Observe(float64(len(results)))
	}
	m.logger.Debug("query executed",
		"table", table,
		"terms", terms,
		"candidates", len(candidates),
		"results", len(results),
	)
	return results, nil
}

// Clear deletes every persisted key of the table's index, across all
// generations. It is idempotent and never errors on an already-empty index.
func (m *Manager) Clear(ctx context.Context, table string) error {
	deleted, err := m.store.DeletePattern(ctx, tablePattern(table))
	if err != nil {
		return apperrors.New("clear", table, storeErr(err))
	}
	if m.metrics != nil {
		m.metrics.IndexedDocuments.WithLabelValues(table).Set(0)
	}
	m.logger.Info("index cleared", "table", table, "keys_deleted", deleted)
	return nil
}

// Stats returns the statistics of the last build, or ErrIndexNotFound when
// the table has never been built.
func (m *Manager) Stats(ctx context.Context, table string) (Stats, error) {
	gen, found := m.currentGen(ctx, table)
	if !found {
		return Stats{}, apperrors.New("stats", table, apperrors.ErrIndexNotFound)
	}
	stats, err := m.readStats(ctx, table, gen)
	if err != nil {
		return Stats{}, apperrors.New("stats", table, err)
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func (m *Manager) currentGen(ctx context.Context, table string) (int64, bool) {
	value, err := m.store.Get(ctx, genKey(table))
	if err != nil {
		return 0, false
	}
	gen, err := strconv.ParseInt(value, 10, 64)
	if err != nil || gen <= 0 {
		return 0, false
	}
	return gen, true
}

func (m *Manager) readStats(ctx context.Context, table string, gen int64) (Stats, error) {
	data, err := m.store.Get(ctx, metaKey(table, gen))
	if err != nil {
		if kv.IsNotFound(err) {
			return Stats{}, apperrors.ErrIndexNotFound
		}
		return Stats{}, storeErr(err)
	}
	var stats Stats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return Stats{}, fmt.Errorf("decoding stats: %w", err)
	}
	return stats, nil
}

func (m *Manager) readDocLens(ctx context.Context, table string, gen int64) (map[string]int, error) {
	data, err := m.store.Get(ctx, docLensKey(table, gen))
	if err != nil {
		if kv.IsNotFound(err) {
			return map[string]int{}, nil
		}
		return nil, storeErr(err)
	}
	var lens map[string]int
	if err := json.Unmarshal([]byte(data), &lens); err != nil {
		return nil, fmt.Errorf("decoding document lengths: %w", err)
	}
	return lens, nil
}

// gatherCandidates unions per-term posting lists into ranker candidates.
// Document frequency is computed from the unfiltered posting list; the field
// filter only restricts which occurrences count toward a candidate.
func (m *Manager) gatherCandidates(ctx context.Context, table string, gen int64, terms []string, fields []string, docLens map[string]int) ([]ranker.Candidate, error) {
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}

	byDoc := make(map[string]*ranker.Candidate)
	var order []string
	for _, term := range terms {
		data, err := m.store.Get(ctx, termKey(table, gen, term))
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return nil, storeErr(err)
		}
		var postings []Posting
		if err := json.Unmarshal([]byte(data), &postings); err != nil {
			return nil, fmt.Errorf("decoding postings for term %q: %w", term, err)
		}

		df := distinctDocs(postings)
		for _, p := range postings {
			if len(allowed) > 0 {
				if _, ok := allowed[p.Field]; !ok {
					continue
				}
			}
			candidate, exists := byDoc[p.DocID]
			if !exists {
				candidate = &ranker.Candidate{
					DocID:     p.DocID,
					DocLength: docLens[p.DocID],
					Terms:     make(map[string]ranker.TermStats),
				}
				byDoc[p.DocID] = candidate
				order = append(order, p.DocID)
			}
			stats := candidate.Terms[term]
			stats.Frequency += p.TermFrequency
			stats.DocFrequency = df
			stats.Positions = append(stats.Positions, p.Positions...)
			stats.Fields = append(stats.Fields, p.Field)
			candidate.Terms[term] = stats
		}
	}

	candidates := make([]ranker.Candidate, 0, len(order))
	for _, docID := range order {
		candidates = append(candidates, *byDoc[docID])
	}
	return candidates, nil
}

func (m *Manager) loadResults(ctx context.Context, table string, gen int64, cfg *config.TableConfig, page []ranker.ScoredDoc, queryText string, opts QueryOptions) ([]Result, error) {
	rawTerms := rawQueryWords(queryText)
	results := make([]Result, 0, len(page))
	for _, doc := range page {
		data, err := m.store.Get(ctx, docKey(table, gen, doc.DocID))
		if err != nil {
			if kv.IsNotFound(err) {
				m.logger.Warn("ranked document missing from store",
					"table", table, "doc_id", doc.DocID)
				continue
			}
			return nil, storeErr(err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("decoding document %s: %w", doc.DocID, err)
		}
		payload["_score"] = doc.Score

		result := Result{
			DocID:        doc.DocID,
			Data:         payload,
			Score:        doc.Score,
			MatchedTerms: doc.MatchedTerms,
		}
		if opts.Highlight {
			result.Highlights = m.highlightFields(cfg, payload, rawTerms, opts)
			payload["_highlights"] = result.Highlights
		}
		results = append(results, result)
	}
	return results, nil
}

func (m *Manager) highlightFields(cfg *config.TableConfig, payload map[string]any, rawTerms []string, opts QueryOptions) map[string]string {
	highlights := make(map[string]string)
	for _, fc := range cfg.SearchableFields {
		value, ok := payload[fc.Field].(string)
		if !ok || value == "" {
			continue
		}
		var rendered string
		if opts.SnippetLength > 0 {
			rendered = ranker.Snippet(value, rawTerms, opts.SnippetLength, opts.HighlightOpts)
		} else {
			rendered = ranker.Highlight(value, rawTerms, opts.HighlightOpts)
		}
		if rendered != value {
			highlights[fc.Field] = rendered
		}
	}
	return highlights
}

func (m *Manager) countBuild(table string, status string) {
	if m.metrics != nil {
		m.metrics.IndexBuildsTotal.WithLabelValues(table, status).Inc()
	}
}

func (m *Manager) countQuery(table string, outcome string) {
	if m.metrics != nil {
		m.metrics.SearchQueriesTotal.WithLabelValues(table, outcome).Inc()
	}
}

// ---------------------------------------------------------------------------
// build accumulator
// ---------------------------------------------------------------------------

type accumulator struct {
	cfg         *config.TableConfig
	tokOpts     tokenizer.Options
	terms       map[string]map[string]map[string]*Posting // term → doc → field
	docs        map[string]map[string]any
	docLens     map[string]int
	fields      []string
	totalTokens int
	skipped     int
}

func newAccumulator(cfg *config.TableConfig) *accumulator {
	fields := make([]string, 0, len(cfg.SearchableFields))
	for _, fc := range cfg.SearchableFields {
		fields = append(fields, fc.Field)
	}
	return &accumulator{
		cfg:     cfg,
		tokOpts: tokenizerOptions(cfg),
		terms:   make(map[string]map[string]map[string]*Posting),
		docs:    make(map[string]map[string]any),
		docLens: make(map[string]int),
		fields:  fields,
	}
}

func (a *accumulator) addRow(docID string, row map[string]any) error {
	tokenCount := 0
	for _, fc := range a.cfg.SearchableFields {
		raw, ok := row[fc.Field]
		if !ok || raw == nil {
			continue
		}
		text := fmt.Sprintf("%v", raw)
		for _, token := range tokenizer.Tokenize(text, fc.Field, a.tokOpts) {
			byDoc, ok := a.terms[token.Term]
			if !ok {
				byDoc = make(map[string]map[string]*Posting)
				a.terms[token.Term] = byDoc
			}
			byField, ok := byDoc[docID]
			if !ok {
				byField = make(map[string]*Posting)
				byDoc[docID] = byField
			}
			byField[fc.Field] = &Posting{
				DocID:         docID,
				Field:         fc.Field,
				TermFrequency: len(token.Positions),
				Positions:     token.Positions,
			}
			tokenCount += len(token.Positions)
		}
	}
	a.docs[docID] = row
	a.docLens[docID] = tokenCount
	a.totalTokens += tokenCount
	return nil
}

func (a *accumulator) docCount() int {
	return len(a.docs)
}

// flattenPostings orders a term's postings by document then field so the
// stored JSON is deterministic across builds.
func flattenPostings(byDoc map[string]map[string]*Posting) []Posting {
	postings := make([]Posting, 0, len(byDoc))
	for _, byField := range byDoc {
		for _, p := range byField {
			postings = append(postings, *p)
		}
	}
	sort.Slice(postings, func(i, j int) bool {
		if postings[i].DocID != postings[j].DocID {
			return postings[i].DocID < postings[j].DocID
		}
		return postings[i].Field < postings[j].Field
	})
	return postings
}

func distinctDocs(postings []Posting) int {
	seen := make(map[string]struct{}, len(postings))
	for _, p := range postings {
		seen[p.DocID] = struct{}{}
	}
	return len(seen)
}

func tokenizerOptions(cfg *config.TableConfig) tokenizer.Options {
	return tokenizer.Options{
		Type:          cfg.Tokenizer,
		MinWordLength: cfg.MinWordLength,
		NgramSize:     cfg.NgramSize,
	}
}

func paginate(ranked []ranker.ScoredDoc, opts QueryOptions) []ranker.ScoredDoc {
	filtered := ranked
	if opts.MinScore > 0 {
		filtered = make([]ranker.ScoredDoc, 0, len(ranked))
		for _, doc := range ranked {
			if doc.Score >= opts.MinScore {
				filtered = append(filtered, doc)
			}
		}
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end]
}

// rawQueryWords returns the surface words of the query for highlighting;
// stemmed index terms rarely appear verbatim in field text.
func rawQueryWords(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return r != '-' && r != '\'' && !isAlnum(r)
	})
	out := words[:0]
	for _, w := range words {
		if len(w) >= 2 {
			out = append(out, w)
		}
	}
	return out
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r > 127
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}

// stringifyID renders the id column of a row as a stable document id.
func stringifyID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case float64:
		// JSON round-trips integers as float64.
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", id)
	}
}
