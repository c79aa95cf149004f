package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rowsift/rowsift/pkg/config"
	apperrors "github.com/rowsift/rowsift/pkg/errors"
	"github.com/rowsift/rowsift/pkg/kv"
)

type fakeRows struct {
	rows map[string][]map[string]any
	err  error
}

func (f *fakeRows) FetchRows(_ context.Context, table string, _ int) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[table], nil
}

func serviceRows() []map[string]any {
	return []map[string]any{
		{"id": 1, "name": "Emergency Plumber", "description": "round the clock emergency plumbing repair"},
		{"id": 2, "name": "Plumbing Repair", "description": "fixing pipes and drains"},
		{"id": 3, "name": "Electrician", "description": "wiring and panel upgrades"},
	}
}

func newTestManager(t *testing.T, rows *fakeRows) (*Manager, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	registry := config.NewRegistry(store)
	err := registry.Put(context.Background(), &config.TableConfig{
		Table: "services",
		SearchableFields: []config.FieldConfig{
			{Field: "name", Boost: 2},
			{Field: "description", Boost: 1},
		},
		Tokenizer: config.TokenizerStemming,
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(store, rows, registry), store
}

func TestBuildWithoutConfig(t *testing.T) {
	m, _ := newTestManager(t, &fakeRows{})
	_, err := m.Build(context.Background(), "unknown")
	if !errors.Is(err, apperrors.ErrNoTableConfig) {
		t.Errorf("Build(unknown) err = %v, want ErrNoTableConfig", err)
	}
}

func TestBuildEmptyTable(t *testing.T) {
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{}})
	_, err := m.Build(context.Background(), "services")
	if !errors.Is(err, apperrors.ErrEmptyTable) {
		t.Errorf("Build on empty table err = %v, want ErrEmptyTable", err)
	}
}

func TestBuildStatsConsistency(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})

	built, err := m.Build(ctx, "services")
	if err != nil {
		t.Fatal(err)
	}
	if built.TotalDocuments != 3 {
		t.Errorf("TotalDocuments = %d, want 3", built.TotalDocuments)
	}
	if built.TotalTerms == 0 || built.TotalTokens == 0 {
		t.Errorf("stats missing terms/tokens: %+v", built)
	}

	stored, err := m.Stats(ctx, "services")
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalDocuments != built.TotalDocuments || stored.TotalTerms != built.TotalTerms {
		t.Errorf("stored stats %+v differ from build result %+v", stored, built)
	}
}

func TestBuildSkipsRowsWithoutID(t *testing.T) {
	ctx := context.Background()
	rows := serviceRows()
	rows = append(rows, map[string]any{"name": "No ID Here"})
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{"services": rows}})

	stats, err := m.Build(ctx, "services")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 3 {
		t.Errorf("TotalDocuments = %d, want 3", stats.TotalDocuments)
	}
	if stats.SkippedRows != 1 {
		t.Errorf("SkippedRows = %d, want 1", stats.SkippedRows)
	}
}

func TestQueryStemmedMatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	// "plumb" matches both "Plumber" and "Plumbing" through the stemmer.
	results, err := m.Query(ctx, "services", "plumb", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	got := map[string]bool{}
	for _, r := range results {
		got[r.DocID] = true
		if r.Score <= 0 || r.Score > 1 {
			t.Errorf("doc %s score %v out of (0,1]", r.DocID, r.Score)
		}
		if r.Data["_score"] != r.Score {
			t.Errorf("doc %s payload _score = %v, want %v", r.DocID, r.Data["_score"], r.Score)
		}
	}
	if !got["1"] || !got["2"] {
		t.Errorf("results = %v, want docs 1 and 2", got)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by descending score")
		}
	}
}

func TestQueryHighlights(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	results, err := m.Query(ctx, "services", "plumber", QueryOptions{Highlight: true})
	if err != nil {
		t.Fatal(err)
	}
	var emergency *Result
	for i := range results {
		if results[i].DocID == "1" {
			emergency = &results[i]
		}
	}
	if emergency == nil {
		t.Fatal("doc 1 not in results")
	}
	want := "Emergency <em>Plumber</em>"
	if got := emergency.Highlights["name"]; got != want {
		t.Errorf("highlight = %q, want %q", got, want)
	}
	if _, ok := emergency.Data["_highlights"]; !ok {
		t.Errorf("payload missing _highlights")
	}
}

func TestQuerySnippet(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("filler words before the match ", 10) +
		"certified plumber on call " + strings.Repeat("and filler words after ", 10)
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": {
			{"id": 1, "name": "Plumber", "description": long},
		},
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	results, err := m.Query(ctx, "services", "plumber", QueryOptions{
		Highlight:     true,
		SnippetLength: 80,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	snippet := results[0].Highlights["description"]
	if !strings.Contains(snippet, "<em>plumber</em>") {
		t.Errorf("snippet %q does not highlight match", snippet)
	}
	if len(snippet) >= len(long) {
		t.Errorf("snippet was not truncated (%d bytes)", len(snippet))
	}
}

func TestQueryEmptyText(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", "   ", "? !"} {
		results, err := m.Query(ctx, "services", text, QueryOptions{})
		if err != nil {
			t.Errorf("Query(%q) err = %v", text, err)
		}
		if len(results) != 0 {
			t.Errorf("Query(%q) = %d results, want 0", text, len(results))
		}
	}
}

func TestQueryBeforeBuild(t *testing.T) {
	m, _ := newTestManager(t, &fakeRows{})
	_, err := m.Query(context.Background(), "services", "plumb", QueryOptions{})
	if !errors.Is(err, apperrors.ErrIndexNotFound) {
		t.Errorf("Query before build err = %v, want ErrIndexNotFound", err)
	}
}

func TestQueryFieldFilter(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": {
			{"id": 1, "name": "Plumber", "description": "general contracting"},
			{"id": 2, "name": "Handyman", "description": "plumber on staff"},
		},
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	results, err := m.Query(ctx, "services", "plumber", QueryOptions{Fields: []string{"name"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != "1" {
		t.Errorf("field-filtered results = %+v, want only doc 1", results)
	}
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	rows := make([]map[string]any, 0, 10)
	for i := 1; i <= 10; i++ {
		rows = append(rows, map[string]any{"id": i, "name": "Plumber", "description": "plumbing"})
	}
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{"services": rows}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	page1, err := m.Query(ctx, "services", "plumber", QueryOptions{Limit: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 4 {
		t.Errorf("page 1 size = %d, want 4", len(page1))
	}
	page3, err := m.Query(ctx, "services", "plumber", QueryOptions{Limit: 4, Offset: 8})
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 2 {
		t.Errorf("page 3 size = %d, want 2", len(page3))
	}
	past, err := m.Query(ctx, "services", "plumber", QueryOptions{Limit: 4, Offset: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Errorf("past-the-end page size = %d, want 0", len(past))
	}
}

func TestQueryMinScore(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	results, err := m.Query(ctx, "services", "plumb", QueryOptions{MinScore: 0.999})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results above minScore 0.999, want 0", len(results))
	}
}

func TestRebuildSwapsGenerations(t *testing.T) {
	ctx := context.Background()
	src := &fakeRows{rows: map[string][]map[string]any{"services": serviceRows()}}
	m, store := newTestManager(t, src)
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	src.rows["services"] = []map[string]any{
		{"id": 9, "name": "Roofer", "description": "shingles and gutters"},
	}
	stats, err := m.Rebuild(ctx, "services")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 1 {
		t.Errorf("TotalDocuments after rebuild = %d, want 1", stats.TotalDocuments)
	}

	results, err := m.Query(ctx, "services", "roofer", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != "9" {
		t.Errorf("post-rebuild query = %+v, want doc 9", results)
	}
	stale, err := m.Query(ctx, "services", "plumb", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("old documents still match after rebuild: %+v", stale)
	}

	oldKeys, err := store.Keys(ctx, "idx:services:g1:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(oldKeys) != 0 {
		t.Errorf("previous generation keys remain: %v", oldKeys)
	}
}

func TestRebuildFailureKeepsActiveIndex(t *testing.T) {
	ctx := context.Background()
	src := &fakeRows{rows: map[string][]map[string]any{"services": serviceRows()}}
	m, _ := newTestManager(t, src)
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	src.err = errors.New("connection refused")
	if _, err := m.Rebuild(ctx, "services"); err == nil {
		t.Fatal("rebuild should fail when the row source fails")
	}
	src.err = nil

	results, err := m.Query(ctx, "services", "plumb", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("active index damaged by failed rebuild: %d results, want 2", len(results))
	}
}

func TestClearIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	if err := m.Clear(ctx, "services"); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(ctx, "services"); err != nil {
		t.Errorf("second Clear err = %v, want nil", err)
	}
	if _, err := m.Query(ctx, "services", "plumb", QueryOptions{}); !errors.Is(err, apperrors.ErrIndexNotFound) {
		t.Errorf("Query after Clear err = %v, want ErrIndexNotFound", err)
	}
}

func TestQueryBM25(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeRows{rows: map[string][]map[string]any{
		"services": serviceRows(),
	}})
	if _, err := m.Build(ctx, "services"); err != nil {
		t.Fatal(err)
	}

	results, err := m.Query(ctx, "services", "plumb", QueryOptions{UseBM25: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("BM25 query results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("BM25 score %v out of [0,1]", r.Score)
		}
	}
}
