package index

import (
	"context"
	"time"

	"github.com/rowsift/rowsift/internal/ranker"
)

// RowSource supplies table rows for a build. The production implementation
// is pkg/postgres.
type RowSource interface {
	FetchRows(ctx context.Context, table string, limit int) ([]map[string]any, error)
}

// Posting records one term's occurrences in one field of one document. The
// number of postings with distinct documents for a term is its document
// frequency.
type Posting struct {
	DocID         string `json:"doc_id"`
	Field         string `json:"field"`
	TermFrequency int    `json:"term_frequency"`
	Positions     []int  `json:"positions"`
}

// Stats describes the last build of a table's index.
type Stats struct {
	TotalDocuments   int       `json:"total_documents"`
	TotalTerms       int       `json:"total_terms"`
	TotalTokens      int       `json:"total_tokens"`
	SkippedRows      int       `json:"skipped_rows,omitempty"`
	LastBuildTime    time.Time `json:"last_build_time"`
	BuildDurationMs  int64     `json:"build_duration_ms"`
	MemoryUsageBytes int64     `json:"memory_usage_bytes"`
	Fields           []string  `json:"fields"`
}

// AvgDocLength returns the mean token count per document.
func (s Stats) AvgDocLength() float64 {
	if s.TotalDocuments == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.TotalDocuments)
}

// QueryOptions control matching, pagination, and presentation of a query.
type QueryOptions struct {
	// Fields restricts matching to these fields; empty means all configured
	// searchable fields.
	Fields []string
	// Limit and Offset paginate after ranking. Limit <= 0 uses DefaultLimit.
	Limit  int
	Offset int
	// MinScore drops results scoring below the threshold.
	MinScore float64
	// UseBM25 switches the term scorer from TF-IDF to BM25 for this query.
	UseBM25 bool
	// Highlight renders highlighted field values on each result.
	Highlight     bool
	HighlightOpts ranker.HighlightOptions
	// SnippetLength caps highlighted fields to a window of this many
	// characters around the first match; 0 highlights the full value.
	SnippetLength int
}

// DefaultLimit is the page size when QueryOptions.Limit is unset.
const DefaultLimit = 10

// Result is one ranked, optionally highlighted query hit.
type Result struct {
	DocID        string            `json:"doc_id"`
	Data         map[string]any    `json:"data"`
	Score        float64           `json:"score"`
	MatchedTerms []string          `json:"matched_terms"`
	Highlights   map[string]string `json:"highlights,omitempty"`
}
