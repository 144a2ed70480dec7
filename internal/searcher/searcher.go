// Package searcher queries an index built by the crawler.
//
// An index is opened from its build directory or from an archived artifact,
// which is unpacked into a temporary directory for the lifetime of the
// Searcher.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/fabindex/internal/engine"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/telemetry"
)

// DefaultLimit is the number of hits returned when a query sets no limit.
const DefaultLimit = 10

// Query is a search over an index.
type Query struct {
	// Text is matched against Fields. Without Fields it is parsed as a
	// query string ("title:pilot +year:1999") over all fields.
	Text string
	// Fields restricts the search to these fields.
	Fields []string
	// Limit caps the number of hits. Zero means DefaultLimit.
	Limit int
}

// Hit is one matching document.
type Hit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Results is the outcome of a search.
type Results struct {
	Total uint64        `json:"total"`
	Hits  []Hit         `json:"hits"`
	Took  time.Duration `json:"took"`
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueryMetrics records every query.
func WithQueryMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Searcher) {
		s.metrics = m
	}
}

// Searcher runs queries against one opened index.
type Searcher struct {
	index   bleve.Index
	fields  []string
	known   map[string]struct{}
	tmpDir  string
	logger  *slog.Logger
	metrics *telemetry.QueryMetrics
}

// Open opens the index at path, which is either an index directory or an
// archived artifact (*.tar.gz).
func Open(ctx context.Context, path string, opts ...Option) (*Searcher, error) {
	s := &Searcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fierrors.New(fierrors.ErrCodeObjectNotFound, "index not found", err).
			WithDetail("path", path)
	}

	dir := path
	if !info.IsDir() {
		tmp, err := os.MkdirTemp("", "fabindex-search-*")
		if err != nil {
			return nil, fierrors.New(fierrors.ErrCodeSearchFailed, "cannot create scratch directory", err)
		}
		if err := engine.ExtractArchive(ctx, path, tmp); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, err
		}
		s.tmpDir = tmp
		dir = tmp
		s.logger.Debug("artifact_extracted", slog.String("artifact", path), slog.String("dir", tmp))
	}

	idx, err := bleve.Open(dir)
	if err != nil {
		s.cleanup()
		return nil, fierrors.New(fierrors.ErrCodeSearchFailed, "cannot open index", err).
			WithDetail("path", path)
	}
	s.index = idx
	s.fields = schemaFields(idx.Mapping())
	s.known = make(map[string]struct{}, len(s.fields))
	for _, f := range s.fields {
		s.known[f] = struct{}{}
	}
	return s, nil
}

// schemaFields lists the fields of a static document mapping.
func schemaFields(m mapping.IndexMapping) []string {
	impl, ok := m.(*mapping.IndexMappingImpl)
	if !ok || impl.DefaultMapping == nil {
		return nil
	}
	fields := make([]string, 0, len(impl.DefaultMapping.Properties))
	for name := range impl.DefaultMapping.Properties {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// Fields returns the indexed field names, sorted.
func (s *Searcher) Fields() []string {
	return append([]string(nil), s.fields...)
}

// DocCount returns the number of documents in the index.
func (s *Searcher) DocCount() (uint64, error) {
	return s.index.DocCount()
}

// Search runs q. An empty query text returns no hits.
func (s *Searcher) Search(ctx context.Context, q Query) (*Results, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return &Results{Hits: []Hit{}}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	bq, qtype, err := s.buildQuery(text, q.Fields)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(bq, limit, 0, false)
	req.Fields = []string{"*"}

	start := time.Now()
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fierrors.New(fierrors.ErrCodeSearchFailed, "search failed", err)
	}

	out := &Results{Total: res.Total, Took: res.Took, Hits: make([]Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Fields: h.Fields})
	}

	if s.metrics != nil {
		s.metrics.Record(telemetry.QueryEvent{
			Query:       text,
			QueryType:   qtype,
			ResultCount: len(out.Hits),
			Latency:     time.Since(start),
			Timestamp:   start,
		})
	}
	s.logger.Debug("search_completed",
		slog.String("query", text),
		slog.Uint64("total", res.Total),
		slog.Duration("took", res.Took))
	return out, nil
}

func (s *Searcher) buildQuery(text string, fields []string) (query.Query, telemetry.QueryType, error) {
	if len(fields) == 0 {
		qs := bleve.NewQueryStringQuery(text)
		if _, err := qs.Parse(); err != nil {
			return nil, "", fierrors.New(fierrors.ErrCodeInvalidQuery,
				fmt.Sprintf("invalid query %q", text), err).
				WithSuggestion("quote terms containing ':', '+', '-' or parentheses")
		}
		return qs, telemetry.QueryTypeSyntax, nil
	}

	matches := make([]query.Query, 0, len(fields))
	for _, f := range fields {
		if _, ok := s.known[f]; !ok {
			return nil, "", fierrors.New(fierrors.ErrCodeInvalidQuery,
				fmt.Sprintf("unknown field %q", f), nil).
				WithDetail("field", f).
				WithSuggestion("indexed fields: " + strings.Join(s.fields, ", "))
		}
		m := bleve.NewMatchQuery(text)
		m.SetField(f)
		matches = append(matches, m)
	}
	if len(matches) == 1 {
		return matches[0], telemetry.QueryTypeFields, nil
	}
	return bleve.NewDisjunctionQuery(matches...), telemetry.QueryTypeFields, nil
}

// Close closes the index and removes any unpacked artifact.
func (s *Searcher) Close() error {
	var err error
	if s.index != nil {
		err = s.index.Close()
		s.index = nil
	}
	s.cleanup()
	return err
}

func (s *Searcher) cleanup() {
	if s.tmpDir != "" {
		_ = os.RemoveAll(s.tmpDir)
		s.tmpDir = ""
	}
}
