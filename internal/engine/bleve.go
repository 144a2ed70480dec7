package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

// indexMetaFile marks a directory as a bleve index.
const indexMetaFile = "index_meta.json"

// BleveEngine builds bleve indexes.
type BleveEngine struct {
	logger *slog.Logger
}

var _ Engine = (*BleveEngine)(nil)

// NewBleveEngine creates an engine. A nil logger uses slog.Default().
func NewBleveEngine(logger *slog.Logger) *BleveEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &BleveEngine{logger: logger}
}

// NewSchemaBuilder implements Engine.
func (e *BleveEngine) NewSchemaBuilder(directory string) (SchemaBuilder, error) {
	im := bleve.NewIndexMapping()
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false

	doc := bleve.NewDocumentStaticMapping()
	im.DefaultMapping = doc

	return &bleveSchemaBuilder{
		dir:     directory,
		mapping: im,
		doc:     doc,
		fields:  make(map[string]FieldID),
		logger:  e.logger,
	}, nil
}

type bleveSchemaBuilder struct {
	dir     string
	mapping *mapping.IndexMappingImpl
	doc     *mapping.DocumentMapping
	fields  map[string]FieldID
	order   []string
	built   bool
	logger  *slog.Logger
}

// AddTextField implements SchemaBuilder.
func (b *bleveSchemaBuilder) AddTextField(name string, opts FieldOptions) (FieldID, error) {
	if b.built {
		return 0, fierrors.New(fierrors.ErrCodeIndexFailed, "schema already built", nil)
	}
	if name == "" || name[0] == '_' {
		return 0, fierrors.New(fierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid field name %q", name), nil).WithDetail("field", name)
	}
	if _, dup := b.fields[name]; dup {
		return 0, fierrors.New(fierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("field %q already exists", name), nil).WithDetail("field", name)
	}
	if opts.Kind != KindText && opts.Kind != KindString {
		return 0, fierrors.UnsupportedFieldType(name, opts.Kind)
	}
	if b.mapping.AnalyzerNamed(opts.Analyzer) == nil {
		return 0, fierrors.New(fierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("field %q uses unknown analyzer %q", name, opts.Analyzer), nil).
			WithDetail("field", name).
			WithDetail("analyzer", opts.Analyzer)
	}

	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = opts.Analyzer
	fm.Store = opts.Stored
	fm.Index = opts.Indexed
	fm.IncludeTermVectors = opts.TermVectors
	fm.IncludeInAll = opts.Indexed
	b.doc.AddFieldMappingsAt(name, fm)

	id := FieldID(len(b.order))
	b.fields[name] = id
	b.order = append(b.order, name)
	return id, nil
}

// Build implements SchemaBuilder.
func (b *bleveSchemaBuilder) Build() (Index, error) {
	if b.built {
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "schema already built", nil)
	}
	b.built = true

	if err := b.mapping.Validate(); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid, "invalid index schema", err)
	}

	if b.dir == "" {
		idx, err := bleve.NewMemOnly(b.mapping)
		if err != nil {
			return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "failed to create index", err)
		}
		return newBleveIndex(idx, "", nil, b.order, b.logger), nil
	}

	lock := NewDirLock(b.dir)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "failed to lock index directory", err)
	}
	if !acquired {
		return nil, fierrors.New(fierrors.ErrCodeIndexLocked,
			"index directory is in use by another crawl", nil).WithDetail("dir", b.dir)
	}

	if err := b.clearDir(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(b.dir), 0755); err != nil {
		_ = lock.Unlock()
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "failed to create index parent directory", err)
	}

	idx, err := bleve.New(b.dir, b.mapping)
	if err != nil {
		_ = lock.Unlock()
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "failed to create index", err).
			WithDetail("dir", b.dir)
	}
	b.logger.Debug("index_created",
		slog.String("dir", b.dir),
		slog.Int("fields", len(b.order)))
	return newBleveIndex(idx, b.dir, lock, b.order, b.logger), nil
}

// clearDir removes a previous build from the index directory. Anything that
// does not look like an index is left alone.
func (b *bleveSchemaBuilder) clearDir() error {
	entries, err := os.ReadDir(b.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fierrors.New(fierrors.ErrCodeIndexFailed, "cannot read index directory", err)
	}
	if len(entries) > 0 {
		if _, err := os.Stat(filepath.Join(b.dir, indexMetaFile)); err != nil {
			return fierrors.New(fierrors.ErrCodeConfigInvalid,
				"index directory is not empty and holds no index", nil).
				WithDetail("dir", b.dir).
				WithSuggestion("choose an empty directory for --index-dir")
		}
		b.logger.Info("index_replaced", slog.String("dir", b.dir))
	}
	if err := os.RemoveAll(b.dir); err != nil {
		return fierrors.New(fierrors.ErrCodeIndexFailed, "cannot clear index directory", err)
	}
	return nil
}

// bleveIndex is a built index. It allows one writer session at a time.
type bleveIndex struct {
	mu      sync.Mutex
	index   bleve.Index
	dir     string
	lock    *DirLock
	fields  map[string]struct{}
	order   []string
	writer  *bleveWriter
	nextDoc uint64
	closed  bool
	logger  *slog.Logger
}

var _ Index = (*bleveIndex)(nil)

func newBleveIndex(idx bleve.Index, dir string, lock *DirLock, order []string, logger *slog.Logger) *bleveIndex {
	fields := make(map[string]struct{}, len(order))
	for _, f := range order {
		fields[f] = struct{}{}
	}
	return &bleveIndex{
		index:  idx,
		dir:    dir,
		lock:   lock,
		fields: fields,
		order:  append([]string(nil), order...),
		logger: logger,
	}
}

// Fields implements Index.
func (x *bleveIndex) Fields() []string {
	return append([]string(nil), x.order...)
}

// NewWriter implements Index.
func (x *bleveIndex) NewWriter(ctx context.Context) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "index is closed", nil)
	}
	if x.writer != nil {
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "a writer session is already open", nil)
	}
	x.writer = &bleveWriter{
		index: x,
		docs:  make(map[DocumentID]map[string][]string),
	}
	return x.writer, nil
}

// DocCount implements Index.
func (x *bleveIndex) DocCount() (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return 0, fierrors.New(fierrors.ErrCodeIndexFailed, "index is closed", nil)
	}
	return x.index.DocCount()
}

// Search runs a bleve request against the open index. Used by tests and
// the searcher over a freshly built in-memory index.
func (x *bleveIndex) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, fierrors.New(fierrors.ErrCodeIndexFailed, "index is closed", nil)
	}
	return x.index.SearchInContext(ctx, req)
}

// Close implements Index.
func (x *bleveIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closeLocked()
}

func (x *bleveIndex) closeLocked() error {
	if x.closed {
		return nil
	}
	x.closed = true
	// An open writer notices the closed index on its next call.
	x.writer = nil
	err := x.index.Close()
	if x.lock != nil {
		if uerr := x.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

func (x *bleveIndex) checkOpen() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fierrors.New(fierrors.ErrCodeIndexFailed, "index is closed", nil)
	}
	return nil
}

func (x *bleveIndex) allocDoc() DocumentID {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextDoc++
	return DocumentID(x.nextDoc)
}

func (x *bleveIndex) releaseWriter(w *bleveWriter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.writer == w {
		x.writer = nil
	}
}

// bleveWriter buffers documents and indexes them in one batch on Commit.
type bleveWriter struct {
	mu    sync.Mutex
	index *bleveIndex
	docs  map[DocumentID]map[string][]string
	order []DocumentID
	done  bool
}

var _ Writer = (*bleveWriter)(nil)

// CreateDocument implements Writer.
func (w *bleveWriter) CreateDocument(ctx context.Context) (DocumentID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return 0, errWriterDone()
	}
	if err := w.index.checkOpen(); err != nil {
		return 0, err
	}
	id := w.index.allocDoc()

	w.docs[id] = make(map[string][]string)
	w.order = append(w.order, id)
	return id, nil
}

// AddText implements Writer. Repeated values for a field are kept in order.
func (w *bleveWriter) AddText(ctx context.Context, doc DocumentID, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return errWriterDone()
	}
	if err := w.index.checkOpen(); err != nil {
		return err
	}
	fields, ok := w.docs[doc]
	if !ok {
		return fierrors.New(fierrors.ErrCodeIndexFailed,
			fmt.Sprintf("unknown document %d", doc), nil)
	}
	if _, ok := w.index.fields[field]; !ok {
		return fierrors.New(fierrors.ErrCodeIndexFailed,
			fmt.Sprintf("field %q is not in the schema", field), nil).WithDetail("field", field)
	}
	fields[field] = append(fields[field], value)
	return nil
}

// Commit implements Writer.
func (w *bleveWriter) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return errWriterDone()
	}
	if err := w.index.checkOpen(); err != nil {
		return err
	}

	batch := w.index.index.NewBatch()
	for _, id := range w.order {
		doc := make(map[string]any, len(w.docs[id]))
		for f, vs := range w.docs[id] {
			if len(vs) == 1 {
				doc[f] = vs[0]
			} else {
				doc[f] = vs
			}
		}
		if err := batch.Index(docKey(id), doc); err != nil {
			return fierrors.New(fierrors.ErrCodeIndexFailed,
				fmt.Sprintf("failed to index document %d", id), err)
		}
	}
	if batch.Size() == 0 {
		w.finish()
		return nil
	}
	if err := w.index.index.Batch(batch); err != nil {
		return fierrors.New(fierrors.ErrCodeIndexFailed, "failed to commit batch", err)
	}

	w.index.logger.Debug("index_committed", slog.Int("documents", len(w.order)))
	w.finish()
	return nil
}

// Rollback implements Writer. It is a no-op after Commit.
func (w *bleveWriter) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.finish()
	return nil
}

// finish must be called with w.mu held.
func (w *bleveWriter) finish() {
	w.done = true
	w.docs = nil
	w.order = nil
	w.index.releaseWriter(w)
}

func errWriterDone() *fierrors.FabError {
	return fierrors.New(fierrors.ErrCodeIndexFailed, "writer session is finished", nil)
}

// docKey formats document ids so that lexical order matches creation order.
func docKey(id DocumentID) string {
	return fmt.Sprintf("%012d", uint64(id))
}
