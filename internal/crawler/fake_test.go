package crawler

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aman-CERP/fabindex/internal/contentstore"
	"github.com/Aman-CERP/fabindex/internal/engine"
)

// fieldValue is one AddText call.
type fieldValue struct {
	Field string
	Value string
}

// fakeEngine records everything the crawler does. One value serves as
// Engine, SchemaBuilder, Index and Writer.
type fakeEngine struct {
	mu sync.Mutex

	dir      string
	fields   []string
	opts     map[string]engine.FieldOptions
	docs     map[engine.DocumentID][]fieldValue
	order    []engine.DocumentID
	nextDoc  engine.DocumentID
	writers  int
	built    bool
	commits  int
	rollback int
	closed   bool
	archived bool

	// zeroDocID makes CreateDocument return an unusable id.
	zeroDocID bool
}

var (
	_ engine.Engine        = (*fakeEngine)(nil)
	_ engine.SchemaBuilder = (*fakeEngine)(nil)
	_ engine.Index         = (*fakeEngine)(nil)
	_ engine.Writer        = (*fakeEngine)(nil)
)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		opts: make(map[string]engine.FieldOptions),
		docs: make(map[engine.DocumentID][]fieldValue),
	}
}

func (e *fakeEngine) NewSchemaBuilder(dir string) (engine.SchemaBuilder, error) {
	e.dir = dir
	return e, nil
}

func (e *fakeEngine) AddTextField(name string, opts engine.FieldOptions) (engine.FieldID, error) {
	if _, dup := e.opts[name]; dup {
		return 0, fmt.Errorf("duplicate field %q", name)
	}
	e.opts[name] = opts
	e.fields = append(e.fields, name)
	return engine.FieldID(len(e.fields) - 1), nil
}

func (e *fakeEngine) Build() (engine.Index, error) {
	e.built = true
	return e, nil
}

func (e *fakeEngine) NewWriter(ctx context.Context) (engine.Writer, error) {
	e.writers++
	return e, nil
}

func (e *fakeEngine) Fields() []string { return e.fields }

func (e *fakeEngine) DocCount() (uint64, error) {
	if e.commits == 0 {
		return 0, nil
	}
	return uint64(len(e.order)), nil
}

func (e *fakeEngine) Archive(ctx context.Context, destDir string) (*engine.Artifact, error) {
	e.archived = true
	return &engine.Artifact{Digest: "sha256:fake", Path: destDir + "/fake.tar.gz", Documents: uint64(len(e.order))}, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

func (e *fakeEngine) CreateDocument(ctx context.Context) (engine.DocumentID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.zeroDocID {
		return 0, nil
	}
	e.nextDoc++
	e.order = append(e.order, e.nextDoc)
	e.docs[e.nextDoc] = nil
	return e.nextDoc, nil
}

func (e *fakeEngine) AddText(ctx context.Context, doc engine.DocumentID, field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.docs[doc]; !ok {
		return fmt.Errorf("unknown document %d", doc)
	}
	e.docs[doc] = append(e.docs[doc], fieldValue{Field: field, Value: value})
	return nil
}

func (e *fakeEngine) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.commits++
	return nil
}

func (e *fakeEngine) Rollback() error {
	e.rollback++
	return nil
}

// documents returns the recorded documents in creation order.
func (e *fakeEngine) documents() [][]fieldValue {
	out := make([][]fieldValue, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.docs[id])
	}
	return out
}

// recordingPrefetcher records prefetch batches and forwards to the cache.
type recordingPrefetcher struct {
	next    contentstore.Prefetcher
	batches [][]contentstore.ObjectRef
}

func (p *recordingPrefetcher) Prefetch(ctx context.Context, refs []contentstore.ObjectRef, workers int) error {
	p.batches = append(p.batches, append([]contentstore.ObjectRef(nil), refs...))
	return p.next.Prefetch(ctx, refs, workers)
}
