package crawler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Aman-CERP/fabindex/internal/contentstore"
	"github.com/Aman-CERP/fabindex/internal/engine"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/meta"
	"github.com/Aman-CERP/fabindex/internal/pathtrie"
)

// objectJob is one object to be crawled into its own document.
type objectJob struct {
	library string
	hash    string
	subpath string
	node    *pathtrie.Node
}

// frame is one metadata value waiting to be matched against a trie node.
type frame struct {
	value meta.Value
	node  *pathtrie.Node
	hash  string // object the value was read from
	path  string // metadata path of the value, for diagnostics
}

// visitKey identifies a link target walked from one trie node into one
// document. doc is zero for object jobs.
type visitKey struct {
	doc     engine.DocumentID
	library string
	hash    string
	path    string
	node    string
}

// crawlState is the per-crawl context. It lives for one Crawl call.
type crawlState struct {
	writer  engine.Writer
	queue   []objectJob
	visited map[visitKey]struct{}
	res     *Result
}

func newCrawlState(w engine.Writer, res *Result) *crawlState {
	return &crawlState{
		writer:  w,
		visited: make(map[visitKey]struct{}),
		res:     res,
	}
}

// enqueue adds job unless the same object was already queued for the same
// trie node.
func (st *crawlState) enqueue(job objectJob) bool {
	if !st.visit(visitKey{library: job.library, hash: job.hash, path: job.subpath, node: job.node.Path()}) {
		return false
	}
	st.queue = append(st.queue, job)
	return true
}

// visit marks k and reports whether it was new.
func (st *crawlState) visit(k visitKey) bool {
	if _, seen := st.visited[k]; seen {
		return false
	}
	st.visited[k] = struct{}{}
	return true
}

// crawlObject fetches the metadata of job and walks it into a new document.
func (c *Crawler) crawlObject(ctx context.Context, st *crawlState, job objectJob) error {
	v, err := c.store.GetMetadata(ctx, job.library, job.hash, job.subpath)
	if err != nil {
		return err
	}
	st.res.Objects++
	c.metrics.ObjectFetched()

	doc, err := st.writer.CreateDocument(ctx)
	if err != nil {
		return err
	}
	if doc == 0 {
		return fierrors.New(fierrors.ErrCodeMissingDocumentID,
			"index engine returned no document id", nil).
			WithDetail("hash", job.hash)
	}
	st.res.Documents++
	c.metrics.DocumentCreated()

	c.logger.Debug("object_crawled",
		slog.String("hash", job.hash),
		slog.String("subpath", job.subpath),
		slog.String("node", job.node.Path()),
		slog.Uint64("doc", uint64(doc)))

	return c.crawlMeta(ctx, st, doc, frame{value: v, node: job.node, hash: job.hash, path: job.subpath}, job.library)
}

// crawlMeta walks one document's metadata with an explicit stack. Children
// are pushed in reverse key order so they are visited in key order.
func (c *Crawler) crawlMeta(ctx context.Context, st *crawlState, doc engine.DocumentID, start frame, library string) error {
	stack := []frame{start}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// A link target that is itself a link marker is followed in turn.
		if meta.IsLink(f.value) {
			next, err := c.followChain(ctx, st, doc, f, library)
			if err != nil {
				return err
			}
			if next != nil {
				stack = append(stack, *next)
			}
			continue
		}

		obj, ok := meta.AsObject(f.value)
		if !ok {
			continue
		}

		if err := c.extractFields(ctx, st, doc, f, obj); err != nil {
			return err
		}

		next, err := c.expand(ctx, st, doc, f, obj, library)
		if err != nil {
			return err
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return nil
}

// extractFields writes every field registered at f.node that has a value in obj.
func (c *Crawler) extractFields(ctx context.Context, st *crawlState, doc engine.DocumentID, f frame, obj map[string]any) error {
	for _, reg := range f.node.Fields() {
		var values []meta.Value
		if reg.Key == pathtrie.Wildcard {
			for _, k := range meta.SortedKeys(obj) {
				if !isTextValue(obj[k]) {
					c.logger.Debug("field_value_skipped",
						slog.String("field", reg.Field.Name),
						slog.String("path", joinPath(f.path, k)),
						slog.String("kind", meta.Kind(obj[k])))
					c.metrics.ValueSkipped(reg.Field.Name)
					continue
				}
				values = append(values, obj[k])
			}
		} else if v, ok := obj[reg.Key]; ok {
			values = append(values, v)
		}

		for _, v := range values {
			n, err := AddField(ctx, st.writer, doc, reg.Field, v)
			if err != nil {
				if fe, ok := fierrors.As(err); ok {
					fe.WithDetail("path", reg.Path).WithDetail("hash", f.hash)
				}
				return err
			}
			st.res.Fields += n
			for i := 0; i < n; i++ {
				c.metrics.FieldWritten(reg.Field.Name)
			}
		}
	}
	return nil
}

// candidate is a child value matched by a trie edge, before links are resolved.
type candidate struct {
	value meta.Value
	node  *pathtrie.Node
	path  string
	link  *meta.LinkRef
}

// expand returns the frames to visit below f, in trie key order.
func (c *Crawler) expand(ctx context.Context, st *crawlState, doc engine.DocumentID, f frame, obj map[string]any, library string) ([]frame, error) {
	var cands []candidate
	for _, ch := range f.node.Children() {
		if ch.Key == pathtrie.Wildcard {
			for _, k := range meta.SortedKeys(obj) {
				cands = append(cands, candidate{value: obj[k], node: ch.Node, path: joinPath(f.path, k)})
			}
			continue
		}
		if v, ok := obj[ch.Key]; ok {
			cands = append(cands, candidate{value: v, node: ch.Node, path: joinPath(f.path, ch.Key)})
		}
	}

	var prefetch []contentstore.ObjectRef
	kept := cands[:0]
	for _, cand := range cands {
		if !meta.IsLink(cand.value) {
			if _, ok := meta.AsObject(cand.value); !ok {
				if !cand.node.IsLeaf() || len(cand.node.Fields()) > 0 {
					c.logger.Debug("metadata_not_object",
						slog.String("path", cand.path),
						slog.String("kind", meta.Kind(cand.value)))
				}
				continue
			}
			kept = append(kept, cand)
			continue
		}

		ref, follow, err := c.planLink(st, doc, f, cand, library)
		if err != nil {
			return nil, err
		}
		if !follow {
			continue
		}
		cand.link = &ref
		kept = append(kept, cand)
		prefetch = append(prefetch, contentstore.ObjectRef{Library: library, Hash: ref.Hash, Subpath: ref.Path})
	}

	if c.prefetcher != nil && len(prefetch) > 1 {
		if err := c.prefetcher.Prefetch(ctx, prefetch, c.workers); err != nil {
			if isCanceled(err) {
				return nil, err
			}
			// The fetch below reports the failure with its link.
			c.logger.Debug("prefetch_failed", slog.String("error", err.Error()))
		}
	}

	next := make([]frame, 0, len(kept))
	for _, cand := range kept {
		if cand.link == nil {
			next = append(next, frame{value: cand.value, node: cand.node, hash: f.hash, path: cand.path})
			continue
		}
		v, err := c.fetchLink(ctx, st, library, *cand.link, cand.path)
		if err != nil {
			return nil, err
		}
		next = append(next, frame{value: v, node: cand.node, hash: cand.link.Hash, path: cand.link.Path})
	}
	return next, nil
}

// followChain resolves the link marker held by f. It returns nil when the
// link is not walked inline (queued, visited or not metadata).
func (c *Crawler) followChain(ctx context.Context, st *crawlState, doc engine.DocumentID, f frame, library string) (*frame, error) {
	cand := candidate{value: f.value, node: f.node, path: f.path}
	ref, follow, err := c.planLink(st, doc, f, cand, library)
	if err != nil || !follow {
		return nil, err
	}
	v, err := c.fetchLink(ctx, st, library, ref, f.path)
	if err != nil {
		return nil, err
	}
	return &frame{value: v, node: f.node, hash: ref.Hash, path: ref.Path}, nil
}

// fetchLink reads the target of ref, found at path.
func (c *Crawler) fetchLink(ctx context.Context, st *crawlState, library string, ref meta.LinkRef, path string) (meta.Value, error) {
	v, err := c.store.GetMetadata(ctx, library, ref.Hash, ref.Path)
	if err != nil {
		if isCanceled(err) {
			return nil, err
		}
		return nil, fierrors.LinkResolutionError(ref.Raw, err).WithDetail("path", path)
	}
	st.res.Objects++
	st.res.Links++
	c.metrics.ObjectFetched()
	c.metrics.LinkResolved()
	c.logger.Debug("link_resolved",
		slog.String("path", path),
		slog.String("target", ref.String()))
	return v, nil
}

// planLink parses the link in cand and decides whether it is walked inline.
// Links that become their own document are queued here.
func (c *Crawler) planLink(st *crawlState, doc engine.DocumentID, f frame, cand candidate, library string) (meta.LinkRef, bool, error) {
	raw, ok := meta.LinkTarget(cand.value)
	if !ok {
		return meta.LinkRef{}, false, fierrors.LinkResolutionError("", errors.New("link marker is not a string")).
			WithDetail("path", cand.path)
	}

	ref, err := meta.ParseLink(raw, f.hash)
	if errors.Is(err, meta.ErrNotMetadataLink) {
		c.logger.Warn("link_skipped",
			slog.String("path", cand.path),
			slog.String("link", raw),
			slog.String("reason", "not_metadata"))
		c.metrics.LinkSkipped("not_metadata")
		return ref, false, nil
	}
	if err != nil {
		return ref, false, fierrors.LinkResolutionError(raw, err).WithDetail("path", cand.path)
	}

	if c.linkMode == LinkDocument && ref.Hash != f.hash {
		job := objectJob{library: library, hash: ref.Hash, subpath: ref.Path, node: cand.node}
		if st.enqueue(job) {
			st.res.Links++
			c.metrics.LinkResolved()
			c.logger.Debug("link_queued",
				slog.String("path", cand.path),
				slog.String("target", ref.String()))
		} else {
			c.metrics.LinkSkipped("visited")
		}
		return ref, false, nil
	}

	if !st.visit(visitKey{doc: doc, library: library, hash: ref.Hash, path: ref.Path, node: cand.node.Path()}) {
		c.logger.Debug("link_skipped",
			slog.String("path", cand.path),
			slog.String("link", raw),
			slog.String("reason", "visited"))
		c.metrics.LinkSkipped("visited")
		return ref, false, nil
	}
	return ref, true, nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}
