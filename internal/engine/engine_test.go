package engine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

func textOpts(t *testing.T, kind string) FieldOptions {
	t.Helper()
	opts, err := ParseFieldOptions("f", kind, nil)
	require.NoError(t, err)
	return opts
}

func buildIndex(t *testing.T, dir string, fields ...string) *bleveIndex {
	t.Helper()
	b, err := NewBleveEngine(nil).NewSchemaBuilder(dir)
	require.NoError(t, err)
	for _, f := range fields {
		_, err := b.AddTextField(f, textOpts(t, KindText))
		require.NoError(t, err)
	}
	idx, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx.(*bleveIndex)
}

func allDocs(t *testing.T, idx *bleveIndex) map[string]map[string]any {
	t.Helper()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Fields = []string{"*"}
	req.Size = 100
	res, err := idx.Search(context.Background(), req)
	require.NoError(t, err)

	out := map[string]map[string]any{}
	for _, hit := range res.Hits {
		out[hit.ID] = hit.Fields
	}
	return out
}

func TestParseFieldOptions(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		raw     map[string]any
		want    FieldOptions
		errCode string
	}{
		{
			name: "text defaults",
			kind: "text",
			want: FieldOptions{Kind: "text", Analyzer: "standard", Stored: true, Indexed: true, TermVectors: true},
		},
		{
			name: "string defaults",
			kind: "string",
			want: FieldOptions{Kind: "string", Analyzer: "keyword", Stored: true, Indexed: true},
		},
		{
			name: "overrides",
			kind: "text",
			raw:  map[string]any{"stored": false, "analyzer": "en", "term_vectors": false, "tokenizer": "ignored"},
			want: FieldOptions{Kind: "text", Analyzer: "en", Stored: false, Indexed: true},
		},
		{
			name: "include_term_vectors",
			kind: "text",
			raw:  map[string]any{"include_term_vectors": false},
			want: FieldOptions{Kind: "text", Analyzer: "standard", Stored: true, Indexed: true},
		},
		{
			name:    "include_term_vectors not bool",
			kind:    "text",
			raw:     map[string]any{"include_term_vectors": "no"},
			errCode: fierrors.ErrCodeConfigInvalid,
		},
		{
			name:    "unsupported type",
			kind:    "integer",
			errCode: fierrors.ErrCodeUnsupportedFieldType,
		},
		{
			name:    "stored not bool",
			kind:    "text",
			raw:     map[string]any{"stored": "yes"},
			errCode: fierrors.ErrCodeConfigInvalid,
		},
		{
			name:    "indexed not bool",
			kind:    "text",
			raw:     map[string]any{"indexed": 1},
			errCode: fierrors.ErrCodeConfigInvalid,
		},
		{
			name:    "empty analyzer",
			kind:    "string",
			raw:     map[string]any{"analyzer": ""},
			errCode: fierrors.ErrCodeConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFieldOptions("f", tt.kind, tt.raw)
			if tt.errCode != "" {
				assert.True(t, fierrors.HasCode(err, tt.errCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaBuilder_RejectsBadFields(t *testing.T) {
	b, err := NewBleveEngine(nil).NewSchemaBuilder("")
	require.NoError(t, err)

	id, err := b.AddTextField("title", textOpts(t, KindText))
	require.NoError(t, err)
	assert.Equal(t, FieldID(0), id)

	id, err = b.AddTextField("name", textOpts(t, KindString))
	require.NoError(t, err)
	assert.Equal(t, FieldID(1), id)

	// Duplicate
	_, err = b.AddTextField("title", textOpts(t, KindText))
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigInvalid))

	// Reserved and empty names
	_, err = b.AddTextField("_id", textOpts(t, KindText))
	assert.Error(t, err)
	_, err = b.AddTextField("", textOpts(t, KindText))
	assert.Error(t, err)

	// Unknown analyzer
	opts := textOpts(t, KindText)
	opts.Analyzer = "no-such-analyzer"
	_, err = b.AddTextField("body", opts)
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigInvalid))

	// Unsupported kind
	_, err = b.AddTextField("age", FieldOptions{Kind: "integer", Analyzer: "standard"})
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeUnsupportedFieldType))

	idx, err := b.Build()
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, []string{"title", "name"}, idx.Fields())

	_, err = b.Build()
	assert.Error(t, err)
	_, err = b.AddTextField("late", textOpts(t, KindText))
	assert.Error(t, err)
}

func TestWriter_CommitIndexesDocuments(t *testing.T) {
	// Given: an in-memory index with two fields
	idx := buildIndex(t, "", "title", "desc")
	ctx := context.Background()
	w, err := idx.NewWriter(ctx)
	require.NoError(t, err)

	// When: writing two documents and committing
	d1, err := w.CreateDocument(ctx)
	require.NoError(t, err)
	require.NoError(t, w.AddText(ctx, d1, "title", "A"))
	require.NoError(t, w.AddText(ctx, d1, "desc", "B"))
	d2, err := w.CreateDocument(ctx)
	require.NoError(t, err)
	require.NoError(t, w.AddText(ctx, d2, "title", "first"))
	require.NoError(t, w.AddText(ctx, d2, "title", "second"))
	require.NoError(t, w.Commit(ctx))

	// Then: both documents are searchable with their stored values
	assert.NotEqual(t, DocumentID(0), d1)
	assert.Greater(t, d2, d1)
	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	docs := allDocs(t, idx)
	assert.Equal(t, "A", docs[docKey(d1)]["title"])
	assert.Equal(t, "B", docs[docKey(d1)]["desc"])
	assert.Equal(t, []any{"first", "second"}, docs[docKey(d2)]["title"])
}

func TestWriter_NothingVisibleBeforeCommit(t *testing.T) {
	idx := buildIndex(t, "", "title")
	ctx := context.Background()
	w, err := idx.NewWriter(ctx)
	require.NoError(t, err)

	d, err := w.CreateDocument(ctx)
	require.NoError(t, err)
	require.NoError(t, w.AddText(ctx, d, "title", "pending"))

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// Rollback discards and frees the session
	require.NoError(t, w.Rollback())
	require.NoError(t, w.Rollback())
	n, err = idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	assert.Error(t, w.AddText(ctx, d, "title", "late"))
	_, err = w.CreateDocument(ctx)
	assert.Error(t, err)
	assert.Error(t, w.Commit(ctx))

	w2, err := idx.NewWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w2.Commit(ctx))
}

func TestWriter_SingleSession(t *testing.T) {
	idx := buildIndex(t, "", "title")
	ctx := context.Background()

	w, err := idx.NewWriter(ctx)
	require.NoError(t, err)
	_, err = idx.NewWriter(ctx)
	assert.Error(t, err)

	require.NoError(t, w.Commit(ctx))
	assert.NoError(t, w.Rollback(), "rollback after commit is a no-op")
}

func TestWriter_FinishedSessionErrorsAreIndependent(t *testing.T) {
	// Given: a committed writer
	idx := buildIndex(t, "", "title")
	ctx := context.Background()
	w, err := idx.NewWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))

	// When: a caller annotates the error of one late call
	_, err = w.CreateDocument(ctx)
	first, ok := fierrors.As(err)
	require.True(t, ok)
	first.WithDetail("path", "title")

	// Then: the next late call reports a clean error
	second, ok := fierrors.As(w.AddText(ctx, 1, "title", "x"))
	require.True(t, ok)
	assert.True(t, fierrors.HasCode(second, fierrors.ErrCodeIndexFailed))
	assert.NotSame(t, first, second)
	assert.Empty(t, second.Details)
}

func TestWriter_RejectsUnknownFieldAndDocument(t *testing.T) {
	idx := buildIndex(t, "", "title")
	ctx := context.Background()
	w, err := idx.NewWriter(ctx)
	require.NoError(t, err)
	defer w.Rollback()

	d, err := w.CreateDocument(ctx)
	require.NoError(t, err)

	err = w.AddText(ctx, d, "nope", "x")
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeIndexFailed))
	err = w.AddText(ctx, d+100, "title", "x")
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeIndexFailed))
}

func TestWriter_CancelledContext(t *testing.T) {
	idx := buildIndex(t, "", "title")
	w, err := idx.NewWriter(context.Background())
	require.NoError(t, err)
	defer w.Rollback()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.CreateDocument(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, w.Commit(ctx), context.Canceled)
}

func TestWriter_FailsAfterIndexClosed(t *testing.T) {
	idx := buildIndex(t, "", "title")
	w, err := idx.NewWriter(context.Background())
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = w.CreateDocument(context.Background())
	assert.Error(t, err)
	_, err = idx.DocCount()
	assert.Error(t, err)
}

func TestBuild_OnDiskReplacesPreviousIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	first := buildIndex(t, dir, "title")
	w, err := first.NewWriter(ctx)
	require.NoError(t, err)
	d, _ := w.CreateDocument(ctx)
	require.NoError(t, w.AddText(ctx, d, "title", "old"))
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, first.Close())

	// When: building again into the same directory
	second := buildIndex(t, dir, "title")

	// Then: the old documents are gone
	n, err := second.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestBuild_RefusesForeignDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0o644))

	b, err := NewBleveEngine(nil).NewSchemaBuilder(dir)
	require.NoError(t, err)
	_, err = b.AddTextField("title", textOpts(t, KindText))
	require.NoError(t, err)
	_, err = b.Build()

	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigInvalid))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestBuild_LockedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	held := NewDirLock(dir)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	b, err := NewBleveEngine(nil).NewSchemaBuilder(dir)
	require.NoError(t, err)
	_, err = b.Build()

	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeIndexLocked))
}

func TestArchive_ProducesContentAddressedTarball(t *testing.T) {
	// Given: a committed on-disk index
	root := t.TempDir()
	idx := buildIndex(t, filepath.Join(root, "index"), "title")
	ctx := context.Background()
	w, err := idx.NewWriter(ctx)
	require.NoError(t, err)
	d, _ := w.CreateDocument(ctx)
	require.NoError(t, w.AddText(ctx, d, "title", "A"))
	require.NoError(t, w.Commit(ctx))

	// When: archiving
	art, err := idx.Archive(ctx, filepath.Join(root, "artifacts"))
	require.NoError(t, err)

	// Then: the file is named by its digest and holds the index metadata
	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), art.Digest)
	assert.Equal(t, hex.EncodeToString(sum[:])+".tar.gz", filepath.Base(art.Path))
	assert.Equal(t, int64(len(data)), art.Size)
	assert.Equal(t, uint64(1), art.Documents)
	assert.Contains(t, tarNames(t, art.Path), indexMetaFile)

	// And: the index is closed
	_, err = idx.NewWriter(ctx)
	assert.Error(t, err)
	_, err = idx.Archive(ctx, root)
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeArchiveFailed))
}

func TestArchive_Errors(t *testing.T) {
	ctx := context.Background()

	mem := buildIndex(t, "", "title")
	_, err := mem.Archive(ctx, t.TempDir())
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeArchiveFailed))

	disk := buildIndex(t, filepath.Join(t.TempDir(), "index"), "title")
	w, err := disk.NewWriter(ctx)
	require.NoError(t, err)
	_, err = disk.Archive(ctx, t.TempDir())
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeArchiveFailed))
	require.NoError(t, w.Rollback())
}

func TestArchiveDir_Deterministic(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.json"), []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "store", "seg.zap"), []byte("segment"), 0o644))

	first, err := ArchiveDir(context.Background(), src, t.TempDir())
	require.NoError(t, err)
	second, err := ArchiveDir(context.Background(), src, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, []string{"a.json", "store/", "store/seg.zap"}, tarNames(t, first.Path))
}

func TestDirLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	l := NewDirLock(dir)
	assert.Equal(t, dir+".lock", l.Path())

	assert.NoError(t, l.Unlock(), "unlock before lock is a no-op")
	ok, err := l.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)

	other := NewDirLock(dir)
	ok, err = other.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock())
	ok, err = other.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Unlock())
}

func tarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, strings.TrimPrefix(hdr.Name, "./"))
	}
	sort.Strings(names)
	return names
}

func TestExtractArchive_RoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index_meta.json"), []byte(`{"storage":"scorch"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "store", "seg.zap"), []byte("segment"), 0o644))

	art, err := ArchiveDir(context.Background(), src, t.TempDir())
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, ExtractArchive(context.Background(), art.Path, dest))

	data, err := os.ReadFile(filepath.Join(dest, "store", "seg.zap"))
	require.NoError(t, err)
	assert.Equal(t, "segment", string(data))
	assert.FileExists(t, filepath.Join(dest, "index_meta.json"))
}

func TestExtractArchive_RejectsEscapingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	body := []byte("x")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	dest := t.TempDir()
	err = ExtractArchive(context.Background(), path, dest)

	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeArchiveFailed))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))
}

func TestExtractArchive_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	err := ExtractArchive(context.Background(), path, t.TempDir())
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeArchiveFailed))
}
