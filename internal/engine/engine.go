// Package engine defines the search-index engine the crawler writes into,
// and implements it on bleve.
//
// The lifecycle of one build is:
//
//	builder := eng.NewSchemaBuilder(dir)
//	builder.AddTextField("title", opts)     // once per field
//	index := builder.Build()
//	w := index.NewWriter(ctx)
//	doc := w.CreateDocument(ctx)
//	w.AddText(ctx, doc, "title", "A")
//	w.Commit(ctx)                          // or w.Rollback()
//	artifact := index.Archive(ctx, outDir)
//	index.Close()
package engine

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

// FieldID identifies a schema field within one index.
type FieldID uint32

// DocumentID identifies a document within one writer session.
// Zero is never a valid document.
type DocumentID uint64

// Field kinds accepted by AddTextField.
const (
	KindText   = "text"
	KindString = "string"
)

// FieldOptions controls how a text field is indexed.
type FieldOptions struct {
	// Kind is KindText (tokenized) or KindString (single keyword).
	Kind string
	// Analyzer names a bleve analyzer. Defaults by kind.
	Analyzer string
	// Stored keeps the original value retrievable from search hits.
	Stored bool
	// Indexed makes the field searchable.
	Indexed bool
	// TermVectors records term positions for highlighting.
	TermVectors bool
}

// ParseFieldOptions maps a configured field type and its opaque options
// blob to FieldOptions. Types other than "text" and "string" fail with
// ERR_401_UNSUPPORTED_FIELD_TYPE; malformed options with ERR_102_CONFIG_INVALID.
func ParseFieldOptions(name, fieldType string, raw map[string]any) (FieldOptions, error) {
	opts := FieldOptions{Kind: fieldType, Stored: true, Indexed: true}
	switch fieldType {
	case KindText:
		opts.Analyzer = standard.Name
		opts.TermVectors = true
	case KindString:
		opts.Analyzer = keyword.Name
	default:
		return FieldOptions{}, fierrors.UnsupportedFieldType(name, fieldType)
	}

	for k, v := range raw {
		key := fmt.Sprintf("indexer.arguments.fields.%s.options.%s", name, k)
		switch k {
		case "stored":
			b, ok := v.(bool)
			if !ok {
				return FieldOptions{}, fierrors.ConfigError(key, "stored must be a boolean")
			}
			opts.Stored = b
		case "indexed":
			b, ok := v.(bool)
			if !ok {
				return FieldOptions{}, fierrors.ConfigError(key, "indexed must be a boolean")
			}
			opts.Indexed = b
		case "include_term_vectors", "term_vectors":
			b, ok := v.(bool)
			if !ok {
				return FieldOptions{}, fierrors.ConfigError(key, k+" must be a boolean")
			}
			opts.TermVectors = b
		case "analyzer":
			s, ok := v.(string)
			if !ok || s == "" {
				return FieldOptions{}, fierrors.ConfigError(key, "analyzer must be a non-empty string")
			}
			opts.Analyzer = s
		default:
			// Unknown options are carried for other engines and ignored here.
		}
	}
	return opts, nil
}

// Engine creates index builds.
type Engine interface {
	// NewSchemaBuilder starts a schema for an index stored in directory.
	// An empty directory builds an in-memory index.
	NewSchemaBuilder(directory string) (SchemaBuilder, error)
}

// SchemaBuilder collects fields before the index is created.
type SchemaBuilder interface {
	// AddTextField adds a field. Duplicate names and invalid options fail.
	AddTextField(name string, opts FieldOptions) (FieldID, error)
	// Build creates the index. The builder cannot be used afterwards.
	Build() (Index, error)
}

// Index is a built, writable index.
type Index interface {
	// NewWriter opens the single writer session of the index.
	NewWriter(ctx context.Context) (Writer, error)
	// Fields returns the schema field names in the order they were added.
	Fields() []string
	// DocCount returns the number of committed documents.
	DocCount() (uint64, error)
	// Archive packages the committed index into destDir and closes it.
	Archive(ctx context.Context, destDir string) (*Artifact, error)
	// Close releases the index. It is safe to call more than once.
	Close() error
}

// Writer is a document-writing session. Nothing is visible in the index
// until Commit; Rollback discards everything written so far.
type Writer interface {
	CreateDocument(ctx context.Context) (DocumentID, error)
	AddText(ctx context.Context, doc DocumentID, field, value string) error
	Commit(ctx context.Context) error
	Rollback() error
}

// Artifact describes an archived index.
type Artifact struct {
	// Digest is "sha256:<hex>" of the archive bytes.
	Digest string `json:"digest"`
	// Path is the archive file.
	Path string `json:"path"`
	// Size is the archive size in bytes.
	Size int64 `json:"size"`
	// Documents is the number of documents in the index.
	Documents uint64 `json:"documents"`
}
