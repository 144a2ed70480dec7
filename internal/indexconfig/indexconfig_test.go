package indexconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

const minimalJSON = `{
  "indexer": {"type": "metadata-text",
              "arguments": {"document": {"k": "v"},
                            "fields": {"title": {"type": "text", "paths": ["title"]},
                                       "desc": {"type": "text", "options": {"stored": true}, "paths": ["props.description"]}}}},
  "fabric": {"policy": {"p": 1}, "root": {"content": "iq__root", "library": "ilib_root"}}
}`

func TestParse_IndexObjectFixture(t *testing.T) {
	// Given: an index object carrying its config under indexer.config
	cfg, err := ParseFile(filepath.Join("testdata", "index_object.json"))

	// Then: all 22 fields are parsed
	require.NoError(t, err)
	assert.Equal(t, "metadata-text", cfg.Indexer.Type)
	assert.Len(t, cfg.Indexer.Fields, 22)
	assert.Equal(t, 23, cfg.Indexer.PathCount())
	assert.Equal(t, map[string]any{"prefix": "/"}, cfg.Indexer.Document)
	assert.Equal(t, "iq__3qRppqJ9oPqhcdzXmqgsbqxFc6Ay", cfg.Fabric.Root.Content)
	assert.Equal(t, "ilib3ErteXPqgbcmAnRhwFcX7fH6DzEu", cfg.Fabric.Root.Library)

	synopsis := cfg.Indexer.Field("synopsis")
	require.NotNil(t, synopsis)
	assert.Equal(t, FieldTypeText, synopsis.Type)
	assert.Equal(t, []string{
		"public.asset_metadata.synopsis",
		"public.asset_metadata.info.synopsis",
	}, synopsis.Paths)
	assert.Equal(t, true, synopsis.Options["stored"])
}

func TestParse_FieldsSortedByName(t *testing.T) {
	cfg, err := Parse([]byte(minimalJSON))
	require.NoError(t, err)

	require.Len(t, cfg.Indexer.Fields, 2)
	assert.Equal(t, "desc", cfg.Indexer.Fields[0].Name)
	assert.Equal(t, "title", cfg.Indexer.Fields[1].Name)
	assert.Equal(t, map[string]any{}, cfg.Indexer.Fields[1].Options)
	assert.Nil(t, cfg.Indexer.Field("missing"))
}

func TestParseYAML_MatchesJSON(t *testing.T) {
	fromYAML, err := ParseFile(filepath.Join("testdata", "minimal.yaml"))
	require.NoError(t, err)
	fromJSON, err := Parse([]byte(minimalJSON))
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Indexer.Type, fromYAML.Indexer.Type)
	require.Len(t, fromYAML.Indexer.Fields, 2)
	for i := range fromJSON.Indexer.Fields {
		assert.Equal(t, fromJSON.Indexer.Fields[i].Name, fromYAML.Indexer.Fields[i].Name)
		assert.Equal(t, fromJSON.Indexer.Fields[i].Paths, fromYAML.Indexer.Fields[i].Paths)
	}
	assert.Equal(t, "en", fromYAML.Indexer.Field("desc").Options["analyzer"])
	assert.Equal(t, fromJSON.Fabric.Root, fromYAML.Fabric.Root)
}

func TestParse_UnsupportedTypeAccepted(t *testing.T) {
	// Type mapping is the schema builder's job; parsing only checks shape.
	cfg, err := Parse([]byte(`{
	  "indexer": {"type": "t", "arguments": {"fields": {"age": {"type": "integer", "paths": ["age"]}}}},
	  "fabric": {"root": {"content": "c", "library": "l"}}}`))

	require.NoError(t, err)
	assert.Equal(t, FieldType("integer"), cfg.Indexer.Fields[0].Type)
	assert.False(t, cfg.Indexer.Fields[0].Type.Supported())
	assert.True(t, FieldTypeText.Supported())
	assert.True(t, FieldTypeString.Supported())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
		code string
	}{
		{
			name: "missing indexer",
			doc:  `{"fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "missing indexer type",
			doc:  `{"indexer": {"arguments": {"fields": {}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.type",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "indexer type not a string",
			doc:  `{"indexer": {"type": 3, "arguments": {"fields": {}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.type",
			code: fierrors.ErrCodeConfigInvalid,
		},
		{
			name: "missing fields",
			doc:  `{"indexer": {"type": "t", "arguments": {}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "fields is a list",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": []}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields",
			code: fierrors.ErrCodeConfigInvalid,
		},
		{
			name: "field without type",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {"a": {"paths": ["a"]}}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields.a.type",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "field without paths",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {"a": {"type": "text"}}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields.a.paths",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "empty paths",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {"a": {"type": "text", "paths": []}}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields.a.paths",
			code: fierrors.ErrCodeConfigInvalid,
		},
		{
			name: "paths is a string",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {"a": {"type": "text", "paths": "a.b"}}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields.a.paths",
			code: fierrors.ErrCodeConfigInvalid,
		},
		{
			name: "non-string path",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {"a": {"type": "text", "paths": ["a", 2]}}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields.a.paths[1]",
			code: fierrors.ErrCodeConfigInvalid,
		},
		{
			name: "options not an object",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {"a": {"type": "text", "options": 1, "paths": ["a"]}}}}, "fabric": {"root": {"content": "c", "library": "l"}}}`,
			key:  "indexer.arguments.fields.a.options",
			code: fierrors.ErrCodeConfigInvalid,
		},
		{
			name: "missing fabric",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {}}}}`,
			key:  "fabric",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "missing root content",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {}}}, "fabric": {"root": {"library": "l"}}}`,
			key:  "fabric.root.content",
			code: fierrors.ErrCodeConfigMissingKey,
		},
		{
			name: "missing root library",
			doc:  `{"indexer": {"type": "t", "arguments": {"fields": {}}}, "fabric": {"root": {"content": "c"}}}`,
			key:  "fabric.root.library",
			code: fierrors.ErrCodeConfigMissingKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))

			require.Error(t, err)
			fe, ok := fierrors.As(err)
			require.True(t, ok, "expected a FabError, got %T", err)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.key, fe.Details["key"])
		})
	}
}

func TestParse_NotJSON(t *testing.T) {
	_, err := Parse([]byte(`[1, 2`))

	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigInvalid))
}

func TestParseFile_NotFound(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.json"))

	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigNotFound))
}

func TestParseFile_YMLExtension(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "minimal.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "index.yml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := ParseFile(path)

	require.NoError(t, err)
	assert.Equal(t, "iq__root", cfg.Fabric.Root.Content)
}
