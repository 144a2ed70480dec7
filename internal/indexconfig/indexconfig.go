// Package indexconfig parses index configuration documents.
//
// An index configuration names the fields to extract from content metadata
// and the root object the crawl starts from:
//
//	{ "indexer": { "type": "metadata-text",
//	               "arguments": { "document": {...},
//	                              "fields": { "title": {"type": "text",
//	                                                    "options": {...},
//	                                                    "paths": ["public.asset_metadata.title"]} } } },
//	  "fabric": { "policy": {...}, "root": {"content": "iq__...", "library": "ilib..."} } }
//
// Parsing is pure: it reads no files beyond the one it is given and calls
// no collaborators. Every failure is a ConfigError naming the offending key.
package indexconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

// FieldType is the declared type of an indexed field.
type FieldType string

const (
	// FieldTypeText is tokenized full text.
	FieldTypeText FieldType = "text"
	// FieldTypeString is an untokenized keyword.
	FieldTypeString FieldType = "string"
)

// Supported reports whether the index engine has a mapping for t.
func (t FieldType) Supported() bool {
	return t == FieldTypeText || t == FieldTypeString
}

// FieldConfig describes one indexed field and the metadata paths it is read from.
type FieldConfig struct {
	Name    string         `json:"name" yaml:"name"`
	Type    FieldType      `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Paths   []string       `json:"paths" yaml:"paths"`
}

// IndexerConfig is the typed form of the "indexer" section.
type IndexerConfig struct {
	Type     string        `json:"type" yaml:"type"`
	Document any           `json:"document,omitempty" yaml:"document,omitempty"`
	Fields   []FieldConfig `json:"fields" yaml:"fields"`
}

// Field returns the field named name, or nil.
func (c *IndexerConfig) Field(name string) *FieldConfig {
	i := sort.Search(len(c.Fields), func(i int) bool { return c.Fields[i].Name >= name })
	if i < len(c.Fields) && c.Fields[i].Name == name {
		return &c.Fields[i]
	}
	return nil
}

// PathCount returns the total number of configured paths across all fields.
func (c *IndexerConfig) PathCount() int {
	n := 0
	for _, f := range c.Fields {
		n += len(f.Paths)
	}
	return n
}

// RootConfig identifies the crawl's entry point.
type RootConfig struct {
	Content string `json:"content" yaml:"content"`
	Library string `json:"library" yaml:"library"`
}

// FabricConfig is the typed form of the "fabric" section.
type FabricConfig struct {
	Policy any        `json:"policy,omitempty" yaml:"policy,omitempty"`
	Root   RootConfig `json:"root" yaml:"root"`
}

// Config is a fully parsed index configuration.
type Config struct {
	Indexer IndexerConfig `json:"indexer" yaml:"indexer"`
	Fabric  FabricConfig  `json:"fabric" yaml:"fabric"`
}

// ParseFile reads and parses the configuration at path.
// Files ending in .yaml or .yml are read as YAML, everything else as JSON.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fierrors.New(fierrors.ErrCodeConfigNotFound,
				"index config not found: "+path, err).WithDetail("path", path)
		}
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid,
			"failed to read index config "+path, err).WithDetail("path", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// Parse parses a JSON configuration document.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid,
			"index config is not a JSON object", err)
	}
	return ParseValue(doc)
}

// ParseYAML parses a YAML configuration document.
func ParseYAML(data []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid,
			"index config is not a YAML mapping", err)
	}
	return ParseValue(doc)
}

// ParseValue parses an already decoded configuration document.
//
// The document may also be an index object's metadata, in which case the
// configuration is read from its "indexer.config" entry.
func ParseValue(doc map[string]any) (*Config, error) {
	if doc == nil {
		return nil, fierrors.ConfigError("indexer", "")
	}
	doc = unwrapIndexObject(doc)

	indexer, err := object(doc, "indexer")
	if err != nil {
		return nil, err
	}
	indexerType, err := str(indexer, "type", "indexer.type")
	if err != nil {
		return nil, err
	}
	args, err := object(indexer, "arguments", "indexer.arguments")
	if err != nil {
		return nil, err
	}
	fieldsDoc, err := object(args, "fields", "indexer.arguments.fields")
	if err != nil {
		return nil, err
	}

	fields := make([]FieldConfig, 0, len(fieldsDoc))
	for name, raw := range fieldsDoc {
		f, err := parseField(name, raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	// The fields mapping has no order of its own; sort so that everything
	// downstream (schema, trie, documents) is reproducible.
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	fabric, err := object(doc, "fabric")
	if err != nil {
		return nil, err
	}
	root, err := object(fabric, "root", "fabric.root")
	if err != nil {
		return nil, err
	}
	content, err := str(root, "content", "fabric.root.content")
	if err != nil {
		return nil, err
	}
	library, err := str(root, "library", "fabric.root.library")
	if err != nil {
		return nil, err
	}

	return &Config{
		Indexer: IndexerConfig{
			Type:     indexerType,
			Document: args["document"],
			Fields:   fields,
		},
		Fabric: FabricConfig{
			Policy: fabric["policy"],
			Root:   RootConfig{Content: content, Library: library},
		},
	}, nil
}

func parseField(name string, raw any) (FieldConfig, error) {
	key := "indexer.arguments.fields." + name
	if strings.TrimSpace(name) == "" {
		return FieldConfig{}, fierrors.ConfigError(key, "field name must not be empty")
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return FieldConfig{}, fierrors.ConfigError(key, fmt.Sprintf("field %q must be an object", name))
	}

	typ, err := str(m, "type", key+".type")
	if err != nil {
		return FieldConfig{}, err
	}

	rawPaths, ok := m["paths"]
	if !ok {
		return FieldConfig{}, fierrors.ConfigError(key+".paths", "")
	}
	list, ok := rawPaths.([]any)
	if !ok || len(list) == 0 {
		return FieldConfig{}, fierrors.ConfigError(key+".paths",
			fmt.Sprintf("paths of field %q must be a non-empty list of strings", name))
	}
	paths := make([]string, 0, len(list))
	for i, p := range list {
		s, ok := p.(string)
		if !ok {
			return FieldConfig{}, fierrors.ConfigError(fmt.Sprintf("%s.paths[%d]", key, i),
				fmt.Sprintf("path %d of field %q is not a string", i, name))
		}
		paths = append(paths, s)
	}

	options := map[string]any{}
	switch o := m["options"].(type) {
	case nil:
	case map[string]any:
		options = o
	default:
		return FieldConfig{}, fierrors.ConfigError(key+".options",
			fmt.Sprintf("options of field %q must be an object", name))
	}

	return FieldConfig{
		Name:    name,
		Type:    FieldType(typ),
		Options: options,
		Paths:   paths,
	}, nil
}

// unwrapIndexObject returns doc["indexer"]["config"] when doc looks like an
// index object's metadata rather than a bare configuration.
func unwrapIndexObject(doc map[string]any) map[string]any {
	indexer, ok := doc["indexer"].(map[string]any)
	if !ok {
		return doc
	}
	if _, hasArgs := indexer["arguments"]; hasArgs {
		return doc
	}
	if cfg, ok := indexer["config"].(map[string]any); ok {
		return cfg
	}
	return doc
}

// object returns m[k] as an object. The optional name overrides the key
// reported in the error.
func object(m map[string]any, k string, name ...string) (map[string]any, error) {
	key := k
	if len(name) > 0 {
		key = name[0]
	}
	v, ok := m[k]
	if !ok || v == nil {
		return nil, fierrors.ConfigError(key, "")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fierrors.ConfigError(key, key+" must be an object")
	}
	return obj, nil
}

func str(m map[string]any, k, key string) (string, error) {
	v, ok := m[k]
	if !ok || v == nil {
		return "", fierrors.ConfigError(key, "")
	}
	s, ok := v.(string)
	if !ok {
		return "", fierrors.ConfigError(key, key+" must be a string")
	}
	return s, nil
}
