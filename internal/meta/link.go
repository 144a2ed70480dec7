package meta

import (
	"errors"
	"fmt"
	"strings"
)

// LinkKey is the object key that marks a link.
const LinkKey = "/"

// linkPrefix starts every absolute link.
const linkPrefix = "/qfab/"

// ErrNotMetadataLink is returned for links into files or representations,
// which carry no metadata to crawl.
var ErrNotMetadataLink = errors.New("link does not target metadata")

// LinkRef is a parsed link marker.
type LinkRef struct {
	// Raw is the link string as found in the metadata.
	Raw string
	// Hash is the content hash the link points into.
	Hash string
	// Path is the metadata subpath inside that object ("" for the root).
	Path string
}

// String returns the canonical absolute form of the link.
func (l LinkRef) String() string {
	if l.Path == "" {
		return linkPrefix + l.Hash + "/meta"
	}
	return linkPrefix + l.Hash + "/meta/" + l.Path
}

// LinkTarget returns the link string when v is a link marker.
func LinkTarget(v Value) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	raw, ok := m[LinkKey]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// IsLink reports whether v is an object carrying a link marker key.
func IsLink(v Value) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[LinkKey]
	return ok
}

// ParseLink resolves a link string found in the object with hash parentHash.
//
// Accepted forms:
//
//	./meta/<path>              relative to the parent object
//	/qfab/<hash>/meta/<path>   absolute
//	/qfab/<hash>               root of another object
//
// Links into ./files or ./rep return ErrNotMetadataLink.
func ParseLink(link, parentHash string) (LinkRef, error) {
	ref := LinkRef{Raw: link}

	rest := link
	switch {
	case strings.HasPrefix(link, "./"):
		if parentHash == "" {
			return ref, fmt.Errorf("relative link %q without a parent object", link)
		}
		ref.Hash = parentHash
		rest = link[2:]
	case strings.HasPrefix(link, linkPrefix):
		rest = link[len(linkPrefix):]
		hash, tail, _ := strings.Cut(rest, "/")
		if hash == "" {
			return ref, fmt.Errorf("link %q has no content hash", link)
		}
		ref.Hash = hash
		rest = tail
	default:
		return ref, fmt.Errorf("link %q is neither relative nor absolute", link)
	}

	if rest == "" {
		return ref, nil
	}
	section, path, _ := strings.Cut(rest, "/")
	switch section {
	case "meta":
		ref.Path = strings.Join(components(path), "/")
		return ref, nil
	case "files", "rep":
		return ref, ErrNotMetadataLink
	default:
		return ref, fmt.Errorf("link %q has unknown section %q", link, section)
	}
}
