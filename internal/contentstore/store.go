// Package contentstore provides access to content-addressed metadata objects.
//
// A content object has a stable content id and a sequence of committed
// versions, each identified by a hash. Metadata is read per (library, hash)
// and optionally narrowed to a subpath. The crawler depends only on Store;
// MemoryStore and SQLiteStore are the concrete backends, and RetryingStore
// and CachedStore decorate any Store.
package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/meta"
)

// Version is one committed version of a content object.
type Version struct {
	Hash        string    `json:"hash"`
	CommittedAt time.Time `json:"committed_at"`
	// Latest marks the version the store considers current.
	Latest bool `json:"latest,omitempty"`
}

// Store reads metadata from a content store.
type Store interface {
	// GetMetadata returns the metadata of (library, hash) at subpath.
	// An empty subpath returns the whole document. Missing objects or
	// subpaths fail with ERR_201_OBJECT_NOT_FOUND.
	GetMetadata(ctx context.Context, library, hash, subpath string) (meta.Value, error)

	// GetVersions returns the versions of contentID, most recent first.
	GetVersions(ctx context.Context, contentID string) ([]Version, error)

	// Close releases the store.
	Close() error
}

// ObjectRef addresses metadata inside a content object.
type ObjectRef struct {
	Library string
	Hash    string
	Subpath string
}

func (r ObjectRef) String() string {
	if r.Subpath == "" {
		return r.Library + "/" + r.Hash
	}
	return r.Library + "/" + r.Hash + "/" + r.Subpath
}

// Prefetcher warms a store for metadata that is about to be read.
type Prefetcher interface {
	Prefetch(ctx context.Context, refs []ObjectRef, workers int) error
}

// Object is one version of a content object as held in a snapshot.
type Object struct {
	Library     string     `json:"library"`
	Content     string     `json:"content"`
	Hash        string     `json:"hash"`
	CommittedAt time.Time  `json:"committed_at"`
	Latest      bool       `json:"latest,omitempty"`
	Meta        meta.Value `json:"-"`
}

type snapshotObject struct {
	Object
	RawMeta json.RawMessage `json:"meta"`
}

// Snapshot is a portable dump of content objects.
type Snapshot struct {
	Objects []Object
}

// ReadSnapshot decodes a snapshot document:
//
//	{"objects": [{"library": "...", "content": "...", "hash": "...",
//	              "committed_at": "2024-01-02T15:04:05Z", "latest": true,
//	              "meta": {...}}]}
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var doc struct {
		Objects []snapshotObject `json:"objects"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid, "invalid snapshot", err)
	}

	snap := &Snapshot{Objects: make([]Object, 0, len(doc.Objects))}
	for i, o := range doc.Objects {
		if o.Library == "" || o.Hash == "" {
			return nil, fierrors.New(fierrors.ErrCodeConfigInvalid,
				fmt.Sprintf("snapshot object %d needs library and hash", i), nil)
		}
		obj := o.Object
		if len(o.RawMeta) > 0 {
			v, err := meta.DecodeBytes(o.RawMeta)
			if err != nil {
				return nil, fierrors.New(fierrors.ErrCodeMalformedMetadata,
					fmt.Sprintf("snapshot object %s/%s has invalid meta", o.Library, o.Hash), err)
			}
			obj.Meta = v
		} else {
			obj.Meta = map[string]any{}
		}
		snap.Objects = append(snap.Objects, obj)
	}
	return snap, nil
}

// sortVersions orders versions most recent first, keeping insertion order for ties.
func sortVersions(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].CommittedAt.After(vs[j].CommittedAt)
	})
}

// narrow applies subpath to a whole metadata document.
func narrow(doc meta.Value, library, hash, subpath string) (meta.Value, error) {
	v, ok := meta.Navigate(doc, subpath)
	if !ok {
		return nil, fierrors.NotFound(library, hash).WithDetail("subpath", subpath)
	}
	return v, nil
}
