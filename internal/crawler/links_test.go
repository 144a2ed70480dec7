package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fabindex/internal/contentstore"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

const episodesConfig = `{
	"title": {"type": "text", "paths": ["title", "episodes.*.title"]}
}`

const episodesRoot = `{
	"title": "Show",
	"episodes": {
		"e2": {"/": "/qfab/hq__e2/meta"},
		"e1": {"/": "/qfab/hq__e1/meta"}
	}
}`

func episodesStore(t *testing.T) *contentstore.MemoryStore {
	return testStore(t, episodesRoot,
		"hq__e1", `{"title": "Pilot"}`,
		"hq__e2", `{"title": "Finale"}`)
}

func TestCrawl_InlineLinks(t *testing.T) {
	// Given: episodes stored as separate objects behind links
	cfg := testConfig(t, episodesConfig)

	// When: crawling in the default mode
	eng, res, err := runCrawl(t, episodesStore(t), cfg)

	// Then: linked values land in the root document, in key order
	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{{fv("title", "Show"), fv("title", "Pilot"), fv("title", "Finale")}}, eng.documents())
	assert.Equal(t, 2, res.Links)
	assert.Equal(t, 3, res.Objects)
	assert.Equal(t, 1, res.Documents)
}

func TestCrawl_DocumentLinks(t *testing.T) {
	cfg := testConfig(t, episodesConfig)

	eng, res, err := runCrawl(t, episodesStore(t), cfg, WithLinkMode(LinkDocument))

	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{
		{fv("title", "Show")},
		{fv("title", "Pilot")},
		{fv("title", "Finale")},
	}, eng.documents())
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, 2, res.Links)
}

func TestCrawl_DocumentLinksQueueEachTargetOnce(t *testing.T) {
	cfg := testConfig(t, episodesConfig)
	store := testStore(t, `{"episodes": {
		"a": {"/": "/qfab/hq__e1/meta"},
		"b": {"/": "/qfab/hq__e1/meta"}
	}}`, "hq__e1", `{"title": "Pilot"}`)

	eng, res, err := runCrawl(t, store, cfg, WithLinkMode(LinkDocument))

	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{nil, {fv("title", "Pilot")}}, eng.documents())
	assert.Equal(t, 1, res.Links)
}

func TestCrawl_RelativeLink(t *testing.T) {
	// Given: a link into another part of the same object
	cfg := testConfig(t, `{"desc": {"type": "text", "paths": ["info.desc"]}}`)
	store := testStore(t, `{
		"info": {"/": "./meta/shared/info"},
		"shared": {"info": {"desc": "Shared"}}
	}`)

	for _, mode := range []LinkMode{LinkInline, LinkDocument} {
		t.Run(string(mode), func(t *testing.T) {
			// When: crawling
			eng, res, err := runCrawl(t, store, cfg, WithLinkMode(mode))

			// Then: the link resolves against the current object and stays inline
			require.NoError(t, err)
			assert.Equal(t, [][]fieldValue{{fv("desc", "Shared")}}, eng.documents())
			assert.Equal(t, 1, res.Links)
		})
	}
}

func TestCrawl_SharedTargetWalkedOnce(t *testing.T) {
	cfg := testConfig(t, `{"t": {"type": "text", "paths": ["refs.*.title"]}}`)
	store := testStore(t, `{"refs": {
		"a": {"/": "/qfab/hq__t/meta"},
		"b": {"/": "/qfab/hq__t/meta"}
	}}`, "hq__t", `{"title": "T"}`)

	eng, res, err := runCrawl(t, store, cfg)

	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{{fv("t", "T")}}, eng.documents())
	assert.Equal(t, 1, res.Links)
}

func TestCrawl_SelfLinkTerminates(t *testing.T) {
	cfg := testConfig(t, `{"title": {"type": "text", "paths": ["title", "self.title", "self.self.title"]}}`)
	store := testStore(t, `{"title": "A", "self": {"/": "./meta"}}`)

	eng, res, err := runCrawl(t, store, cfg)

	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{{fv("title", "A"), fv("title", "A"), fv("title", "A")}}, eng.documents())
	assert.Equal(t, 2, res.Links)
}

func TestCrawl_NonMetadataLinkSkipped(t *testing.T) {
	cfg := testConfig(t, `{"title": {"type": "text", "paths": ["title", "video.title"]}}`)
	store := testStore(t, `{"title": "A", "video": {"/": "./files/video.mp4"}}`)

	eng, res, err := runCrawl(t, store, cfg)

	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{{fv("title", "A")}}, eng.documents())
	assert.Zero(t, res.Links)
}

func TestCrawl_LinkErrors(t *testing.T) {
	tests := []struct {
		name  string
		meta  string
		codes []string
	}{
		{
			name:  "malformed",
			meta:  `{"ep": {"/": "http://example.com/x"}}`,
			codes: []string{fierrors.ErrCodeLinkResolution},
		},
		{
			name:  "marker not a string",
			meta:  `{"ep": {"/": 7}}`,
			codes: []string{fierrors.ErrCodeLinkResolution},
		},
		{
			name:  "missing target",
			meta:  `{"ep": {"/": "/qfab/hq__missing/meta"}}`,
			codes: []string{fierrors.ErrCodeLinkResolution, fierrors.ErrCodeObjectNotFound},
		},
		{
			name:  "missing subpath",
			meta:  `{"ep": {"/": "./meta/nowhere"}}`,
			codes: []string{fierrors.ErrCodeLinkResolution, fierrors.ErrCodeObjectNotFound},
		},
	}

	cfg := testConfig(t, `{"title": {"type": "text", "paths": ["ep.title"]}}`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, res, err := runCrawl(t, testStore(t, tt.meta), cfg)

			require.Error(t, err)
			assert.Nil(t, res)
			for _, code := range tt.codes {
				assert.True(t, fierrors.HasCode(err, code), "want %s in %v", code, err)
			}
			assert.Zero(t, eng.commits)
			assert.Equal(t, 1, eng.rollback)
			assert.False(t, eng.archived)
		})
	}
}

func TestCrawl_PrefetchesSiblingLinks(t *testing.T) {
	// Given: a cached store with a recording prefetcher in front of it
	cfg := testConfig(t, episodesConfig)
	cached := contentstore.NewCachedStore(episodesStore(t), 16)
	pf := &recordingPrefetcher{next: cached}

	// When: crawling with prefetch enabled
	eng, _, err := runCrawl(t, cached, cfg, WithPrefetcher(pf, 2))

	// Then: both episode links were fetched in one batch, output unchanged
	require.NoError(t, err)
	require.Len(t, pf.batches, 1)
	assert.Equal(t, []contentstore.ObjectRef{
		{Library: testLibrary, Hash: "hq__e1"},
		{Library: testLibrary, Hash: "hq__e2"},
	}, pf.batches[0])
	assert.Equal(t, [][]fieldValue{{fv("title", "Show"), fv("title", "Pilot"), fv("title", "Finale")}}, eng.documents())
	assert.Equal(t, 3, cached.Len())
}

func TestCrawl_LinkChainIsFollowed(t *testing.T) {
	// Given: a link whose target is itself a link
	cfg := testConfig(t, `{"title": {"type": "text", "paths": ["a.title"]}}`)
	store := testStore(t, `{"a": {"/": "/qfab/hq__b/meta/x"}}`,
		"hq__b", `{"x": {"/": "/qfab/hq__c/meta"}}`,
		"hq__c", `{"title": "C"}`)

	for _, mode := range []LinkMode{LinkInline, LinkDocument} {
		t.Run(string(mode), func(t *testing.T) {
			// When: crawling
			eng, res, err := runCrawl(t, store, cfg, WithLinkMode(mode))

			// Then: the final target's value is indexed
			require.NoError(t, err)
			var values []fieldValue
			for _, d := range eng.documents() {
				values = append(values, d...)
			}
			assert.Equal(t, []fieldValue{fv("title", "C")}, values)
			assert.Equal(t, 2, res.Links)
		})
	}
}

func TestCrawl_LinkChainCycleTerminates(t *testing.T) {
	cfg := testConfig(t, `{"title": {"type": "text", "paths": ["title", "a.title"]}}`)
	store := testStore(t, `{"title": "A", "a": {"/": "/qfab/hq__b/meta/x"}}`,
		"hq__b", `{"x": {"/": "/qfab/hq__b/meta/y"}, "y": {"/": "/qfab/hq__b/meta/x"}}`)

	eng, res, err := runCrawl(t, store, cfg)

	require.NoError(t, err)
	assert.Equal(t, [][]fieldValue{{fv("title", "A")}}, eng.documents())
	assert.Equal(t, 2, res.Links)
}

func TestCrawl_LinkChainWithBadMarker(t *testing.T) {
	cfg := testConfig(t, `{"title": {"type": "text", "paths": ["a.title"]}}`)
	store := testStore(t, `{"a": {"/": "/qfab/hq__b/meta/x"}}`,
		"hq__b", `{"x": {"/": 42}}`)

	_, _, err := runCrawl(t, store, cfg)

	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeLinkResolution), "got %v", err)
}
