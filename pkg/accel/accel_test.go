package accel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auraproto/aura/pkg/codec"
	"github.com/auraproto/aura/pkg/selector"
	"github.com/auraproto/aura/pkg/template"
)

func testStore(t *testing.T) *template.Store {
	t.Helper()
	store, err := template.NewStore(template.CoreTemplates())
	require.NoError(t, err)
	return store
}

func TestNormalizeCollapsesVolatileSpans(t *testing.T) {
	a := normalize("retrying request 41 at 2026-08-29T10:15:00Z, token 0xdeadbeef99")
	b := normalize("retrying request 7 at 2026-08-28T23:59:59Z, token 0xcafebabe01")
	assert.Equal(t, a, b)

	c := normalize("a completely different sentence")
	assert.NotEqual(t, a, c)
}

func TestSignatureIgnoresSlotValues(t *testing.T) {
	assert.Equal(t,
		signature("processed 120 items in 3.5 seconds"),
		signature("processed 7 items in 0.2 seconds"))
	assert.NotEqual(t,
		signature("processed 120 items in 3.5 seconds"),
		signature("dropped 120 items after 3.5 seconds"))
}

func TestLookupMissThenHit(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New()
	sel := selector.New().Select(snap, "Yes, I can help with that!")
	require.Equal(t, codec.BinarySemantic, sel.Method)

	_, ok := a.Lookup("s1", "Yes, I can help with that!", snap)
	assert.False(t, ok)

	a.Record("s1", "Yes, I can help with that!", sel, snap.Version())
	got, ok := a.Lookup("s1", "Yes, I can help with that!", snap)
	require.True(t, ok)
	assert.Equal(t, sel.Payload, got.Payload)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheHitIsTransparent(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New()
	sel := selector.New()

	seed := "I found 120 results."
	seeded := sel.Select(snap, seed)
	require.Equal(t, codec.BinarySemantic, seeded.Method)
	a.Record("s1", seed, seeded, snap.Version())

	// Same structure, different volatile slot value: the hit path
	// must emit what the full pipeline would.
	next := "I found 7 results."
	cached, ok := a.Lookup("s1", next, snap)
	require.True(t, ok)

	full := sel.Select(snap, next)
	assert.Equal(t, full.Method, cached.Method)

	fromCache, _, err := codec.Decode(cached.Payload, snap)
	require.NoError(t, err)
	fromFull, _, err := codec.Decode(full.Payload, snap)
	require.NoError(t, err)
	assert.Equal(t, next, fromCache)
	assert.Equal(t, fromFull, fromCache)
}

func TestLookupInvalidatesOnStoreVersionChange(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New()
	text := "Yes, I can help with that!"

	a.Record("s1", text, selector.New().Select(snap, text), snap.Version())

	// Hot reload publishes a new snapshot version.
	require.NoError(t, store.ReplaceDiscovered(nil))
	newSnap := store.Snapshot()
	require.NotEqual(t, snap.Version(), newSnap.Version())

	_, ok := a.Lookup("s1", text, newSnap)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), a.Stats().Evictions)
}

func TestSessionsAreIsolated(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New()
	text := "Yes, I can help with that!"

	a.Record("s1", text, selector.New().Select(snap, text), snap.Version())

	_, ok := a.Lookup("s2", text, snap)
	assert.False(t, ok)
}

func TestRecordSkipsNonReconstructibleMethods(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New()

	a.Record("s1", "anything", selector.Selection{Method: codec.MultiTemplate}, snap.Version())
	_, ok := a.Lookup("s1", "anything", snap)
	assert.False(t, ok)
}

func TestSessionCapacityEvictsOldest(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New(WithSessionCapacity(2))
	sel := selector.New()

	texts := []string{"alpha beta gamma", "delta epsilon zeta", "eta theta iota"}
	for _, text := range texts {
		a.Record("s1", text, sel.Select(snap, text), snap.Version())
	}

	_, ok := a.Lookup("s1", texts[0], snap)
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = a.Lookup("s1", texts[2], snap)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), a.Stats().Evictions, "capacity displacement counts as an eviction")
}

func TestDropSession(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New()
	text := "Yes, I can help with that!"

	a.Record("s1", text, selector.New().Select(snap, text), snap.Version())
	a.DropSession("s1")

	_, ok := a.Lookup("s1", text, snap)
	assert.False(t, ok)
}

func TestManySessionsManyEntries(t *testing.T) {
	store := testStore(t)
	snap := store.Snapshot()
	a := New(WithSessionCapacity(8))
	sel := selector.New()

	for s := 0; s < 4; s++ {
		id := fmt.Sprintf("session-%d", s)
		for i := 0; i < 32; i++ {
			text := fmt.Sprintf("structurally unique message %c for run %d", 'a'+i, s)
			a.Record(id, text, sel.Select(snap, text), snap.Version())
		}
	}

	// Each session holds at most its capacity; the newest entries
	// survive.
	for s := 0; s < 4; s++ {
		id := fmt.Sprintf("session-%d", s)
		text := fmt.Sprintf("structurally unique message %c for run %d", 'a'+31, s)
		_, ok := a.Lookup(id, text, snap)
		assert.True(t, ok, "session %d newest entry", s)
	}
}
