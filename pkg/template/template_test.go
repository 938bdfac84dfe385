package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func coreSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	store, err := NewStore(CoreTemplates())
	require.NoError(t, err)
	return store.Snapshot()
}

func singleSnapshot(t *testing.T, pattern string, slots []SlotType) *Snapshot {
	t.Helper()
	store, err := NewStore([]*Template{New(0, pattern, slots, SourceCore)})
	require.NoError(t, err)
	return store.Snapshot()
}

func TestCoreTemplatesAllCompile(t *testing.T) {
	_, err := NewStore(CoreTemplates())
	require.NoError(t, err)
}

func TestCompileRejectsBadTemplates(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		slots   []SlotType
	}{
		{"placeholder without slot type", "hello {0}", nil},
		{"declared slot never used", "hello", textSlots(1)},
		{"index beyond declared", "{0} and {2}", textSlots(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore([]*Template{New(0, tt.pattern, tt.slots, SourceCore)})
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "The answer is 42.", Format("The answer is {0}.", []string{"42"}))
	assert.Equal(t, "a b a", Format("{0} {1} {0}", []string{"a", "b"}))
	assert.Equal(t, "x ", Format("x {3}", []string{"a"}))
}

func TestMatchExtractsSlots(t *testing.T) {
	snap := coreSnapshot(t)

	m, ok := snap.Match("The capital of France is Paris.")
	require.True(t, ok)
	assert.Equal(t, "The {0} of {1} is {2}.", m.Template.Pattern)
	assert.Equal(t, []string{"capital", "France", "Paris"}, m.Slots)
}

func TestMatchReconstructionIsExact(t *testing.T) {
	snap := coreSnapshot(t)
	for _, text := range []string{
		"Yes",
		"I don't have access to your filesystem.",
		"I found 1,024 results.",
		"```go\nfmt.Println(1)\n```",
	} {
		m, ok := snap.Match(text)
		require.True(t, ok, "no match for %q", text)
		assert.Equal(t, text, Format(m.Template.Pattern, m.Slots))
	}
}

func TestMatchFailsOnNoCandidate(t *testing.T) {
	snap := coreSnapshot(t)
	_, ok := snap.Match("zz completely unlike any template zz")
	assert.False(t, ok)

	_, ok = snap.Match("")
	assert.False(t, ok)
}

func TestMatchPrefersLargerSkeleton(t *testing.T) {
	snap := coreSnapshot(t)

	// Matches both "{0} is {1}." (skeleton 5) and
	// "The {0} of {1} is {2}." (skeleton 13); the latter explains
	// more input literally.
	m, ok := snap.Match("The root of the problem is the cache.")
	require.True(t, ok)
	assert.Equal(t, "The {0} of {1} is {2}.", m.Template.Pattern)
}

func TestMatchTieBreaksByUsageThenID(t *testing.T) {
	a := New(1, "x {0} y", textSlots(1), SourceCore)
	b := New(2, "x {0} y", textSlots(1), SourceCore)
	store, err := NewStore([]*Template{a, b})
	require.NoError(t, err)
	snap := store.Snapshot()

	m, ok := snap.Match("x q y")
	require.True(t, ok)
	assert.Equal(t, uint32(1), m.Template.ID, "equal scores break toward the lower id")

	// Usage outranks id once the counts diverge.
	b.setUsage(10)
	m, ok = snap.Match("x q y")
	require.True(t, ok)
	assert.Equal(t, uint32(2), m.Template.ID)
}

func TestMatchCountsUsage(t *testing.T) {
	snap := coreSnapshot(t)
	m, ok := snap.Match("Yes, I can help with that!")
	require.True(t, ok)
	before := m.Template.UsageCount()

	_, ok = snap.Match("Yes, I can help with that!")
	require.True(t, ok)
	assert.Equal(t, before+1, m.Template.UsageCount())
}

func TestRepeatedPlaceholderRequiresConsistency(t *testing.T) {
	snap := singleSnapshot(t, "{0} equals {0}", textSlots(1))

	m, ok := snap.Match("a equals a")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, m.Slots)

	_, ok = snap.Match("a equals b")
	assert.False(t, ok, "occurrences disagree, reconstruction would differ")
}

func TestNumberSlotRejectsText(t *testing.T) {
	snap := coreSnapshot(t)
	_, ok := snap.Match("I found many results.")
	assert.False(t, ok)
}

func TestMatchPrefix(t *testing.T) {
	snap := coreSnapshot(t)
	text := "I can help with parsing. Here is the rest of the answer."

	m, end, ok := snap.MatchPrefix(text)
	require.True(t, ok)
	assert.Equal(t, "I can help with {0}.", m.Template.Pattern)
	assert.Equal(t, "I can help with parsing.", text[:end])
	assert.Equal(t, text[:end], Format(m.Template.Pattern, m.Slots))
}

func TestMatchPrefixExcludesWholeTextMatches(t *testing.T) {
	snap := coreSnapshot(t)
	_, _, ok := snap.MatchPrefix("I can help with parsing.")
	assert.False(t, ok)
}

func TestSegments(t *testing.T) {
	snap := coreSnapshot(t)
	text := "Yes, I can help with that! Some filler in the middle. That's correct"

	segs, ok := snap.Segments(text)
	require.True(t, ok)

	var rebuilt string
	templates := 0
	for _, seg := range segs {
		if seg.IsTemplate() {
			templates++
			rebuilt += Format(seg.Template.Pattern, seg.Slots)
		} else {
			rebuilt += seg.Literal
		}
	}
	assert.Equal(t, text, rebuilt)
	assert.GreaterOrEqual(t, templates, 2)
}

func TestSegmentsRejectsSingleWholeCover(t *testing.T) {
	snap := coreSnapshot(t)
	_, ok := snap.Segments("Yes, I can help with that!")
	assert.False(t, ok)
}

func TestSegmentsRejectsNoTemplates(t *testing.T) {
	snap := coreSnapshot(t)
	_, ok := snap.Segments("zz nothing here matches zz")
	assert.False(t, ok)
}

func TestExtractSlots(t *testing.T) {
	snap := coreSnapshot(t)

	slots, ok := snap.ExtractSlots(52, "I found 7 results.")
	require.True(t, ok)
	assert.Equal(t, []string{"7"}, slots)

	_, ok = snap.ExtractSlots(52, "I found nothing.")
	assert.False(t, ok)

	_, ok = snap.ExtractSlots(9999, "I found 7 results.")
	assert.False(t, ok)
}

func TestMatchRoundTripProperty(t *testing.T) {
	snap := coreSnapshot(t)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(1, 200, -1).Draw(t, "text")
		m, ok := snap.Match(text)
		if !ok {
			return
		}
		if Format(m.Template.Pattern, m.Slots) != text {
			t.Fatalf("match of %q does not reconstruct", text)
		}
	})
}
