package selector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/auraproto/aura/pkg/codec"
	"github.com/auraproto/aura/pkg/template"
)

func testSnapshot(t *testing.T) *template.Snapshot {
	t.Helper()
	store, err := template.NewStore(template.CoreTemplates())
	require.NoError(t, err)
	return store.Snapshot()
}

func TestSelectAffirmationUsesBinarySemantic(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that!"

	sel := New().Select(snap, text)
	assert.Equal(t, codec.BinarySemantic, sel.Method)
	assert.False(t, sel.Fallback)
	assert.Less(t, len(sel.Payload), len(text))

	got, _, err := codec.Decode(sel.Payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestSelectNoMatchFallsBackToRaw(t *testing.T) {
	snap := testSnapshot(t)
	text := strings.Repeat("q9", 100) // 200 bytes, matches nothing

	sel := New().Select(snap, text)
	assert.Equal(t, codec.RawFallback, sel.Method)
	assert.Equal(t, len(text)+1, len(sel.Payload))
	assert.False(t, sel.HasTemplate)

	got, _, err := codec.Decode(sel.Payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestSelectNeverWorseOnLargeInput(t *testing.T) {
	snap := testSnapshot(t)
	s := New()

	// Large enough that a multi-byte length prefix on the raw floor
	// would overshoot the budget.
	for _, size := range []int{16384, 1 << 20} {
		text := strings.Repeat("q9", size/2)
		sel := s.Select(snap, text)
		assert.LessOrEqual(t, len(sel.Payload), len(text)+DefaultHeaderOverhead)

		got, _, err := codec.Decode(sel.Payload, snap)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
}

func TestSelectRoundTripsManySegmentInput(t *testing.T) {
	snap := testSnapshot(t)

	// 300 adjacent matches of a literal template would overflow the
	// one-byte segment count, so multi-template must stand down here.
	text := strings.Repeat("Yes", 300)
	sel := New().Select(snap, text)
	assert.LessOrEqual(t, len(sel.Payload), len(text)+DefaultHeaderOverhead)

	got, _, err := codec.Decode(sel.Payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestSelectEmptyInputIsDeterministic(t *testing.T) {
	snap := testSnapshot(t)
	s := New()

	first := s.Select(snap, "")
	second := s.Select(snap, "")
	assert.Equal(t, codec.RawFallback, first.Method)
	assert.Equal(t, first.Payload, second.Payload)

	got, _, err := codec.Decode(first.Payload, snap)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelectSetsFallbackFlagOnRejection(t *testing.T) {
	// A one-byte input that matches a template: the template payload
	// cannot beat len(text)+0, so with H=0 the selector must reject
	// it and flag the raw result as a fallback.
	core := []*template.Template{
		template.New(0, "{0}", []template.SlotType{template.SlotText}, template.SourceCore),
	}
	store, err := template.NewStore(core)
	require.NoError(t, err)
	snap := store.Snapshot()

	sel := New(WithHeaderOverhead(0)).Select(snap, "a")
	assert.Equal(t, codec.RawFallback, sel.Method)
	assert.True(t, sel.Fallback)
}

func TestSelectMultiTemplate(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that! ............................ Yes, I can help with that!"

	sel := New().Select(snap, text)
	assert.Equal(t, codec.MultiTemplate, sel.Method)
	assert.True(t, sel.HasTemplate)
	assert.LessOrEqual(t, len(sel.Payload), len(text)+DefaultHeaderOverhead)

	got, _, err := codec.Decode(sel.Payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestSelectTemplateDictionary(t *testing.T) {
	snap := testSnapshot(t)
	tail := strings.Repeat(" the remainder keeps repeating itself over and over.", 8)
	text := "Yes, I can help with that." + tail

	sel := New().Select(snap, text)
	require.Contains(t,
		[]codec.Method{codec.MultiTemplate, codec.TemplateDictionary, codec.BinarySemantic},
		sel.Method)

	got, _, err := codec.Decode(sel.Payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestNeverWorseProperty(t *testing.T) {
	snap := testSnapshot(t)
	s := New()
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 512, -1).Draw(t, "text")

		sel := s.Select(snap, text)
		if len(text) > 0 {
			// Accepted payloads are bounded by the guard; the raw
			// floor adds only its own framing.
			if len(sel.Payload) > len(text)+DefaultHeaderOverhead {
				t.Fatalf("payload %d bytes for %d byte input", len(sel.Payload), len(text))
			}
		}

		got, dec, err := codec.Decode(sel.Payload, snap)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != text {
			t.Fatalf("round trip mismatch: %q != %q", got, text)
		}
		if dec.Method != sel.Method || dec.Fallback != sel.Fallback {
			t.Fatalf("decoded tag disagrees with selection")
		}
	})
}

func TestSelectIsDeterministicProperty(t *testing.T) {
	snap := testSnapshot(t)
	s := New()
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 256, -1).Draw(t, "text")

		a := s.Select(snap, text)
		b := s.Select(snap, text)
		if a.Method != b.Method || string(a.Payload) != string(b.Payload) {
			t.Fatalf("selection not deterministic for %q", text)
		}
	})
}
