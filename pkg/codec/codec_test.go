package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/auraproto/aura/pkg/template"
)

func testSnapshot(t *testing.T) *template.Snapshot {
	t.Helper()
	store, err := template.NewStore(template.CoreTemplates())
	require.NoError(t, err)
	return store.Snapshot()
}

func TestTagRoundTrip(t *testing.T) {
	for _, m := range []Method{BinarySemantic, MultiTemplate, TemplateDictionary, RawFallback} {
		for _, fb := range []bool{false, true} {
			method, fallback, err := ParseTag(Tag(m, fb))
			require.NoError(t, err)
			assert.Equal(t, m, method)
			assert.Equal(t, fb, fallback)
		}
	}
}

func TestParseTagRejectsUnknownMethod(t *testing.T) {
	_, _, err := ParseTag(0x07)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestBinarySemanticRoundTrip(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that. What specific topic would you like to know more about?"

	m, ok := snap.Match(text)
	require.True(t, ok)

	payload := EncodeBinarySemantic(m.Template.ID, m.Slots, false)
	got, dec, err := Decode(payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
	assert.Equal(t, BinarySemantic, dec.Method)
	assert.False(t, dec.Fallback)
	assert.Equal(t, []uint32{m.Template.ID}, dec.TemplateIDs)
}

func TestBinarySemanticZeroSlots(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that!"

	m, ok := snap.Match(text)
	require.True(t, ok)
	require.Empty(t, m.Slots)

	payload := EncodeBinarySemantic(m.Template.ID, nil, false)
	got, _, err := Decode(payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestMultiTemplateRoundTrip(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that! Also unrelated filler text here. Yes, I can help with that!"

	segs, ok := snap.Segments(text)
	require.True(t, ok)

	payload := EncodeMultiTemplate(segs, false)
	got, dec, err := Decode(payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
	assert.Equal(t, MultiTemplate, dec.Method)
	assert.Len(t, dec.TemplateIDs, 2)
}

func TestTemplateDictionaryRoundTrip(t *testing.T) {
	snap := testSnapshot(t)
	remainder := " Beyond the template prefix there is a long free-form tail. " +
		"It repeats itself so the dictionary stage has something to chew on. " +
		"It repeats itself so the dictionary stage has something to chew on."
	text := "Yes, I can help with that!" + remainder

	m, end, ok := snap.MatchPrefix(text)
	require.True(t, ok)

	payload := EncodeTemplateDictionary(m.Template.ID, m.Slots, text[end:], false)
	got, dec, err := Decode(payload, snap)
	require.NoError(t, err)
	assert.Equal(t, text, got)
	assert.Equal(t, TemplateDictionary, dec.Method)
}

func TestRawFallbackRoundTrip(t *testing.T) {
	snap := testSnapshot(t)
	for _, text := range []string{"", "x", "completely novel text \x00\xff with binary noise"} {
		payload := EncodeRawFallback(text, true)
		got, dec, err := Decode(payload, snap)
		require.NoError(t, err)
		assert.Equal(t, text, got)
		assert.Equal(t, RawFallback, dec.Method)
		assert.True(t, dec.Fallback)
		assert.Empty(t, dec.TemplateIDs)
	}
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, _, err := Decode(nil, testSnapshot(t))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestDecodeRejectsUnknownTemplate(t *testing.T) {
	snap := testSnapshot(t)
	payload := EncodeBinarySemantic(9999, nil, false)
	_, _, err := Decode(payload, snap)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	snap := testSnapshot(t)
	m, ok := snap.Match("Yes, I can help with that!")
	require.True(t, ok)

	payload := append(EncodeBinarySemantic(m.Template.ID, nil, false), 0x00)
	_, _, err := Decode(payload, snap)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeRejectsTruncation(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that. What specific topic would you like to know more about?"
	m, ok := snap.Match(text)
	require.True(t, ok)

	full := EncodeBinarySemantic(m.Template.ID, m.Slots, false)
	for n := 1; n < len(full); n++ {
		_, _, err := Decode(full[:n], snap)
		assert.Error(t, err, "prefix of %d bytes", n)
	}
}

func TestDecodeRejectsOutOfRangeTemplateID(t *testing.T) {
	snap := testSnapshot(t)
	payload := []byte{Tag(BinarySemantic, false)}
	payload = appendUvarint(payload, uint64(1)<<40)
	payload = append(payload, 0x00)
	_, _, err := Decode(payload, snap)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRawFallbackOverheadIsOneByte(t *testing.T) {
	for _, size := range []int{0, 1, 200, 16384, 1 << 20} {
		text := strings.Repeat("q", size)
		payload := EncodeRawFallback(text, false)
		assert.Equal(t, size+1, len(payload))
	}
}

func TestEncodeMultiTemplateRefusesOversizedSequence(t *testing.T) {
	segs := make([]template.Segment, MaxSegments+1)
	for i := range segs {
		segs[i] = template.Segment{Literal: "x"}
	}
	assert.Nil(t, EncodeMultiTemplate(segs, false))
}

func TestDecodeRejectsSlotCountMismatch(t *testing.T) {
	snap := testSnapshot(t)
	text := "Yes, I can help with that. What specific topic would you like to know more about?"
	m, ok := snap.Match(text)
	require.True(t, ok)

	// One slot too many for the template's declared shape.
	payload := EncodeBinarySemantic(m.Template.ID, append(m.Slots, "extra"), false)
	_, _, err := Decode(payload, snap)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRawFallbackRoundTripProperty(t *testing.T) {
	snap := testSnapshot(t)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		fallback := rapid.Bool().Draw(t, "fallback")

		payload := EncodeRawFallback(text, fallback)
		got, dec, err := Decode(payload, snap)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != text {
			t.Fatalf("round trip mismatch: %q != %q", got, text)
		}
		if dec.Fallback != fallback {
			t.Fatalf("fallback flag lost")
		}
	})
}

func TestDecodeNeverPanicsProperty(t *testing.T) {
	snap := testSnapshot(t)
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload")
		// Arbitrary bytes must decode or fail cleanly, never panic.
		_, _, _ = Decode(payload, snap)
	})
}
