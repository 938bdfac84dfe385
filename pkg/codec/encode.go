package codec

import (
	"github.com/auraproto/aura/pkg/template"
)

// EncodeBinarySemantic encodes a single whole-message template match:
// [tag][template_id:varint][slot_count:1][len:varint slot bytes]...
// Zero-slot templates carry no slot section beyond the count byte.
func EncodeBinarySemantic(id uint32, slots []string, fallback bool) []byte {
	out := make([]byte, 0, 8)
	out = append(out, Tag(BinarySemantic, fallback))
	out = appendUvarint(out, uint64(id))
	out = append(out, byte(len(slots)))
	for _, slot := range slots {
		out = appendSlot(out, slot)
	}
	return out
}

// EncodeMultiTemplate encodes an ordered segment sequence. Template
// segments carry the template id and slots; literal gap segments
// carry raw bytes, so decoding reproduces the exact original text.
// Returns nil when the sequence exceeds MaxSegments; callers must
// fall back to another method.
func EncodeMultiTemplate(segs []template.Segment, fallback bool) []byte {
	if len(segs) > MaxSegments {
		return nil
	}
	out := make([]byte, 0, 16)
	out = append(out, Tag(MultiTemplate, fallback))
	out = append(out, byte(len(segs)))
	for _, seg := range segs {
		if seg.IsTemplate() {
			out = append(out, segmentTemplate)
			out = appendUvarint(out, uint64(seg.Template.ID))
			out = append(out, byte(len(seg.Slots)))
			for _, slot := range seg.Slots {
				out = appendSlot(out, slot)
			}
			continue
		}
		out = append(out, segmentLiteral)
		out = appendSlot(out, seg.Literal)
	}
	return out
}

// EncodeTemplateDictionary encodes a prefix template match plus a
// dictionary-compressed remainder:
// [tag][template_id:varint][slot_count:1][slots...]
// [remainder_len:varint][zstd bytes].
func EncodeTemplateDictionary(id uint32, slots []string, remainder string, fallback bool) []byte {
	out := make([]byte, 0, 16)
	out = append(out, Tag(TemplateDictionary, fallback))
	out = appendUvarint(out, uint64(id))
	out = append(out, byte(len(slots)))
	for _, slot := range slots {
		out = appendSlot(out, slot)
	}
	out = appendUvarint(out, uint64(len(remainder)))
	out = append(out, compressRemainder([]byte(remainder))...)
	return out
}

// EncodeRawFallback encodes the literal text with no template
// dependency: [tag][literal bytes]. The payload is delimited by the
// transport, so no length prefix is carried and the overhead is
// exactly one byte regardless of input size. This is the guaranteed
// floor; it is always accepted by the selector.
func EncodeRawFallback(text string, fallback bool) []byte {
	out := make([]byte, 0, len(text)+1)
	out = append(out, Tag(RawFallback, fallback))
	return append(out, text...)
}
