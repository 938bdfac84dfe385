// Package metadata builds and parses the fixed 6-byte side-channel
// record that accompanies every compressed payload. Consumers that
// only classify or route traffic read these 6 bytes and never touch
// the payload body.
package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/auraproto/aura/pkg/codec"
)

// FormatVersion is the first byte of every entry. Bump only on a
// layout change.
const FormatVersion = 1

// EntrySize is the exact encoded size. Entries are never shorter or
// longer.
const EntrySize = 6

// Entry layout: [version:1][method_tag:1][id_or_intent:2 LE]
// [ratio_class:1][routing_hint:1].
type Entry [EntrySize]byte

// RatioClass buckets the compression ratio (original / payload) into
// four coarse classes.
type RatioClass uint8

const (
	// RatioExcellent is 8:1 or better.
	RatioExcellent RatioClass = 0
	// RatioGood is between 4:1 and 8:1.
	RatioGood RatioClass = 1
	// RatioModerate is between 1:1 and 4:1.
	RatioModerate RatioClass = 2
	// RatioNone is 1:1 or worse, including every fallback payload.
	RatioNone RatioClass = 3
)

func (c RatioClass) String() string {
	switch c {
	case RatioExcellent:
		return "excellent"
	case RatioGood:
		return "good"
	case RatioModerate:
		return "moderate"
	case RatioNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// classifyRatio buckets originalLen/payloadLen without floating point.
func classifyRatio(originalLen, payloadLen int) RatioClass {
	if payloadLen <= 0 || originalLen < payloadLen {
		return RatioNone
	}
	switch {
	case originalLen >= 8*payloadLen:
		return RatioExcellent
	case originalLen >= 4*payloadLen:
		return RatioGood
	case originalLen > payloadLen:
		return RatioModerate
	default:
		return RatioNone
	}
}

// intentClass quantizes a non-template payload into a coarse class
// derived from the method and the original length bucket, so the id
// field still says something useful when no template id exists.
func intentClass(method codec.Method, originalLen int) uint16 {
	bucket := uint16(0)
	switch {
	case originalLen <= 64:
		bucket = 0
	case originalLen <= 256:
		bucket = 1
	case originalLen <= 1024:
		bucket = 2
	default:
		bucket = 3
	}
	return uint16(method)<<8 | bucket
}

// Emit derives an entry from a selection result. It is a pure
// function of its arguments: two identical selections produce
// identical entries. The routing hint is caller-supplied and passes
// through uninterpreted.
func Emit(method codec.Method, fallback bool, templateID uint32, originalLen, payloadLen int, routingHint byte) Entry {
	var e Entry
	e[0] = FormatVersion
	e[1] = codec.Tag(method, fallback)
	id := uint16(templateID)
	if !method.UsesTemplate() {
		id = intentClass(method, originalLen)
	}
	binary.LittleEndian.PutUint16(e[2:4], id)
	e[4] = byte(classifyRatio(originalLen, payloadLen))
	e[5] = routingHint
	return e
}

// Version returns the entry's format version byte.
func (e Entry) Version() uint8 { return e[0] }

// Method returns the compression method recorded in the entry.
func (e Entry) Method() codec.Method {
	m, _, _ := codec.ParseTag(e[1])
	return m
}

// Fallback reports whether the payload was produced after a
// preferred encoding was rejected by the size guard.
func (e Entry) Fallback() bool {
	_, fb, _ := codec.ParseTag(e[1])
	return fb
}

// TemplateID returns the template id for template methods, or the
// quantized intent class for RawFallback.
func (e Entry) TemplateID() uint16 { return binary.LittleEndian.Uint16(e[2:4]) }

// Ratio returns the coarse compression ratio class.
func (e Entry) Ratio() RatioClass { return RatioClass(e[4]) }

// RoutingHint returns the caller-supplied opaque routing byte.
func (e Entry) RoutingHint() byte { return e[5] }

// Bytes returns the entry as a byte slice. The result is a copy.
func (e Entry) Bytes() []byte { return e[:] }

// Parse validates and decodes a serialized entry.
func Parse(b []byte) (Entry, error) {
	var e Entry
	if len(b) != EntrySize {
		return e, fmt.Errorf("metadata entry must be %d bytes, got %d", EntrySize, len(b))
	}
	copy(e[:], b)
	if e[0] != FormatVersion {
		return Entry{}, fmt.Errorf("unsupported metadata version %d", e[0])
	}
	if _, _, err := codec.ParseTag(e[1]); err != nil {
		return Entry{}, fmt.Errorf("metadata entry: %w", err)
	}
	return e, nil
}
