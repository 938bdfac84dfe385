package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Method identifies a payload encoding. Values are wire constants;
// changing them breaks payload compatibility. The order is the
// selector's priority order, by decreasing compression potential.
type Method uint8

const (
	// BinarySemantic is a single exact template match with all slots
	// filled: [template_id:varint][slot_count:1][slots...].
	BinarySemantic Method = 0
	// MultiTemplate is an ordered sequence of template segments and
	// literal gaps: [segment_count:1] then per-segment bodies.
	MultiTemplate Method = 1
	// TemplateDictionary is a prefix template match followed by a
	// dictionary-encoded remainder.
	TemplateDictionary Method = 2
	// RawFallback is the identity floor: the literal bytes, with no
	// framing beyond the tag. Always accepted.
	RawFallback Method = 3
)

// MaxSegments is the most segments a multi-template payload can
// carry; the wire format stores the count in one byte. Encoders must
// fall back to another method beyond this.
const MaxSegments = 255

// fallbackFlag is carried in the high bit of the method tag. It marks
// payloads produced after an earlier, preferred encoding was rejected
// by the never-worse size guard.
const fallbackFlag = 0x80

// String returns the method's metadata/audit name.
func (m Method) String() string {
	switch m {
	case BinarySemantic:
		return "binary_semantic"
	case MultiTemplate:
		return "multi_template"
	case TemplateDictionary:
		return "template_dictionary"
	case RawFallback:
		return "raw_fallback"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is a known wire method.
func (m Method) Valid() bool { return m <= RawFallback }

// UsesTemplate reports whether payloads of this method reference at
// least one template id.
func (m Method) UsesTemplate() bool { return m != RawFallback }

// Tag packs a method and the fallback flag into the payload's leading
// byte.
func Tag(m Method, fallback bool) byte {
	tag := byte(m)
	if fallback {
		tag |= fallbackFlag
	}
	return tag
}

// ParseTag splits a payload's leading byte into method and fallback
// flag.
func ParseTag(tag byte) (Method, bool, error) {
	m := Method(tag &^ fallbackFlag)
	if !m.Valid() {
		return 0, false, fmt.Errorf("%w: method tag 0x%02x", ErrMalformedPayload, tag)
	}
	return m, tag&fallbackFlag != 0, nil
}

// Wire format errors.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownTemplate  = errors.New("unknown template id")
	ErrEmptyPayload     = errors.New("empty payload")
)

// Multi-template segment kinds.
const (
	segmentTemplate = 0x00
	segmentLiteral  = 0x01
)

func appendUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func appendSlot(dst []byte, slot string) []byte {
	dst = appendUvarint(dst, uint64(len(slot)))
	return append(dst, slot...)
}

// reader walks a payload body with bounds checking.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated varint at offset %d", ErrMalformedPayload, r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedPayload, r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n uint64) ([]byte, error) {
	if uint64(len(r.buf)-r.pos) < n {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d, have %d",
			ErrMalformedPayload, n, r.pos, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) slot() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) done() bool { return r.pos == len(r.buf) }
