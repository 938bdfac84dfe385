package codec

import (
	"fmt"
	"math"
	"strings"

	"github.com/auraproto/aura/pkg/template"
)

// Decoded describes what a payload contained, for metadata and audit
// consumers that need more than the reconstructed text.
type Decoded struct {
	Method      Method
	Fallback    bool
	TemplateIDs []uint32
}

// Decode reconstructs the original message from a payload against the
// given store snapshot. Decoding is strict: trailing bytes, unknown
// template ids, and slot counts that disagree with the template all
// fail with a wrapped sentinel from this package.
func Decode(payload []byte, snap *template.Snapshot) (string, Decoded, error) {
	if len(payload) == 0 {
		return "", Decoded{}, ErrEmptyPayload
	}
	method, fallback, err := ParseTag(payload[0])
	if err != nil {
		return "", Decoded{}, err
	}
	dec := Decoded{Method: method, Fallback: fallback}
	r := &reader{buf: payload, pos: 1}

	var text string
	switch method {
	case BinarySemantic:
		text, err = decodeTemplateBody(r, snap, &dec)
	case MultiTemplate:
		text, err = decodeMulti(r, snap, &dec)
	case TemplateDictionary:
		text, err = decodeDictionary(r, snap, &dec)
	case RawFallback:
		text = string(r.buf[r.pos:])
		r.pos = len(r.buf)
	}
	if err != nil {
		return "", Decoded{}, err
	}
	if !r.done() {
		return "", Decoded{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(r.buf)-r.pos)
	}
	return text, dec, nil
}

// decodeTemplateBody reads [template_id:varint][slot_count:1][slots...]
// and expands the template. Shared by the binary-semantic body, each
// multi-template segment, and the dictionary prefix.
func decodeTemplateBody(r *reader, snap *template.Snapshot, dec *Decoded) (string, error) {
	id, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if id > math.MaxUint32 {
		return "", fmt.Errorf("%w: template id %d out of range", ErrMalformedPayload, id)
	}
	tmpl, ok := snap.Lookup(uint32(id))
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownTemplate, id)
	}
	count, err := r.byte()
	if err != nil {
		return "", err
	}
	if int(count) != len(tmpl.SlotTypes) {
		return "", fmt.Errorf("%w: template %d wants %d slots, payload has %d",
			ErrMalformedPayload, id, len(tmpl.SlotTypes), count)
	}
	slots := make([]string, count)
	for i := range slots {
		if slots[i], err = r.slot(); err != nil {
			return "", err
		}
	}
	dec.TemplateIDs = append(dec.TemplateIDs, uint32(id))
	return template.Format(tmpl.Pattern, slots), nil
}

func decodeMulti(r *reader, snap *template.Snapshot, dec *Decoded) (string, error) {
	count, err := r.byte()
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("%w: multi-template payload with no segments", ErrMalformedPayload)
	}
	var b strings.Builder
	for i := 0; i < int(count); i++ {
		kind, err := r.byte()
		if err != nil {
			return "", err
		}
		switch kind {
		case segmentTemplate:
			part, err := decodeTemplateBody(r, snap, dec)
			if err != nil {
				return "", err
			}
			b.WriteString(part)
		case segmentLiteral:
			lit, err := r.slot()
			if err != nil {
				return "", err
			}
			b.WriteString(lit)
		default:
			return "", fmt.Errorf("%w: segment kind 0x%02x", ErrMalformedPayload, kind)
		}
	}
	return b.String(), nil
}

func decodeDictionary(r *reader, snap *template.Snapshot, dec *Decoded) (string, error) {
	prefix, err := decodeTemplateBody(r, snap, dec)
	if err != nil {
		return "", err
	}
	origLen, err := r.uvarint()
	if err != nil {
		return "", err
	}
	compressed := r.buf[r.pos:]
	r.pos = len(r.buf)
	remainder, err := decompressRemainder(compressed, origLen)
	if err != nil {
		return "", err
	}
	return prefix + string(remainder), nil
}
