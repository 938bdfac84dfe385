// Package selector chooses a compression method per message. It
// tries the methods in decreasing order of compression potential and
// enforces the never-worse guarantee: a candidate payload is only
// accepted when it is no larger than the original text plus a small
// fixed header allowance, and the raw encoding is always available
// as the floor.
package selector

import (
	"log/slog"

	"github.com/auraproto/aura/pkg/codec"
	"github.com/auraproto/aura/pkg/template"
)

// DefaultHeaderOverhead is the default size allowance H. A candidate
// payload of at most len(text)+H bytes is accepted. The raw encoding
// carries exactly one byte of framing, so any H >= 1 keeps the floor
// unconditionally acceptable.
const DefaultHeaderOverhead = 3

// Selection is the selector's decision for one message.
type Selection struct {
	Method   codec.Method
	Fallback bool
	Payload  []byte

	// TemplateID is the primary template for template methods:
	// the matched template for BinarySemantic and
	// TemplateDictionary, the first segment's template for
	// MultiTemplate. Zero-valued and HasTemplate false otherwise.
	TemplateID  uint32
	HasTemplate bool

	OriginalLen int
}

// Selector applies the method priority chain against a template
// store snapshot.
type Selector struct {
	headerOverhead int
	logger         *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithHeaderOverhead overrides the size-guard allowance H.
func WithHeaderOverhead(h int) Option {
	return func(s *Selector) { s.headerOverhead = h }
}

// WithLogger sets the selector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) { s.logger = logger }
}

// New returns a Selector with the default header overhead.
func New(opts ...Option) *Selector {
	s := &Selector{headerOverhead: DefaultHeaderOverhead}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Select picks the best accepted encoding for text against snap.
// Empty input deterministically selects the raw encoding. The
// fallback flag is set only when an earlier, preferred candidate was
// computed and then rejected by the size guard.
func (s *Selector) Select(snap *template.Snapshot, text string) Selection {
	origLen := len(text)
	if origLen == 0 {
		return Selection{
			Method:  codec.RawFallback,
			Payload: codec.EncodeRawFallback("", false),
		}
	}

	rejected := false
	budget := origLen + s.headerOverhead

	if m, ok := snap.Match(text); ok {
		payload := codec.EncodeBinarySemantic(m.Template.ID, m.Slots, false)
		if len(payload) <= budget {
			return Selection{
				Method:      codec.BinarySemantic,
				Payload:     payload,
				TemplateID:  m.Template.ID,
				HasTemplate: true,
				OriginalLen: origLen,
			}
		}
		rejected = true
		s.logger.Debug("candidate rejected by size guard",
			"method", codec.BinarySemantic.String(),
			"candidate_len", len(payload), "budget", budget)
	}

	if segs, ok := snap.Segments(text); ok && len(segs) <= codec.MaxSegments {
		payload := codec.EncodeMultiTemplate(segs, rejected)
		if len(payload) <= budget {
			return Selection{
				Method:      codec.MultiTemplate,
				Fallback:    rejected,
				Payload:     payload,
				TemplateID:  firstTemplateID(segs),
				HasTemplate: true,
				OriginalLen: origLen,
			}
		}
		rejected = true
		s.logger.Debug("candidate rejected by size guard",
			"method", codec.MultiTemplate.String(),
			"candidate_len", len(payload), "budget", budget)
	}

	if m, end, ok := snap.MatchPrefix(text); ok {
		payload := codec.EncodeTemplateDictionary(m.Template.ID, m.Slots, text[end:], rejected)
		if len(payload) <= budget {
			return Selection{
				Method:      codec.TemplateDictionary,
				Fallback:    rejected,
				Payload:     payload,
				TemplateID:  m.Template.ID,
				HasTemplate: true,
				OriginalLen: origLen,
			}
		}
		rejected = true
		s.logger.Debug("candidate rejected by size guard",
			"method", codec.TemplateDictionary.String(),
			"candidate_len", len(payload), "budget", budget)
	}

	return Selection{
		Method:      codec.RawFallback,
		Fallback:    rejected,
		Payload:     codec.EncodeRawFallback(text, rejected),
		OriginalLen: origLen,
	}
}

func firstTemplateID(segs []template.Segment) uint32 {
	for _, seg := range segs {
		if seg.IsTemplate() {
			return seg.Template.ID
		}
	}
	return 0
}
