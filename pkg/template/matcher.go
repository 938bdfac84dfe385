package template

import "sort"

// Match is a successful template match: the template plus the slot
// values extracted from the message, ordered by placeholder index.
type Match struct {
	Template *Template
	Slots    []string
}

// Segment is one piece of a segmented message: either a template
// match over [Start, End) or a literal gap.
type Segment struct {
	Start, End int

	// Template and Slots are set for template segments; Literal
	// holds the raw text for gap segments.
	Template *Template
	Slots    []string
	Literal  string
}

// IsTemplate reports whether the segment is a template match.
func (g Segment) IsTemplate() bool { return g.Template != nil }

// Match finds the best whole-message template match. Scoring prefers
// the largest literal skeleton (the most input explained without slot
// bytes), then the highest usage count, then the lowest id, which
// keeps results deterministic and reproducible. A successful match
// increments the template's usage counter.
func (s *Snapshot) Match(text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}

	var (
		best      Match
		bestSkel  = -1
		bestUsage uint64
		found     bool
	)
	for _, c := range s.ordered {
		slots, ok := c.match(text)
		if !ok {
			continue
		}
		usage := c.tmpl.UsageCount()
		switch {
		case c.skeletonLen > bestSkel:
		case c.skeletonLen == bestSkel && usage > bestUsage:
		case c.skeletonLen == bestSkel && usage == bestUsage && c.tmpl.ID < best.Template.ID:
		default:
			continue
		}
		best = Match{Template: c.tmpl, Slots: slots}
		bestSkel = c.skeletonLen
		bestUsage = usage
		found = true
	}
	if !found {
		return Match{}, false
	}
	best.Template.recordUse()
	return best, true
}

// MatchPrefix finds the template whose pattern matches the longest
// prefix of text, for the template+dictionary encoding. The remainder
// past the returned end offset is the caller's to encode. Does not
// count usage; the selector records use only when the candidate is
// accepted.
func (s *Snapshot) MatchPrefix(text string) (Match, int, bool) {
	var (
		best    Match
		bestEnd int
	)
	for _, c := range s.ordered {
		slots, end, ok := c.matchPrefix(text)
		if !ok || end >= len(text) {
			// Whole-text matches belong to Match, not here.
			continue
		}
		if end > bestEnd || (end == bestEnd && best.Template != nil && c.tmpl.ID < best.Template.ID) {
			best = Match{Template: c.tmpl, Slots: slots}
			bestEnd = end
		}
	}
	if bestEnd == 0 {
		return Match{}, 0, false
	}
	return best, bestEnd, true
}

// Segments splits text into an ordered, non-overlapping sequence of
// template matches and literal gaps. Overlap resolution prefers the
// earliest start, then the longest span. Returns false when no
// template matches anywhere, or the only cover is a single
// whole-message match (which BinarySemantic already handles).
func (s *Snapshot) Segments(text string) ([]Segment, bool) {
	type span struct {
		start, end int
		tmpl       *Template
		slots      []string
	}
	var spans []span

	for _, c := range s.ordered {
		for _, loc := range c.loose.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			segment := text[start:end]
			slots, ok := c.match(segment)
			if !ok {
				continue
			}
			spans = append(spans, span{start: start, end: end, tmpl: c.tmpl, slots: slots})
		}
	}
	if len(spans) == 0 {
		return nil, false
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start
		if li != lj {
			return li > lj
		}
		return spans[i].tmpl.ID < spans[j].tmpl.ID
	})

	var (
		segs       []Segment
		currentEnd int
		templates  int
	)
	for _, sp := range spans {
		if sp.start < currentEnd {
			continue
		}
		if sp.start > currentEnd {
			segs = append(segs, Segment{Start: currentEnd, End: sp.start, Literal: text[currentEnd:sp.start]})
		}
		segs = append(segs, Segment{Start: sp.start, End: sp.end, Template: sp.tmpl, Slots: sp.slots})
		templates++
		currentEnd = sp.end
	}
	if currentEnd < len(text) {
		segs = append(segs, Segment{Start: currentEnd, End: len(text), Literal: text[currentEnd:]})
	}

	if templates == 0 {
		return nil, false
	}
	if templates == 1 && len(segs) == 1 {
		return nil, false
	}
	return segs, true
}

// ExtractSlots re-runs a single template's matcher against text.
// Used by the accelerator to substitute fresh slot values on a cache
// hit without scanning the whole library.
func (s *Snapshot) ExtractSlots(id uint32, text string) ([]string, bool) {
	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return c.match(text)
}
