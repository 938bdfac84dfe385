package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var slotPlaceholderRe = regexp.MustCompile(`\{(\d+)\}`)

// compiledTemplate pairs a template with its matcher data structures.
// Patterns are compiled exactly once, at registration time.
type compiledTemplate struct {
	tmpl *Template

	// full matches the entire message, prefix is anchored at the
	// start only, and loose matches anywhere (used for segmenting).
	full   *regexp.Regexp
	prefix *regexp.Regexp
	loose  *regexp.Regexp

	// slotOrder lists placeholder indices in order of appearance;
	// groupSlot maps capture group number (1-based) to placeholder
	// index. A placeholder may appear more than once.
	slotOrder []int
	groupSlot []int

	// skeletonLen is the number of literal bytes in the pattern,
	// used for match scoring.
	skeletonLen int
}

func slotExpr(st SlotType) string {
	switch st {
	case SlotNumber:
		return `([0-9][0-9.,]*)`
	case SlotCode:
		return `((?s).+?)`
	default:
		return `((?s).+?)`
	}
}

// compile builds the matcher structures for a template. It fails when
// the pattern references a placeholder index with no declared slot
// type, or declares slots the pattern never uses.
func compile(t *Template) (*compiledTemplate, error) {
	locs := slotPlaceholderRe.FindAllStringSubmatchIndex(t.Pattern, -1)

	var (
		body        strings.Builder
		slotOrder   []int
		groupSlot   []int
		seen        = make(map[int]bool)
		skeletonLen int
		prev        int
	)

	for _, loc := range locs {
		literal := t.Pattern[prev:loc[0]]
		body.WriteString(regexp.QuoteMeta(literal))
		skeletonLen += len(literal)

		idx, err := strconv.Atoi(t.Pattern[loc[2]:loc[3]])
		if err != nil {
			return nil, fmt.Errorf("template %d: bad placeholder %q", t.ID, t.Pattern[loc[0]:loc[1]])
		}
		if idx >= len(t.SlotTypes) {
			return nil, fmt.Errorf("template %d: placeholder {%d} has no slot type (declared %d)", t.ID, idx, len(t.SlotTypes))
		}
		if !seen[idx] {
			seen[idx] = true
			slotOrder = append(slotOrder, idx)
		}
		body.WriteString(slotExpr(t.SlotTypes[idx]))
		groupSlot = append(groupSlot, idx)
		prev = loc[1]
	}
	tail := t.Pattern[prev:]
	body.WriteString(regexp.QuoteMeta(tail))
	skeletonLen += len(tail)

	if len(seen) != len(t.SlotTypes) {
		return nil, fmt.Errorf("template %d: %d slot types declared but pattern uses %d", t.ID, len(t.SlotTypes), len(seen))
	}

	full, err := regexp.Compile(`\A` + body.String() + `\z`)
	if err != nil {
		return nil, fmt.Errorf("template %d: compile: %w", t.ID, err)
	}
	prefix, err := regexp.Compile(`\A` + body.String())
	if err != nil {
		return nil, fmt.Errorf("template %d: compile prefix: %w", t.ID, err)
	}
	loose, err := regexp.Compile(body.String())
	if err != nil {
		return nil, fmt.Errorf("template %d: compile loose: %w", t.ID, err)
	}

	return &compiledTemplate{
		tmpl:        t,
		full:        full,
		prefix:      prefix,
		loose:       loose,
		slotOrder:   slotOrder,
		groupSlot:   groupSlot,
		skeletonLen: skeletonLen,
	}, nil
}

// slotsFromGroups converts regexp capture groups into slot values
// ordered by placeholder index. For repeated placeholders the first
// occurrence wins; Format-based verification catches the case where
// occurrences captured different text.
func (c *compiledTemplate) slotsFromGroups(groups []string) []string {
	slots := make([]string, len(c.tmpl.SlotTypes))
	filled := make([]bool, len(c.tmpl.SlotTypes))
	for g, idx := range c.groupSlot {
		if g >= len(groups) {
			break
		}
		if !filled[idx] {
			slots[idx] = groups[g]
			filled[idx] = true
		}
	}
	return slots
}

// match returns slot values when text matches the full pattern, with
// the reconstruction verified byte for byte.
func (c *compiledTemplate) match(text string) ([]string, bool) {
	groups := c.full.FindStringSubmatch(text)
	if groups == nil {
		return nil, false
	}
	slots := c.slotsFromGroups(groups[1:])
	if Format(c.tmpl.Pattern, slots) != text {
		return nil, false
	}
	return slots, true
}

// matchPrefix returns slot values and the matched prefix length when
// the pattern matches at the start of text.
func (c *compiledTemplate) matchPrefix(text string) ([]string, int, bool) {
	loc := c.prefix.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, 0, false
	}
	groups := make([]string, len(c.groupSlot))
	for g := range c.groupSlot {
		start, end := loc[2*(g+1)], loc[2*(g+1)+1]
		if start < 0 {
			continue
		}
		groups[g] = text[start:end]
	}
	slots := c.slotsFromGroups(groups)
	end := loc[1]
	if Format(c.tmpl.Pattern, slots) != text[:end] {
		return nil, 0, false
	}
	return slots, end, true
}

// Format expands a pattern with the given slot values. Placeholders
// with no corresponding value expand to the empty string.
func Format(pattern string, slots []string) string {
	return slotPlaceholderRe.ReplaceAllStringFunc(pattern, func(ph string) string {
		idx, err := strconv.Atoi(ph[1 : len(ph)-1])
		if err != nil || idx >= len(slots) {
			return ""
		}
		return slots[idx]
	})
}
