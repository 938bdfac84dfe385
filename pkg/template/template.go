package template

import (
	"fmt"
	"sync/atomic"
	"time"
)

// SlotType describes the class of text a template slot accepts. Slot
// types are compiled into the matcher when a template is registered,
// so matching never re-parses patterns per message.
type SlotType uint8

const (
	// SlotText accepts any non-empty span, including newlines.
	SlotText SlotType = iota
	// SlotNumber accepts numeric spans (digits with separators).
	SlotNumber
	// SlotCode accepts code spans, typically the body of a fenced block.
	SlotCode
)

// String returns the store-file name of the slot type.
func (st SlotType) String() string {
	switch st {
	case SlotText:
		return "text"
	case SlotNumber:
		return "number"
	case SlotCode:
		return "code"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(st))
	}
}

// ParseSlotType parses a slot type from its store-file name.
func ParseSlotType(name string) (SlotType, error) {
	switch name {
	case "text":
		return SlotText, nil
	case "number":
		return SlotNumber, nil
	case "code":
		return SlotCode, nil
	default:
		return 0, fmt.Errorf("unknown slot type: %q", name)
	}
}

// Source identifies which store partition a template belongs to.
type Source uint8

const (
	// SourceCore marks curated templates that are never evicted.
	SourceCore Source = iota
	// SourceDiscovered marks templates promoted by the discovery
	// engine. The discovered partition is bounded and evictable.
	SourceDiscovered
)

func (s Source) String() string {
	if s == SourceCore {
		return "core"
	}
	return "discovered"
}

// ParseSource parses a partition name from the store file.
func ParseSource(name string) (Source, error) {
	switch name {
	case "core":
		return SourceCore, nil
	case "discovered":
		return SourceDiscovered, nil
	default:
		return 0, fmt.Errorf("unknown template source: %q", name)
	}
}

// Template is a reusable message skeleton with typed slot positions.
// The pattern uses positional placeholders ({0}, {1}, ...) and
// SlotTypes holds one entry per placeholder index. A template is
// immutable once it has an id; the usage counter is the only mutable
// field and is updated atomically on each successful match.
type Template struct {
	ID        uint32
	Pattern   string
	SlotTypes []SlotType
	Source    Source
	CreatedAt time.Time

	usage atomic.Uint64
}

// New constructs a template. The initial usage count is zero.
func New(id uint32, pattern string, slotTypes []SlotType, source Source) *Template {
	return &Template{
		ID:        id,
		Pattern:   pattern,
		SlotTypes: slotTypes,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// SlotCount returns the number of declared slots.
func (t *Template) SlotCount() int { return len(t.SlotTypes) }

// UsageCount returns the current match count.
func (t *Template) UsageCount() uint64 { return t.usage.Load() }

// recordUse increments the usage counter. Safe under concurrent
// increments from many sessions; not guarded by any store lock.
func (t *Template) recordUse() { t.usage.Add(1) }

// setUsage seeds the counter when loading from a store file.
func (t *Template) setUsage(n uint64) { t.usage.Store(n) }

// text slots everywhere unless stated otherwise.
func textSlots(n int) []SlotType {
	slots := make([]SlotType, n)
	for i := range slots {
		slots[i] = SlotText
	}
	return slots
}

// coreDef is a compact literal form for the built-in library.
type coreDef struct {
	id      uint32
	pattern string
	slots   []SlotType
}

var coreDefs = []coreDef{
	// Short acknowledgements.
	{0, "Yes", nil},
	{1, "No", nil},
	{2, "I don't know", nil},
	{3, "I'm not sure", nil},
	{4, "That's correct", nil},
	{5, "That's incorrect", nil},

	// Limitations and abilities.
	{20, "I don't have access to {0}.", textSlots(1)},
	{21, "I don't have access to {0}. {1}", textSlots(2)},
	{22, "I cannot {0}.", textSlots(1)},
	{23, "I'm unable to {0}.", textSlots(1)},
	{25, "I can help with {0}.", textSlots(1)},
	{26, "I can help you {0}.", textSlots(1)},
	{28, "Yes, I can help with that!", nil},
	{29, "Yes, I can help with that. What specific {0} would you like to know more about?", textSlots(1)},

	// Quantities.
	{50, "The answer is {0}.", []SlotType{SlotNumber}},
	{51, "There are {0} {1}.", []SlotType{SlotNumber, SlotText}},
	{52, "I found {0} results.", []SlotType{SlotNumber}},
	{53, "I found {0} results for {1}.", []SlotType{SlotNumber, SlotText}},

	// Facts and definitions.
	{40, "{0} is {1}.", textSlots(2)},
	{41, "{0} are {1}.", textSlots(2)},
	{42, "The {0} is {1}.", textSlots(2)},
	{44, "The {0} of {1} is {2}.", textSlots(3)},
	{45, "{0} means {1}.", textSlots(2)},
	{46, "{0} refers to {1}.", textSlots(2)},

	// Questions.
	{60, "What {0}?", textSlots(1)},
	{61, "Why {0}?", textSlots(1)},
	{62, "How {0}?", textSlots(1)},
	{65, "Can you {0}?", textSlots(1)},
	{68, "Could you clarify {0}?", textSlots(1)},
	{69, "What specific {0} would you like to know more about?", textSlots(1)},

	// Instructions and recommendations.
	{70, "To {0}, {1}.", textSlots(2)},
	{71, "To {0}, use {1}.", textSlots(2)},
	{72, "To {0}, use {1}: `{2}`", []SlotType{SlotText, SlotText, SlotCode}},
	{73, "You can {0} by {1}.", textSlots(2)},
	{75, "I recommend {0}.", textSlots(1)},
	{78, "To {0}, I recommend: {1}", textSlots(2)},

	// Explanations.
	{90, "{0} works by {1}.", textSlots(2)},
	{91, "{0} is used for {1}.", textSlots(2)},
	{92, "The {0} of {1} is {2} because {3}.", textSlots(4)},
	{93, "{0} because {1}.", textSlots(2)},

	// Code examples.
	{100, "```{0}\n{1}\n```", []SlotType{SlotText, SlotCode}},
	{101, "Here's an example: `{0}`", []SlotType{SlotCode}},
	{102, "Here's how to {0}:\n\n```{1}\n{2}\n```", []SlotType{SlotText, SlotText, SlotCode}},

	// Lists and enumerations.
	{110, "Common {0} include: {1}.", textSlots(2)},
	{111, "The main {0} are: {1}.", textSlots(2)},
	{112, "Examples include: {0}.", textSlots(1)},

	// Comparisons.
	{120, "The main {0} between {1} are: {2}", textSlots(3)},
	{123, "{0} is similar to {1}.", textSlots(2)},
	{124, "{0} differs from {1} in {2}.", textSlots(3)},
	{125, "Unlike {0}, {1} {2}.", textSlots(3)},
}

// CoreTemplates returns a fresh copy of the curated core library.
// Core ids occupy the range below FirstDiscoveredID and are never
// evicted or reassigned.
func CoreTemplates() []*Template {
	out := make([]*Template, 0, len(coreDefs))
	for _, d := range coreDefs {
		out = append(out, New(d.id, d.pattern, d.slots, SourceCore))
	}
	return out
}

// FirstDiscoveredID is the lowest id the store allocates for
// discovered templates. Everything below is reserved for the core set.
const FirstDiscoveredID uint32 = 128
