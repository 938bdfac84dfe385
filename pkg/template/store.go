package template

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Store holds the template library as an immutable snapshot behind an
// atomic pointer. Readers call Snapshot once per operation and work
// against a consistent view; writers (hot reload, discovery
// promotion) build a complete replacement snapshot and publish it
// with a single pointer swap. Reads never block on a concurrent
// reload. Usage counters live on the Template values themselves and
// are shared across snapshots, so counts survive a swap.
type Store struct {
	snap atomic.Pointer[Snapshot]

	// mu serializes writers only.
	mu sync.Mutex

	maxDiscovered int
	nextID        atomic.Uint32
	logger        *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxDiscovered bounds the discovered partition. When a
// replacement partition exceeds the bound, the lowest-usage templates
// are evicted first.
func WithMaxDiscovered(n int) StoreOption {
	return func(s *Store) { s.maxDiscovered = n }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

const defaultMaxDiscovered = 512

// NewStore builds a store seeded with the given core templates.
// Passing nil uses the built-in core library.
func NewStore(core []*Template, opts ...StoreOption) (*Store, error) {
	if core == nil {
		core = CoreTemplates()
	}
	s := &Store{
		maxDiscovered: defaultMaxDiscovered,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := buildSnapshot(1, core, nil)
	if err != nil {
		return nil, err
	}
	s.snap.Store(snap)
	s.nextID.Store(FirstDiscoveredID)
	return s, nil
}

// Snapshot returns the current immutable view. The returned value is
// safe to use for any number of operations; it simply may become
// stale after a hot reload.
func (s *Store) Snapshot() *Snapshot { return s.snap.Load() }

// Version returns the version of the current snapshot. The version
// increments on every discovered-partition replacement; cached
// decisions carry the version they were made under and are invalid
// once it changes.
func (s *Store) Version() uint64 { return s.snap.Load().version }

// AllocateID returns a fresh discovered-template id. Ids are never
// reused, even after eviction.
func (s *Store) AllocateID() uint32 { return s.nextID.Add(1) - 1 }

// ReplaceDiscovered atomically replaces the discovered partition.
// The core partition is untouched. Returns an error without touching
// the live snapshot when the replacement fails validation, so a bad
// store file or a bad promotion can never degrade the message path.
func (s *Store) ReplaceDiscovered(discovered []*Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snap.Load()

	for _, t := range discovered {
		if t.Source != SourceDiscovered {
			return fmt.Errorf("template %d: partition mismatch: %s in discovered set", t.ID, t.Source)
		}
		if t.ID < FirstDiscoveredID {
			return fmt.Errorf("template %d: discovered id below %d", t.ID, FirstDiscoveredID)
		}
	}

	discovered = s.evict(discovered)

	snap, err := buildSnapshot(current.version+1, current.coreTemplates(), discovered)
	if err != nil {
		return fmt.Errorf("building replacement snapshot: %w", err)
	}

	// Advance the allocator past every id we have ever observed.
	for _, t := range discovered {
		for {
			next := s.nextID.Load()
			if t.ID < next {
				break
			}
			if s.nextID.CompareAndSwap(next, t.ID+1) {
				break
			}
		}
	}

	s.snap.Store(snap)
	s.logger.Debug("discovered partition replaced",
		"version", snap.version, "discovered", len(discovered))
	return nil
}

// evict trims the discovered set to the configured bound, keeping the
// highest-usage templates. Ties break toward lower ids (older
// templates survive).
func (s *Store) evict(discovered []*Template) []*Template {
	if s.maxDiscovered <= 0 || len(discovered) <= s.maxDiscovered {
		return discovered
	}
	sorted := make([]*Template, len(discovered))
	copy(sorted, discovered)
	sort.Slice(sorted, func(i, j int) bool {
		ui, uj := sorted[i].UsageCount(), sorted[j].UsageCount()
		if ui != uj {
			return ui > uj
		}
		return sorted[i].ID < sorted[j].ID
	})
	evicted := len(sorted) - s.maxDiscovered
	s.logger.Info("evicting discovered templates", "count", evicted)
	return sorted[:s.maxDiscovered]
}

// Snapshot is an immutable, consistent view of the template library.
type Snapshot struct {
	version uint64

	byID map[uint32]*compiledTemplate
	// ordered holds core templates first, then discovered, each in
	// ascending id order. Deterministic iteration keeps matching
	// reproducible.
	ordered   []*compiledTemplate
	coreCount int
}

func buildSnapshot(version uint64, core, discovered []*Template) (*Snapshot, error) {
	snap := &Snapshot{
		version: version,
		byID:    make(map[uint32]*compiledTemplate, len(core)+len(discovered)),
	}

	add := func(ts []*Template) error {
		part := make([]*compiledTemplate, 0, len(ts))
		for _, t := range ts {
			if _, dup := snap.byID[t.ID]; dup {
				return fmt.Errorf("duplicate template id %d", t.ID)
			}
			c, err := compile(t)
			if err != nil {
				return err
			}
			snap.byID[t.ID] = c
			part = append(part, c)
		}
		sort.Slice(part, func(i, j int) bool { return part[i].tmpl.ID < part[j].tmpl.ID })
		snap.ordered = append(snap.ordered, part...)
		return nil
	}

	if err := add(core); err != nil {
		return nil, err
	}
	snap.coreCount = len(snap.ordered)
	if err := add(discovered); err != nil {
		return nil, err
	}
	return snap, nil
}

// Version returns the snapshot's version.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the total template count.
func (s *Snapshot) Len() int { return len(s.ordered) }

// Lookup returns the template with the given id.
func (s *Snapshot) Lookup(id uint32) (*Template, bool) {
	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return c.tmpl, true
}

// Templates returns all templates, core partition first.
func (s *Snapshot) Templates() []*Template {
	out := make([]*Template, len(s.ordered))
	for i, c := range s.ordered {
		out[i] = c.tmpl
	}
	return out
}

// Discovered returns the discovered partition.
func (s *Snapshot) Discovered() []*Template {
	out := make([]*Template, 0, len(s.ordered)-s.coreCount)
	for _, c := range s.ordered[s.coreCount:] {
		out = append(out, c.tmpl)
	}
	return out
}

func (s *Snapshot) coreTemplates() []*Template {
	out := make([]*Template, 0, s.coreCount)
	for _, c := range s.ordered[:s.coreCount] {
		out = append(out, c.tmpl)
	}
	return out
}
