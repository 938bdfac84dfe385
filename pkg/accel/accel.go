// Package accel is the per-session conversation accelerator. It
// memoizes compression decisions keyed by a structural signature of
// the message, so repeated conversational patterns skip the full
// matcher and selector pipeline. The accelerator never changes what
// the pipeline produces, only how fast it produces it: a cache hit
// reconstructs a payload whose decoded text is byte-identical to the
// full pipeline's output.
package accel

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/auraproto/aura/pkg/codec"
	"github.com/auraproto/aura/pkg/selector"
	"github.com/auraproto/aura/pkg/template"
)

// DefaultSessionCapacity bounds each session's cache. Capacity trades
// memory per session for hit rate and is configurable.
const DefaultSessionCapacity = 256

// entry is one cached decision. Only methods whose payload can be
// reconstructed deterministically from the live text are cached:
// a template skeleton plus fresh slot values, or the raw identity
// encoding. Multi-template and dictionary results are recomputed.
type entry struct {
	sig          Signature
	method       codec.Method
	fallback     bool
	templateID   uint32
	storeVersion uint64
	hitCount     uint32
}

// sessionCache is an LRU over signatures, owned by one session. The
// pipeline serializes calls within a session, so the cache itself
// needs no lock; only the session registry does.
type sessionCache struct {
	order    *list.List
	bySig    map[Signature]*list.Element
	capacity int
}

func newSessionCache(capacity int) *sessionCache {
	return &sessionCache{
		order:    list.New(),
		bySig:    make(map[Signature]*list.Element, capacity),
		capacity: capacity,
	}
}

func (c *sessionCache) get(sig Signature) (*entry, bool) {
	el, ok := c.bySig[sig]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry), true
}

// put inserts or refreshes an entry and returns how many entries were
// displaced to stay within capacity.
func (c *sessionCache) put(e *entry) uint64 {
	if el, ok := c.bySig[e.sig]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return 0
	}
	c.bySig[e.sig] = c.order.PushFront(e)
	var evicted uint64
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.bySig, oldest.Value.(*entry).sig)
		evicted++
	}
	return evicted
}

func (c *sessionCache) remove(sig Signature) {
	if el, ok := c.bySig[sig]; ok {
		c.order.Remove(el)
		delete(c.bySig, sig)
	}
}

// Stats is a point-in-time snapshot of accelerator counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Accelerator manages the per-session caches.
type Accelerator struct {
	mu       sync.Mutex
	sessions map[string]*sessionCache
	capacity int
	logger   *slog.Logger

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Option configures an Accelerator.
type Option func(*Accelerator)

// WithSessionCapacity overrides the per-session LRU capacity.
func WithSessionCapacity(n int) Option {
	return func(a *Accelerator) {
		if n > 0 {
			a.capacity = n
		}
	}
}

// WithLogger sets the accelerator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accelerator) { a.logger = logger }
}

// New returns an Accelerator with the default session capacity.
func New(opts ...Option) *Accelerator {
	a := &Accelerator{
		sessions: make(map[string]*sessionCache),
		capacity: DefaultSessionCapacity,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

func (a *Accelerator) session(id string) *sessionCache {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.sessions[id]
	if !ok {
		c = newSessionCache(a.capacity)
		a.sessions[id] = c
	}
	return c
}

// Lookup checks the session's cache for a decision covering text. On
// a hit it reconstructs the payload against the current snapshot and
// returns a complete selection; on a miss the caller runs the full
// selector and calls Record. Entries recorded against an older store
// version are dropped at lookup time, which is how a hot reload that
// retires a template id invalidates stale decisions everywhere.
func (a *Accelerator) Lookup(sessionID, text string, snap *template.Snapshot) (selector.Selection, bool) {
	c := a.session(sessionID)
	sig := signature(text)

	e, ok := c.get(sig)
	if !ok {
		a.misses.Add(1)
		return selector.Selection{}, false
	}
	if e.storeVersion != snap.Version() {
		c.remove(sig)
		a.evictions.Add(1)
		a.misses.Add(1)
		return selector.Selection{}, false
	}

	sel := selector.Selection{
		Method:      e.method,
		Fallback:    e.fallback,
		OriginalLen: len(text),
	}
	switch e.method {
	case codec.BinarySemantic:
		slots, ok := snap.ExtractSlots(e.templateID, text)
		if !ok {
			// Same signature but the cached template no longer
			// covers this exact text. Treat as a miss.
			c.remove(sig)
			a.evictions.Add(1)
			a.misses.Add(1)
			return selector.Selection{}, false
		}
		sel.Payload = codec.EncodeBinarySemantic(e.templateID, slots, e.fallback)
		sel.TemplateID = e.templateID
		sel.HasTemplate = true
	case codec.RawFallback:
		sel.Payload = codec.EncodeRawFallback(text, e.fallback)
	default:
		c.remove(sig)
		a.misses.Add(1)
		return selector.Selection{}, false
	}

	e.hitCount++
	a.hits.Add(1)
	return sel, true
}

// Record stores a selector decision for future lookups in the same
// session. Only reconstructible methods are cached; recording any
// other method is a no-op.
func (a *Accelerator) Record(sessionID, text string, sel selector.Selection, storeVersion uint64) {
	if sel.Method != codec.BinarySemantic && sel.Method != codec.RawFallback {
		return
	}
	c := a.session(sessionID)
	evicted := c.put(&entry{
		sig:          signature(text),
		method:       sel.Method,
		fallback:     sel.Fallback,
		templateID:   sel.TemplateID,
		storeVersion: storeVersion,
	})
	a.evictions.Add(evicted)
}

// DropSession releases a session's cache, typically when the session
// closes.
func (a *Accelerator) DropSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// Stats returns the accelerator's counters.
func (a *Accelerator) Stats() Stats {
	return Stats{
		Hits:      a.hits.Load(),
		Misses:    a.misses.Load(),
		Evictions: a.evictions.Load(),
	}
}
