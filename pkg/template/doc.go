// Package template implements the versioned template store and
// matcher at the base of the compression pipeline.
//
// The store is partitioned into a curated core set, which is never
// evicted, and a discovered set grown by the discovery engine. All
// reads go through immutable snapshots published with an atomic
// pointer swap, so matching never blocks on a hot reload and no
// reader ever observes a half-updated library. Template patterns are
// compiled to regular expressions once, at registration time.
package template
