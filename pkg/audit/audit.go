// Package audit implements the tamper-evident audit trail: four
// independent append-only streams, each protected by a keyed hash
// chain. Every stored line carries its record payload and the chain
// hash at that index, so verification can recompute the chain from
// the genesis value and name the first index where the file
// disagrees.
//
// The sink is an explicit capability object with a lifecycle: opened
// at startup, injected into the pipeline, flushed and closed at
// shutdown. Appends to one stream are serialized; appends to
// different streams proceed in parallel.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stream names one of the four audit streams.
type Stream uint8

const (
	// StreamMain records post-moderation content actually delivered.
	StreamMain Stream = iota
	// StreamAIGenerated records pre-moderation model output, kept
	// permanently.
	StreamAIGenerated
	// StreamMetadata records structured stats with no message
	// content.
	StreamMetadata
	// StreamSafety records flagged or blocked content with the
	// moderation action taken.
	StreamSafety

	streamCount
)

func (s Stream) String() string {
	switch s {
	case StreamMain:
		return "main"
	case StreamAIGenerated:
		return "ai-generated"
	case StreamMetadata:
		return "metadata-analytics"
	case StreamSafety:
		return "safety-alerts"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s Stream) filename() string { return s.String() + ".log" }

// Valid reports whether s names a real stream.
func (s Stream) Valid() bool { return s < streamCount }

// Sink errors.
var (
	ErrSinkClosed    = errors.New("audit sink closed")
	ErrUnknownStream = errors.New("unknown audit stream")
	// ErrSinkFailure wraps write failures in strict mode and queue
	// overflow in best-effort mode.
	ErrSinkFailure = errors.New("audit sink failure")
)

// DefaultPendingLimit bounds the best-effort retry queue per sink.
const DefaultPendingLimit = 1024

// Config configures a Sink.
type Config struct {
	// Dir holds the four stream files.
	Dir string
	// Secret keys the chain MAC. Any length; a 32-byte MAC key is
	// derived from it.
	Secret []byte
	// Strict selects compliance behavior on write failure: fail the
	// call instead of queueing for retry.
	Strict bool
	// PendingLimit bounds the best-effort retry queue. Zero means
	// DefaultPendingLimit.
	PendingLimit int
	Logger       *slog.Logger
}

// stream is the per-stream writer state. The mutex serializes
// appenders so the chain has a single well-defined order.
type stream struct {
	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	head  chainHash
	count uint64
}

type pendingWrite struct {
	stream  Stream
	payload []byte
}

// Sink is the audit trail's writer.
type Sink struct {
	dir     string
	key     [32]byte
	strict  bool
	logger  *slog.Logger
	streams [streamCount]*stream

	pending chan pendingWrite
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	dropped atomic.Uint64
	retried atomic.Uint64
}

// Open creates the sink, opening all four stream files in append
// mode and recovering each chain head from the existing file tail.
func Open(cfg Config) (*Sink, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := cfg.PendingLimit
	if limit <= 0 {
		limit = DefaultPendingLimit
	}

	s := &Sink{
		dir:     cfg.Dir,
		key:     deriveChainKey(cfg.Secret),
		strict:  cfg.Strict,
		logger:  logger,
		pending: make(chan pendingWrite, limit),
		stop:    make(chan struct{}),
	}
	for id := Stream(0); id < streamCount; id++ {
		st, err := s.openStream(id)
		if err != nil {
			s.closeStreams()
			return nil, err
		}
		s.streams[id] = st
	}
	if !s.strict {
		s.wg.Add(1)
		go s.retryLoop()
	}
	return s, nil
}

func (s *Sink) openStream(id Stream) (*stream, error) {
	path := filepath.Join(s.dir, id.filename())
	head, count, err := recoverChainHead(path)
	if err != nil {
		return nil, fmt.Errorf("audit: recover %s: %w", id, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", id, err)
	}
	return &stream{file: f, w: bufio.NewWriter(f), head: head, count: count}, nil
}

// recoverChainHead reads an existing stream file and returns the
// stored hash of its final line plus the line count. Restart trusts
// the stored tail; tampering is detected by Verify, not by append.
func recoverChainHead(path string) (chainHash, uint64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return genesis, 0, nil
	}
	if err != nil {
		return genesis, 0, err
	}
	head := genesis
	var count uint64
	for _, line := range splitLines(data) {
		_, stored, ok := splitRecordLine(line)
		if !ok {
			return genesis, 0, fmt.Errorf("malformed line %d", count)
		}
		head = stored
		count++
	}
	return head, count, nil
}

func splitLines(data []byte) []string {
	var lines []string
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}

// splitRecordLine separates a stored line into payload and chain
// hash at the final tab.
func splitRecordLine(line string) (payload string, stored chainHash, ok bool) {
	i := strings.LastIndexByte(line, '\t')
	if i < 0 {
		return "", chainHash{}, false
	}
	h, ok := parseChainHex(line[i+1:])
	if !ok {
		return "", chainHash{}, false
	}
	return line[:i], h, true
}

// Append adds one record to a stream. The payload is escaped to a
// single line, chained, and written as `payload \t hexhash`. In
// strict mode a write failure fails the call; otherwise the record
// is queued for background retry and Append succeeds.
func (s *Sink) Append(id Stream, payload []byte) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStream, uint8(id))
	}
	if s.closed.Load() {
		return ErrSinkClosed
	}
	err := s.append(id, payload)
	if err == nil || s.strict {
		return err
	}

	// Best effort: keep the record in the bounded pending queue.
	select {
	case s.pending <- pendingWrite{stream: id, payload: append([]byte(nil), payload...)}:
		s.logger.Warn("audit write queued for retry", "stream", id.String(), "error", err)
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Error("audit record dropped, retry queue full", "stream", id.String())
		return fmt.Errorf("%w: retry queue full", ErrSinkFailure)
	}
}

func (s *Sink) append(id Stream, payload []byte) error {
	st := s.streams[id]
	escaped := escapePayload(payload)

	st.mu.Lock()
	defer st.mu.Unlock()

	next := nextChain(s.key, st.head, escaped)
	if _, err := fmt.Fprintf(st.w, "%s\t%s\n", escaped, next.hex()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkFailure, id, err)
	}
	if err := st.w.Flush(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkFailure, id, err)
	}
	st.head = next
	st.count++
	return nil
}

func (s *Sink) retryLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.drainPending(true)
			return
		case <-ticker.C:
			s.drainPending(false)
		}
	}
}

// drainPending retries queued writes. Outside of shutdown a failed
// retry is requeued and the drain stops until the next tick; on the
// final shutdown drain failures are counted as dropped.
func (s *Sink) drainPending(final bool) {
	for {
		select {
		case p := <-s.pending:
			if err := s.append(p.stream, p.payload); err != nil {
				if final {
					s.dropped.Add(1)
					continue
				}
				select {
				case s.pending <- p:
				default:
					s.dropped.Add(1)
				}
				return
			}
			s.retried.Add(1)
		default:
			return
		}
	}
}

// Redact appends a tombstone entry marking an earlier record's
// content as erased. History is never rewritten: the chain stays
// intact and export substitutes the redaction marker.
func (s *Sink) Redact(id Stream, index uint64, reason string) error {
	payload, err := json.Marshal(tombstone{Tombstone: true, Redacts: index, Reason: reason})
	if err != nil {
		return fmt.Errorf("audit: encode tombstone: %w", err)
	}
	return s.Append(id, payload)
}

// Len returns the number of records appended to a stream.
func (s *Sink) Len(id Stream) uint64 {
	if !id.Valid() {
		return 0
	}
	st := s.streams[id]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count
}

// Dropped returns the number of records lost to queue overflow or
// failed shutdown drains in best-effort mode.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Strict reports whether the sink was opened in strict compliance
// mode.
func (s *Sink) Strict() bool { return s.strict }

// Close flushes and closes all streams. In best-effort mode the
// retry queue gets one final drain first.
func (s *Sink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	return s.closeStreams()
}

func (s *Sink) closeStreams() error {
	var firstErr error
	for _, st := range s.streams {
		if st == nil {
			continue
		}
		st.mu.Lock()
		if err := st.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := st.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		st.mu.Unlock()
	}
	return firstErr
}
