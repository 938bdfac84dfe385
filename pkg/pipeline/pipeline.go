// Package pipeline wires the compression core together: accelerator
// lookup, method selection, metadata emission, and the mandatory
// audit side effects. It is the surface outer transports call.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/auraproto/aura/pkg/accel"
	"github.com/auraproto/aura/pkg/audit"
	"github.com/auraproto/aura/pkg/codec"
	"github.com/auraproto/aura/pkg/metadata"
	"github.com/auraproto/aura/pkg/selector"
	"github.com/auraproto/aura/pkg/template"
)

const tracerName = "aura.pipeline"

// defaultRecentLimit bounds the in-memory corpus of recent messages
// retained for background template discovery.
const defaultRecentLimit = 4096

// Result is the outcome of one compress call.
type Result struct {
	Payload  []byte
	Metadata metadata.Entry
	Method   codec.Method
	Fallback bool
	CacheHit bool
}

// Pipeline is the compression core's entry point. Construct with
// New; the zero value is not usable.
type Pipeline struct {
	store    *template.Store
	selector *selector.Selector
	accel    *accel.Accelerator
	sink     *audit.Sink
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	// missNanos is an exponential moving average of full-pipeline
	// compress latency, used to report per-hit speedup in the
	// analytics stream.
	missNanos atomic.Int64

	// recent is a ring of the latest compressed messages, the corpus
	// the discovery loop mines.
	recentMu    sync.Mutex
	recent      []string
	recentNext  int
	recentLimit int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSelector replaces the default selector.
func WithSelector(s *selector.Selector) Option {
	return func(p *Pipeline) { p.selector = s }
}

// WithAccelerator replaces the default accelerator.
func WithAccelerator(a *accel.Accelerator) Option {
	return func(p *Pipeline) { p.accel = a }
}

// WithAuditSink attaches the audit trail. Without a sink the
// pipeline runs with auditing disabled.
func WithAuditSink(s *audit.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithRecentLimit bounds the retained discovery corpus.
func WithRecentLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.recentLimit = n
		}
	}
}

// New builds a pipeline over store.
func New(store *template.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		tracer:      otel.Tracer(tracerName),
		recentLimit: defaultRecentLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.selector == nil {
		p.selector = selector.New(selector.WithLogger(p.logger))
	}
	if p.accel == nil {
		p.accel = accel.New(accel.WithLogger(p.logger))
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	return p
}

// Metrics returns the pipeline's metrics instance, for serving.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Compress encodes text for a session. The accelerator is consulted
// first; on a miss the full selector runs and the decision is
// recorded for the session. The metadata entry is always emitted and
// the main and metadata-analytics streams receive one record each
// when auditing is enabled. routingHint passes through to the
// metadata entry uninterpreted.
func (p *Pipeline) Compress(ctx context.Context, sessionID, text string, routingHint byte) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Compress")
	defer span.End()
	start := time.Now()

	snap := p.store.Snapshot()
	p.metrics.SetTemplatesLive(snap.Len())

	sel, hit := p.accel.Lookup(sessionID, text, snap)
	if !hit {
		sel = p.selector.Select(snap, text)
		p.accel.Record(sessionID, text, sel, snap.Version())
	}
	p.metrics.RecordCacheLookup(hit)
	if len(sel.Payload) == 0 {
		// The raw floor always yields at least a tag byte.
		p.metrics.RecordError("outbound", "encoding_failure")
		return Result{}, fmt.Errorf("%w: empty candidate for %d byte input", ErrEncodingFailure, len(text))
	}

	meta := metadata.Emit(sel.Method, sel.Fallback, sel.TemplateID, len(text), len(sel.Payload), routingHint)
	elapsed := time.Since(start)
	speedup := p.observeLatency(hit, elapsed)

	span.SetAttributes(
		attribute.String("aura.method", sel.Method.String()),
		attribute.Bool("aura.cache_hit", hit),
		attribute.Bool("aura.fallback", sel.Fallback),
		attribute.Int("aura.original_bytes", len(text)),
		attribute.Int("aura.payload_bytes", len(sel.Payload)),
	)

	if err := p.auditCompress(sessionID, text, sel, hit, speedup); err != nil {
		p.metrics.RecordError("outbound", "audit_sink_failure")
		return Result{}, err
	}

	p.metrics.RecordMessage("outbound", sel.Method.String(), elapsed)
	p.metrics.RecordCompression(len(text), len(sel.Payload), sel.Fallback)
	p.noteRecent(text)

	return Result{
		Payload:  sel.Payload,
		Metadata: meta,
		Method:   sel.Method,
		Fallback: sel.Fallback,
		CacheHit: hit,
	}, nil
}

// observeLatency folds a full-pipeline latency sample into the moving
// average and returns the estimated speedup for this call.
func (p *Pipeline) observeLatency(hit bool, elapsed time.Duration) float64 {
	if !hit {
		prev := p.missNanos.Load()
		if prev == 0 {
			p.missNanos.Store(elapsed.Nanoseconds())
		} else {
			p.missNanos.Store((prev*7 + elapsed.Nanoseconds()) / 8)
		}
		return 1.0
	}
	base := p.missNanos.Load()
	if base == 0 || elapsed <= 0 {
		return 1.0
	}
	return float64(base) / float64(elapsed.Nanoseconds())
}

func (p *Pipeline) auditCompress(sessionID, text string, sel selector.Selection, hit bool, speedup float64) error {
	if p.sink == nil {
		return nil
	}
	now := time.Now()

	mainErr := p.sink.Append(audit.StreamMain,
		audit.MainLine(now, sessionID, audit.DirectionOutbound, sel.Method.String(), text))
	p.metrics.RecordAuditAppend(audit.StreamMain.String(), mainErr)

	var metaErr error
	rec, err := audit.AnalyticsRecord{
		Timestamp: now,
		SessionID: sessionID,
		Direction: audit.DirectionOutbound,
		Metadata: audit.AnalyticsStats{
			CompressedSize:   len(sel.Payload),
			DecompressedSize: len(text),
			Ratio:            ratio(len(text), len(sel.Payload)),
			CacheHit:         hit,
			Speedup:          speedup,
		},
	}.Encode()
	if err == nil {
		metaErr = p.sink.Append(audit.StreamMetadata, rec)
	} else {
		metaErr = err
	}
	p.metrics.RecordAuditAppend(audit.StreamMetadata.String(), metaErr)

	return p.auditOutcome(mainErr, metaErr)
}

// auditOutcome applies the compliance policy: strict mode fails the
// call on any append error, best-effort logs and proceeds.
func (p *Pipeline) auditOutcome(errs ...error) error {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if p.sink.Strict() {
			return fmt.Errorf("%w: %v", ErrAuditSinkFailure, err)
		}
		p.logger.Warn("audit append degraded", "error", err)
	}
	return nil
}

func ratio(original, payload int) float64 {
	if payload <= 0 {
		return 0
	}
	return float64(original) / float64(payload)
}

// Decompress decodes a payload against the current snapshot. A
// malformed payload fails with ErrDecodingMismatch and the message
// is dropped. In compliance mode the metadata-analytics stream
// records the call.
func (p *Pipeline) Decompress(ctx context.Context, sessionID string, payload []byte) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Decompress")
	defer span.End()
	start := time.Now()

	snap := p.store.Snapshot()
	text, dec, err := codec.Decode(payload, snap)
	if err != nil {
		p.metrics.RecordError("inbound", "decoding_mismatch")
		return "", fmt.Errorf("%w: %v", ErrDecodingMismatch, err)
	}

	span.SetAttributes(
		attribute.String("aura.method", dec.Method.String()),
		attribute.Int("aura.payload_bytes", len(payload)),
	)

	if p.sink != nil {
		rec, encErr := audit.AnalyticsRecord{
			Timestamp: time.Now(),
			SessionID: sessionID,
			Direction: audit.DirectionInbound,
			Metadata: audit.AnalyticsStats{
				CompressedSize:   len(payload),
				DecompressedSize: len(text),
				Ratio:            ratio(len(text), len(payload)),
			},
		}.Encode()
		appendErr := encErr
		if encErr == nil {
			appendErr = p.sink.Append(audit.StreamMetadata, rec)
		}
		p.metrics.RecordAuditAppend(audit.StreamMetadata.String(), appendErr)
		if err := p.auditOutcome(appendErr); err != nil {
			p.metrics.RecordError("inbound", "audit_sink_failure")
			return "", err
		}
	}

	p.metrics.RecordMessage("inbound", dec.Method.String(), time.Since(start))
	return text, nil
}

// Classify inspects a serialized metadata entry without touching any
// payload. This is the fast routing path: six bytes in, decision
// out.
func (p *Pipeline) Classify(entry []byte) (metadata.Entry, error) {
	meta, err := metadata.Parse(entry)
	if err != nil {
		return metadata.Entry{}, fmt.Errorf("%w: %v", ErrDecodingMismatch, err)
	}
	return meta, nil
}

// RecordAIOutput appends pre-moderation model output to the
// permanent ai-generated stream.
func (p *Pipeline) RecordAIOutput(ctx context.Context, sessionID, content string) error {
	if p.sink == nil {
		return nil
	}
	err := p.sink.Append(audit.StreamAIGenerated,
		audit.MainLine(time.Now(), sessionID, audit.DirectionOutbound, "pre_moderation", content))
	p.metrics.RecordAuditAppend(audit.StreamAIGenerated.String(), err)
	return p.auditOutcome(err)
}

// RecordSafetyEvent appends a moderation decision to the
// safety-alerts stream.
func (p *Pipeline) RecordSafetyEvent(ctx context.Context, sessionID, content, action, check string) error {
	if p.sink == nil {
		return nil
	}
	rec, err := audit.SafetyRecord{
		Timestamp:        time.Now(),
		SessionID:        sessionID,
		Content:          content,
		ModerationAction: action,
		SafetyCheck:      check,
	}.Encode()
	if err == nil {
		err = p.sink.Append(audit.StreamSafety, rec)
	}
	p.metrics.RecordAuditAppend(audit.StreamSafety.String(), err)
	return p.auditOutcome(err)
}

// noteRecent retains text in the bounded discovery corpus, oldest
// messages overwritten first.
func (p *Pipeline) noteRecent(text string) {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	if len(p.recent) < p.recentLimit {
		p.recent = append(p.recent, text)
		return
	}
	p.recent[p.recentNext] = text
	p.recentNext = (p.recentNext + 1) % p.recentLimit
}

// RecentMessages returns a snapshot of the retained corpus, oldest
// first. It satisfies the discovery engine's corpus source contract.
func (p *Pipeline) RecentMessages(ctx context.Context) ([]string, error) {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	out := make([]string, 0, len(p.recent))
	out = append(out, p.recent[p.recentNext:]...)
	out = append(out, p.recent[:p.recentNext]...)
	return out, nil
}

// CloseSession drops a session's accelerator state.
func (p *Pipeline) CloseSession(sessionID string) {
	p.accel.DropSession(sessionID)
}
