// Package discovery mines historical message text for recurring
// skeletons and promotes the ones whose compression gain replicates
// on held-out data. Promotion goes through the store's atomic
// discovered-partition replacement, so readers always see either the
// old library or the new one, never a mixture.
package discovery

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/auraproto/aura/pkg/codec"
	"github.com/auraproto/aura/pkg/template"
)

// DefaultMinSupport is the minimum number of corpus messages a
// skeleton must appear in before it becomes a candidate.
const DefaultMinSupport = 3

// DefaultHoldoutFraction is the share of the corpus reserved for
// validation and excluded from mining.
const DefaultHoldoutFraction = 0.25

// validationThreshold is the fraction of the training gain rate the
// holdout gain rate must reach. Below it the candidate is treated as
// overfit to the training slice and rejected.
const validationThreshold = 0.5

// Candidate is a mined template before promotion.
type Candidate struct {
	Pattern   string
	SlotTypes []template.SlotType

	// Support is the number of training messages the skeleton
	// covers.
	Support int
	// TrainGain and HoldoutGain are estimated bytes saved across
	// the respective corpus slices.
	TrainGain   int
	HoldoutGain int
}

// Engine mines corpora and promotes validated candidates into a
// store.
type Engine struct {
	store           *template.Store
	minSupport      int
	holdoutFraction float64
	logger          *slog.Logger
	onPromote       func(int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinSupport overrides the minimum support threshold.
func WithMinSupport(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSupport = n
		}
	}
}

// WithHoldoutFraction overrides the validation holdout share. Values
// outside (0, 1) disable holdout validation.
func WithHoldoutFraction(f float64) Option {
	return func(e *Engine) { e.holdoutFraction = f }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPromotionHook registers a callback invoked with the number of
// templates each successful promotion installs, for metrics.
func WithPromotionHook(fn func(int)) Option {
	return func(e *Engine) { e.onPromote = fn }
}

// New returns an Engine promoting into store.
func New(store *template.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		minSupport:      DefaultMinSupport,
		holdoutFraction: DefaultHoldoutFraction,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Discover mines corpus and returns the candidates that survive
// validation, best estimated gain first. The corpus is split
// deterministically into a training slice and a holdout slice; a
// candidate is kept only when its per-message gain on the holdout
// reaches half its training gain rate.
func (e *Engine) Discover(corpus []string) []Candidate {
	train, holdout := e.split(corpus)

	var out []Candidate
	for _, cand := range mine(train, e.minSupport) {
		ok, holdoutGain := e.validate(cand, train, holdout)
		if !ok {
			e.logger.Debug("candidate rejected by holdout validation",
				"pattern", cand.Pattern, "train_gain", cand.TrainGain)
			continue
		}
		cand.HoldoutGain = holdoutGain
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrainGain != out[j].TrainGain {
			return out[i].TrainGain > out[j].TrainGain
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// split partitions the corpus deterministically so repeated runs
// over the same corpus mine the same slices.
func (e *Engine) split(corpus []string) (train, holdout []string) {
	if e.holdoutFraction <= 0 || e.holdoutFraction >= 1 {
		return corpus, nil
	}
	stride := int(1 / e.holdoutFraction)
	if stride < 2 {
		stride = 2
	}
	for i, msg := range corpus {
		if i%stride == stride-1 {
			holdout = append(holdout, msg)
		} else {
			train = append(train, msg)
		}
	}
	return train, holdout
}

// cluster groups token sequences that can align into one skeleton:
// same token count, same leading token.
type cluster struct {
	tokens [][]string
	texts  []string
}

func mine(train []string, minSupport int) []Candidate {
	clusters := make(map[string]*cluster)
	for _, msg := range train {
		tokens := strings.Fields(msg)
		if len(tokens) < 2 {
			continue
		}
		key := fmt.Sprintf("%d|%s", len(tokens), tokens[0])
		c, ok := clusters[key]
		if !ok {
			c = &cluster{}
			clusters[key] = c
		}
		c.tokens = append(c.tokens, tokens)
		c.texts = append(c.texts, msg)
	}

	var out []Candidate
	for _, c := range clusters {
		if len(c.texts) < minSupport {
			continue
		}
		cand, ok := alignCluster(c)
		if !ok {
			continue
		}
		out = append(out, cand)
	}
	return out
}

var numericTokenRe = regexp.MustCompile(`^[0-9][0-9.,]*$`)

// alignCluster infers a skeleton from a cluster by voting per token
// position: positions where every message agrees stay literal,
// varying positions become slots, and adjacent varying positions
// merge into a single slot.
func alignCluster(c *cluster) (Candidate, bool) {
	width := len(c.tokens[0])
	varying := make([]bool, width)
	numeric := make([]bool, width)
	for pos := 0; pos < width; pos++ {
		numeric[pos] = true
		for _, tokens := range c.tokens {
			if tokens[pos] != c.tokens[0][pos] {
				varying[pos] = true
			}
			if !numericTokenRe.MatchString(tokens[pos]) {
				numeric[pos] = false
			}
		}
	}

	var (
		parts     []string
		slotTypes []template.SlotType
		literals  int
	)
	for pos := 0; pos < width; pos++ {
		if !varying[pos] {
			parts = append(parts, c.tokens[0][pos])
			literals++
			continue
		}
		slotNumeric := numeric[pos]
		// Merge a run of varying positions into one slot.
		for pos+1 < width && varying[pos+1] {
			pos++
			slotNumeric = slotNumeric && numeric[pos]
		}
		st := template.SlotText
		if slotNumeric {
			st = template.SlotNumber
		}
		parts = append(parts, fmt.Sprintf("{%d}", len(slotTypes)))
		slotTypes = append(slotTypes, st)
	}

	// An all-slot or mostly-slot skeleton explains nothing; require
	// literal structure for at least half the positions and at least
	// one slot so the candidate generalizes beyond exact repeats.
	if len(slotTypes) == 0 || literals*2 < width {
		return Candidate{}, false
	}

	pattern := strings.Join(parts, " ")
	cand := Candidate{
		Pattern:   pattern,
		SlotTypes: slotTypes,
		Support:   len(c.texts),
	}
	for _, text := range c.texts {
		if saved := estimatedSaving(pattern, slotTypes, text); saved > 0 {
			cand.TrainGain += saved
		}
	}
	if cand.TrainGain <= 0 {
		return Candidate{}, false
	}
	return cand, true
}

// validate measures a candidate against both slices with a real
// scratch store, so matching behaves exactly as it will after
// promotion.
func (e *Engine) validate(cand Candidate, train, holdout []string) (bool, int) {
	if len(holdout) == 0 {
		return true, 0
	}
	scratch, err := template.NewStore(make([]*template.Template, 0))
	if err != nil {
		return false, 0
	}
	tmpl := template.New(scratch.AllocateID(), cand.Pattern, cand.SlotTypes, template.SourceDiscovered)
	if err := scratch.ReplaceDiscovered([]*template.Template{tmpl}); err != nil {
		e.logger.Warn("candidate does not compile", "pattern", cand.Pattern, "error", err)
		return false, 0
	}
	snap := scratch.Snapshot()

	gain := func(msgs []string) int {
		total := 0
		for _, msg := range msgs {
			m, ok := snap.Match(msg)
			if !ok {
				continue
			}
			payload := codec.EncodeBinarySemantic(m.Template.ID, m.Slots, false)
			if saved := len(msg) - len(payload); saved > 0 {
				total += saved
			}
		}
		return total
	}

	trainGain := gain(train)
	holdoutGain := gain(holdout)
	if trainGain == 0 {
		return false, 0
	}
	trainRate := float64(trainGain) / float64(len(train))
	holdoutRate := float64(holdoutGain) / float64(len(holdout))
	return holdoutRate >= validationThreshold*trainRate, holdoutGain
}

// estimatedSaving approximates the payload size of a template match
// without compiling: tag, id varint, slot count, then each slot's
// value with a length prefix.
func estimatedSaving(pattern string, slotTypes []template.SlotType, text string) int {
	skeleton := pattern
	for i := range slotTypes {
		skeleton = strings.ReplaceAll(skeleton, fmt.Sprintf("{%d}", i), "")
	}
	slotBytes := len(text) - len(skeleton)
	if slotBytes < 0 {
		slotBytes = 0
	}
	payload := 1 + 2 + 1 + slotBytes + len(slotTypes)
	return len(text) - payload
}

// Promote installs candidates into the live store alongside the
// templates already discovered. Each candidate gets a fresh id; the
// swap is atomic and a validation failure leaves the store as it
// was.
func (e *Engine) Promote(cands []Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	snap := e.store.Snapshot()
	known := make(map[string]bool, snap.Len())
	for _, t := range snap.Templates() {
		known[t.Pattern] = true
	}
	next := append([]*template.Template(nil), snap.Discovered()...)
	promoted := 0
	for _, cand := range cands {
		if known[cand.Pattern] {
			continue
		}
		known[cand.Pattern] = true
		next = append(next, template.New(
			e.store.AllocateID(), cand.Pattern, cand.SlotTypes, template.SourceDiscovered))
		promoted++
	}
	if promoted == 0 {
		return nil
	}
	if err := e.store.ReplaceDiscovered(next); err != nil {
		return fmt.Errorf("discovery: promote: %w", err)
	}
	if e.onPromote != nil {
		e.onPromote(promoted)
	}
	e.logger.Info("promoted discovered templates",
		"count", promoted, "store_version", e.store.Version())
	return nil
}
