// Package compaction shrinks a run transcript to fit a model context window.
//
// Invariants:
// - The most recent non-synthetic user message is never removed or altered.
// - An assistant tool call and its tool results are kept or dropped together.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/ranya-engine/internal/observability"
	"github.com/harun/ranya-engine/pkg/llm"
)

// Config configures an Engine
type Config struct {
	Policy     Policy
	Estimator  Estimator
	Summarizer Summarizer
	Logger     zerolog.Logger
}

// Engine applies the policy's strategies
type Engine struct {
	policy     Policy
	estimator  Estimator
	summarizer Summarizer
	logger     zerolog.Logger
}

// Result describes one compaction pass
type Result struct {
	Transcript   llm.Transcript
	Trigger      Trigger
	Applied      []Strategy
	TokensBefore int
	TokensAfter  int
	Target       int
}

// Changed reports whether any strategy modified the transcript
func (r Result) Changed() bool {
	return len(r.Applied) > 0
}

// Fits reports whether the result is at or under its target
func (r Result) Fits() bool {
	return r.TokensAfter <= r.Target
}

// NewEngine creates a compaction engine
func NewEngine(cfg Config) *Engine {
	if cfg.Estimator == nil {
		cfg.Estimator = NewTiktokenEstimator()
	}
	if cfg.Summarizer == nil {
		cfg.Summarizer = ExtractiveSummarizer{}
	}
	if cfg.Policy.GuardThreshold == 0 && len(cfg.Policy.Strategies) == 0 {
		cfg.Policy = DefaultPolicy()
	}
	return &Engine{
		policy:     cfg.Policy,
		estimator:  cfg.Estimator,
		summarizer: cfg.Summarizer,
		logger:     cfg.Logger.With().Str("component", "compaction").Logger(),
	}
}

// Policy returns the engine's policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Estimate returns the token estimate of a request's prompt and transcript
func (e *Engine) Estimate(systemPrompt string, t llm.Transcript) int {
	return TranscriptTokens(e.estimator, systemPrompt, t)
}

// Guard compacts proactively when the estimate exceeds GuardThreshold of the window.
// The second return value is false when no compaction was needed.
func (e *Engine) Guard(ctx context.Context, systemPrompt string, t llm.Transcript, contextWindow int) (Result, bool) {
	if contextWindow <= 0 {
		return Result{Transcript: t}, false
	}
	threshold := int(float64(contextWindow) * e.policy.GuardThreshold)
	before := e.Estimate(systemPrompt, t)
	if before <= threshold {
		return Result{Transcript: t, TokensBefore: before, TokensAfter: before, Target: threshold}, false
	}
	return e.compact(ctx, systemPrompt, t, threshold, before, TriggerGuard), true
}

// Overflow compacts after a provider rejected the request as too long.
// The target is OverflowTarget of the window, or of the current estimate when
// that is already smaller, so a retry always sends less than the failed call.
func (e *Engine) Overflow(ctx context.Context, systemPrompt string, t llm.Transcript, contextWindow int) Result {
	before := e.Estimate(systemPrompt, t)
	target := int(float64(before) * e.policy.OverflowTarget)
	if contextWindow > 0 {
		if w := int(float64(contextWindow) * e.policy.OverflowTarget); w < target {
			target = w
		}
	}
	return e.compact(ctx, systemPrompt, t, target, before, TriggerOverflow)
}

// Compact applies strategies in order until the estimate is at or below target
func (e *Engine) Compact(ctx context.Context, systemPrompt string, t llm.Transcript, target int, trigger Trigger) Result {
	return e.compact(ctx, systemPrompt, t, target, e.Estimate(systemPrompt, t), trigger)
}

func (e *Engine) compact(ctx context.Context, systemPrompt string, t llm.Transcript, target, before int, trigger Trigger) Result {
	res := Result{
		Transcript:   t,
		Trigger:      trigger,
		TokensBefore: before,
		TokensAfter:  before,
		Target:       target,
	}

	for _, strategy := range e.policy.Strategies {
		if res.TokensAfter <= target {
			break
		}
		var next llm.Transcript
		var changed bool
		switch strategy {
		case StrategyToolResultTruncation:
			next, changed = e.truncateToolResults(res.Transcript)
		case StrategySummary:
			next, changed = e.summarize(ctx, res.Transcript)
		case StrategyHardClear:
			next, changed = e.hardClear(res.Transcript)
		}
		if !changed {
			continue
		}
		res.Transcript = next
		res.Applied = append(res.Applied, strategy)
		res.TokensAfter = e.Estimate(systemPrompt, next)
		observability.RecordCompaction(string(strategy), string(trigger))
	}

	e.logger.Debug().
		Str("trigger", string(trigger)).
		Int("tokens_before", res.TokensBefore).
		Int("tokens_after", res.TokensAfter).
		Int("target", target).
		Int("strategies", len(res.Applied)).
		Msg("Compaction pass finished")

	return res
}

// truncateToolResults clips every oversized tool result, keeping the head
func (e *Engine) truncateToolResults(t llm.Transcript) (llm.Transcript, bool) {
	var out llm.Transcript
	for i, msg := range t {
		if msg.Role != llm.RoleTool || e.estimator.Count(msg.Content) <= e.policy.MaxToolResultTokens {
			continue
		}
		clipped := e.clipToTokens(msg.Content, e.policy.MaxToolResultTokens)
		if clipped == msg.Content {
			continue
		}
		if out == nil {
			out = t.Clone()
		}
		out[i].Content = clipped
	}
	if out == nil {
		return t, false
	}
	return out, true
}

// clipToTokens cuts s until the estimate of the clipped text, marker
// included, is within limit. The first cut assumes four bytes per token;
// token-dense text is cut again in proportion to the overshoot.
func (e *Engine) clipToTokens(s string, limit int) string {
	maxChars := limit * 4
	if maxChars >= len(s) {
		maxChars = len(s) - 1
	}
	for maxChars > 0 {
		clipped := TruncateResult(s, maxChars, e.policy.TruncationMarker)
		n := e.estimator.Count(clipped)
		if n <= limit {
			return clipped
		}
		next := maxChars * limit / n
		if next >= maxChars {
			next = maxChars - 1
		}
		maxChars = next
	}
	return TruncateResult(s, 0, e.policy.TruncationMarker)
}

// TruncateResult keeps the first maxChars bytes of s (on a rune boundary)
// and appends the marker. The marker may contain one %d for the removed count.
func TruncateResult(s string, maxChars int, marker string) string {
	if len(s) <= maxChars {
		return s
	}
	cut := maxChars
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	removed := len(s) - cut
	if marker == "" {
		marker = "[output truncated: %d characters removed]"
	}
	if strings.Contains(marker, "%d") {
		marker = fmt.Sprintf(marker, removed)
	}
	return s[:cut] + "\n\n" + marker
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// summarize folds older messages into synthetic summary messages.
// Messages before the protected user message become one summary ahead of it;
// older messages after it (tool traffic of the current run) become a second
// summary right after it. The last SummaryKeepRecent messages stay verbatim.
func (e *Engine) summarize(ctx context.Context, t llm.Transcript) (llm.Transcript, bool) {
	protected := t.LastUserIndex()
	cut := len(t) - e.policy.SummaryKeepRecent
	cut = alignCut(t, cut)
	if cut <= 0 {
		return t, false
	}

	type span struct{ from, to int }
	var spans []span
	if protected < 0 || protected >= cut {
		spans = append(spans, span{0, cut})
	} else {
		if protected > 0 {
			spans = append(spans, span{0, protected})
		}
		if cut > protected+1 {
			spans = append(spans, span{protected + 1, cut})
		}
	}

	out := make(llm.Transcript, 0, len(t))
	pos := 0
	changed := false
	for _, sp := range spans {
		out = append(out, t[pos:sp.from]...)
		segment := t[sp.from:sp.to]
		if len(segment) == 1 && segment[0].Synthetic {
			out = append(out, segment...)
			pos = sp.to
			continue
		}
		text, err := e.summarizer.Summarize(ctx, segment)
		if err != nil {
			e.logger.Warn().Err(err).Int("messages", len(segment)).Msg("Summarizer failed, using extractive summary")
			text, _ = ExtractiveSummarizer{}.Summarize(ctx, segment)
		}
		role := llm.RoleUser
		if sp.from > protected && protected >= 0 {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{
			Role:      role,
			Content:   summaryHeader + "\n" + text,
			Synthetic: true,
			Metadata:  map[string]interface{}{"summarized_messages": len(segment)},
		})
		pos = sp.to
		changed = true
	}
	out = append(out, t[pos:]...)

	if !changed {
		return t, false
	}
	return out, true
}

// alignCut moves a split point forward past tool results so a tool call and
// its results land on the same side
func alignCut(t llm.Transcript, cut int) int {
	if cut <= 0 {
		return 0
	}
	for cut < len(t) && t[cut].Role == llm.RoleTool {
		cut++
	}
	return cut
}

// hardClear keeps the protected user message plus the last HardClearKeep messages
func (e *Engine) hardClear(t llm.Transcript) (llm.Transcript, bool) {
	keep := e.policy.HardClearKeep
	protected := t.LastUserIndex()

	start := alignCut(t, len(t)-keep)
	if start < 0 {
		start = 0
	}

	var out llm.Transcript
	if protected >= 0 && protected < start {
		out = append(out, t[protected])
	}
	out = append(out, t[start:]...)

	if len(out) >= len(t) {
		return t, false
	}
	return out, true
}
