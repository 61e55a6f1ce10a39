package compaction

import (
	"fmt"
)

// Strategy names one compaction technique
type Strategy string

const (
	StrategyToolResultTruncation Strategy = "tool_result_truncation"
	StrategySummary              Strategy = "summary"
	StrategyHardClear            Strategy = "hard_clear"
)

// Trigger names what started a compaction pass
type Trigger string

const (
	TriggerGuard    Trigger = "guard"
	TriggerOverflow Trigger = "overflow"
)

// Policy configures the engine. Strategies run in the listed order; a
// strategy absent from the list is disabled.
type Policy struct {
	Strategies []Strategy `mapstructure:"strategies" json:"strategies"`

	// GuardThreshold is the fraction of the context window that triggers proactive compaction
	GuardThreshold float64 `mapstructure:"guard_threshold" json:"guard_threshold"`
	// OverflowTarget is the fraction of the context window to compact to after a provider overflow
	OverflowTarget float64 `mapstructure:"overflow_target" json:"overflow_target"`

	MaxToolResultTokens int    `mapstructure:"max_tool_result_tokens" json:"max_tool_result_tokens"`
	TruncationMarker    string `mapstructure:"truncation_marker" json:"truncation_marker"`
	SummaryKeepRecent   int    `mapstructure:"summary_keep_recent" json:"summary_keep_recent"`
	HardClearKeep       int    `mapstructure:"hard_clear_keep" json:"hard_clear_keep"`

	// SummaryModel writes summaries through a model; empty uses the extractive summarizer
	SummaryModel string `mapstructure:"summary_model" json:"summary_model,omitempty"`
}

// DefaultPolicy returns the default compaction policy with all strategies enabled
func DefaultPolicy() Policy {
	return Policy{
		Strategies:          []Strategy{StrategyToolResultTruncation, StrategySummary, StrategyHardClear},
		GuardThreshold:      0.8,
		OverflowTarget:      0.6,
		MaxToolResultTokens: 2000,
		TruncationMarker:    "[output truncated: %d characters removed]",
		SummaryKeepRecent:   6,
		HardClearKeep:       8,
	}
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if p.GuardThreshold <= 0 || p.GuardThreshold > 1 {
		return fmt.Errorf("guard_threshold must be in (0, 1], got %v", p.GuardThreshold)
	}
	if p.OverflowTarget <= 0 || p.OverflowTarget > 1 {
		return fmt.Errorf("overflow_target must be in (0, 1], got %v", p.OverflowTarget)
	}
	if p.MaxToolResultTokens <= 0 {
		return fmt.Errorf("max_tool_result_tokens must be positive")
	}
	if p.HardClearKeep < 0 || p.SummaryKeepRecent < 0 {
		return fmt.Errorf("keep counts must not be negative")
	}
	seen := map[Strategy]bool{}
	for _, s := range p.Strategies {
		switch s {
		case StrategyToolResultTruncation, StrategySummary, StrategyHardClear:
		default:
			return fmt.Errorf("unknown compaction strategy: %s", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate compaction strategy: %s", s)
		}
		seen[s] = true
	}
	return nil
}

// Enabled reports whether s is in the strategy list
func (p Policy) Enabled(s Strategy) bool {
	for _, v := range p.Strategies {
		if v == s {
			return true
		}
	}
	return false
}
