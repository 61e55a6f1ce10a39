package subagent

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultJanitorSchedule prunes finished child runs every five minutes
const DefaultJanitorSchedule = "@every 5m"

// Janitor periodically removes terminal child runs past their retention
type Janitor struct {
	registry  *Registry
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    zerolog.Logger
}

// NewJanitor creates a janitor. Schedule accepts standard five-field cron
// expressions and descriptors such as "@every 1m".
func NewJanitor(registry *Registry, retention time.Duration, schedule string, logger zerolog.Logger) (*Janitor, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule: %w", err)
	}

	j := &Janitor{
		registry:  registry,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(cron.WithParser(parser)),
		logger:    logger.With().Str("component", "subagent_janitor").Logger(),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("failed to schedule janitor: %w", err)
	}
	return j, nil
}

// Start runs the schedule in the background
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().
		Str("schedule", j.schedule).
		Dur("retention", j.retention).
		Msg("Subagent janitor started")
}

// Stop halts the schedule and waits for a running sweep
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info().Msg("Subagent janitor stopped")
}

// Sweep prunes once and returns the number of removed records
func (j *Janitor) Sweep() int {
	removed := j.registry.Cleanup(j.retention)
	j.logger.Debug().Int("removed", removed).Msg("Janitor sweep finished")
	return removed
}
