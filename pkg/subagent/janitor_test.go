package subagent

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor(t *testing.T) {
	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, err := NewJanitor(newTestRegistry(newFakeClock()), time.Hour, "every now and then", zerolog.Nop())
		assert.Error(t, err)

		_, err = NewJanitor(nil, time.Hour, "", zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should accept cron expressions and descriptors", func(t *testing.T) {
		r := newTestRegistry(newFakeClock())
		for _, schedule := range []string{"", "*/5 * * * *", "@hourly", "@every 30s"} {
			_, err := NewJanitor(r, time.Hour, schedule, zerolog.Nop())
			assert.NoError(t, err, schedule)
		}
	})

	t.Run("should prune expired runs on sweep", func(t *testing.T) {
		clock := newFakeClock()
		r := newTestRegistry(clock)
		rec, err := r.Register(RunParams{ParentSessionKey: "p", AgentID: "a"})
		require.NoError(t, err)
		require.NoError(t, r.Finish(rec.ID, StatusCompleted, "", ""))

		j, err := NewJanitor(r, time.Minute, "@every 1h", zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, 0, j.Sweep())
		clock.Advance(2 * time.Minute)
		assert.Equal(t, 1, j.Sweep())
		assert.Equal(t, 0, r.Stats().TotalRuns)
	})

	t.Run("should start and stop", func(t *testing.T) {
		j, err := NewJanitor(newTestRegistry(newFakeClock()), time.Minute, "@every 1h", zerolog.Nop())
		require.NoError(t, err)

		j.Start()
		done := make(chan struct{})
		go func() {
			j.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("janitor did not stop")
		}
	})
}
