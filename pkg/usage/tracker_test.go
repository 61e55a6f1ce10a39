package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	t.Run("should accumulate per session and per agent", func(t *testing.T) {
		tr := NewTracker()
		tr.Record("s1", "a1", 10, 5)
		tr.Record("s1", "a1", 3, 2)
		tr.Record("s2", "a1", 1, 1)

		assert.Equal(t, Report{InputTokens: 13, OutputTokens: 7, TotalTokens: 20, Requests: 2}, tr.SessionUsage("s1"))
		assert.Equal(t, Report{InputTokens: 14, OutputTokens: 8, TotalTokens: 22, Requests: 3}, tr.AgentUsage("a1"))
	})

	t.Run("should return zero for unknown keys", func(t *testing.T) {
		tr := NewTracker()
		assert.Equal(t, Report{}, tr.SessionUsage("missing"))
		assert.Equal(t, Report{}, tr.AgentUsage("missing"))
	})

	t.Run("should reset session but keep agent totals", func(t *testing.T) {
		tr := NewTracker()
		tr.Record("s1", "a1", 10, 10)
		tr.ResetSession("s1")

		assert.Equal(t, Report{}, tr.SessionUsage("s1"))
		assert.Equal(t, int64(20), tr.AgentUsage("a1").TotalTokens)
	})

	t.Run("should ignore negative counts", func(t *testing.T) {
		tr := NewTracker()
		tr.Record("s1", "a1", 5, 5)
		tr.Record("s1", "a1", -100, -1)
		assert.Equal(t, int64(10), tr.SessionUsage("s1").TotalTokens)
	})

	t.Run("should be exact under concurrent recording", func(t *testing.T) {
		tr := NewTracker()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					tr.Record("shared", "agent", 2, 1)
				}
			}()
		}
		wg.Wait()

		r := tr.SessionUsage("shared")
		assert.Equal(t, int64(5000), r.Requests)
		assert.Equal(t, int64(15000), r.TotalTokens)
	})

	t.Run("should never decrease while recording", func(t *testing.T) {
		tr := NewTracker()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 1000; i++ {
				tr.Record("s", "a", 1, 1)
			}
		}()

		var last int64
		for {
			select {
			case <-done:
				assert.Equal(t, int64(2000), tr.SessionUsage("s").TotalTokens)
				return
			default:
				cur := tr.SessionUsage("s").TotalTokens
				assert.GreaterOrEqual(t, cur, last)
				last = cur
			}
		}
	})
}
