// Package agent runs conversational requests against a model chain with
// tool loops, failover, compaction and sub-agent delegation.
//
// Invariants:
// - At most one run per session key is active; Start rejects the second caller.
// - Tool results are appended to the transcript in call order.
// - Every run that starts publishes exactly one Complete event.
// - A run never issues a model call after its abort token is observed.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	run, _ := runner.Start(ctx, agent.RunParams{
//		SessionKey: "telegram:dm:42",
//		Prompt:     "hello",
//	})
//	for ev := range run.Events() {
//		_ = ev
//	}
//	result := run.Wait()
//	_ = result
package agent
