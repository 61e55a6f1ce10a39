package llm

import (
	"context"
)

// Collect drains a delta stream into a Response.
// onDelta, when set, sees every delta before it is folded in.
// A DeltaError ends collection with that error.
func Collect(ctx context.Context, deltas <-chan Delta, onDelta func(Delta)) (*Response, error) {
	resp := &Response{StopReason: StopEnd}
	var text []byte

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				resp.Text = string(text)
				if len(resp.ToolCalls) > 0 && resp.StopReason == StopEnd {
					resp.StopReason = StopToolUse
				}
				return resp, nil
			}
			if onDelta != nil {
				onDelta(d)
			}
			switch d.Type {
			case DeltaText:
				text = append(text, d.Text...)
			case DeltaToolCall:
				if d.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *d.ToolCall)
				}
			case DeltaUsage:
				if d.Usage != nil {
					resp.Usage.InputTokens += d.Usage.InputTokens
					resp.Usage.OutputTokens += d.Usage.OutputTokens
				}
			case DeltaStop:
				if d.StopReason != "" {
					resp.StopReason = d.StopReason
				}
			case DeltaError:
				if d.Err != nil {
					return nil, d.Err
				}
			}
		}
	}
}

// Replay turns a complete Response into a closed delta stream.
// Adapters whose SDK call is non-streaming use it to satisfy Provider.
func Replay(resp *Response) <-chan Delta {
	ch := make(chan Delta, len(resp.ToolCalls)+3)
	if resp.Text != "" {
		ch <- Delta{Type: DeltaText, Text: resp.Text}
	}
	for i := range resp.ToolCalls {
		tc := resp.ToolCalls[i]
		ch <- Delta{Type: DeltaToolCall, ToolCall: &tc}
	}
	usage := resp.Usage
	ch <- Delta{Type: DeltaUsage, Usage: &usage}
	ch <- Delta{Type: DeltaStop, StopReason: resp.StopReason}
	close(ch)
	return ch
}

const streamBuffer = 16

// send delivers d unless ctx ends first
func send(ctx context.Context, out chan<- Delta, d Delta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish sends the tool calls, usage and stop reason of resp. Its text is
// expected to have been streamed already.
func finish(ctx context.Context, out chan<- Delta, resp *Response) {
	tail := *resp
	tail.Text = ""
	for d := range Replay(&tail) {
		if !send(ctx, out, d) {
			return
		}
	}
}
