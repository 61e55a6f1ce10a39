package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/ranya-engine/pkg/events"
)

// printer renders run events. Model text goes to out, everything else to
// status, so stdout can be piped.
type printer struct {
	out    io.Writer
	status io.Writer
	json   bool
	usage  bool
	enc    *json.Encoder
}

func newPrinter(out, status io.Writer, asJSON, showUsage bool) *printer {
	return &printer{
		out:    out,
		status: status,
		json:   asJSON,
		usage:  showUsage,
		enc:    json.NewEncoder(out),
	}
}

func (p *printer) print(ev events.Event) {
	if p.json {
		_ = p.enc.Encode(ev)
		return
	}

	switch ev.Type {
	case events.TypeTextDelta:
		fmt.Fprint(p.out, ev.Text)
	case events.TypeToolCallStart:
		fmt.Fprintf(p.status, "\n→ %s %s\n", ev.ToolCall.Name, compactArgs(ev.ToolCall.Arguments))
	case events.TypeToolCallResult:
		mark := "ok"
		if ev.ToolCall.IsError {
			mark = "error: " + firstLine(ev.ToolCall.Result)
		}
		fmt.Fprintf(p.status, "← %s %s (%s)\n", ev.ToolCall.Name, mark, formatDuration(ev.ToolCall.Duration))
	case events.TypeModelSwitch:
		fmt.Fprintf(p.status, "\n! %s failed (%s), switching to %s\n", ev.Switch.From, ev.Switch.Reason, ev.Switch.To)
	case events.TypeCompactionApplied:
		fmt.Fprintf(p.status, "\n~ compacted %d → %d tokens (%s, %s)\n",
			ev.Compaction.TokensBefore, ev.Compaction.TokensAfter,
			ev.Compaction.Trigger, strings.Join(ev.Compaction.Strategies, ", "))
	case events.TypeUsage:
		if p.usage {
			fmt.Fprintf(p.status, "\n# %s: %d in, %d out\n", ev.Usage.Model, ev.Usage.InputTokens, ev.Usage.OutputTokens)
		}
	case events.TypeError:
		if ev.Error.Kind == events.ErrorStreamDiscarded {
			fmt.Fprintf(p.status, "\n~ discarding partial output: %s\n", ev.Error.Message)
			return
		}
		fmt.Fprintf(p.status, "\nerror (%s): %s\n", ev.Error.Kind, ev.Error.Message)
	case events.TypeComplete:
		fmt.Fprintln(p.out)
	}
}

func compactArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{...}"
	}
	return clip(string(data), 120)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return clip(s, 120)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
