package llm

import (
	"iter"
	"strings"

	"github.com/m4xw311/egoist/session"
)

// Accumulate folds a stream's events into one assistant message. Text wins
// over tool calls: if any non-empty text arrived the message carries only that
// text, otherwise it carries the tool calls (possibly none). Argument
// fragments are appended to the most recently opened call, so fragments for a
// call must arrive contiguously. An error from the sequence is returned as is.
func Accumulate(events iter.Seq2[Event, error]) (session.Message, error) {
	var (
		text  strings.Builder
		calls []session.ToolCall
		args  []*strings.Builder
	)

loop:
	for ev, err := range events {
		if err != nil {
			return session.Message{}, err
		}
		switch ev := ev.(type) {
		case RoleAnnounced:
			// Marks the start of a text or tool-call section.
		case ContentFragment:
			text.WriteString(ev.Text)
		case ToolCallStarted:
			calls = append(calls, session.ToolCall{ID: ev.ID, Name: ev.Name})
			b := &strings.Builder{}
			b.WriteString(ev.Arguments)
			args = append(args, b)
		case ToolCallArgFragment:
			if len(args) == 0 {
				continue
			}
			args[len(args)-1].WriteString(ev.Text)
		case FinishedReason:
			if ev.Reason == "stop" || ev.Reason == "tool_calls" {
				break loop
			}
		}
	}

	msg := session.Message{Role: session.RoleAssistant}
	if text.Len() > 0 {
		msg.Content = text.String()
		return msg, nil
	}
	for i := range calls {
		calls[i].Arguments = args[i].String()
	}
	msg.ToolCalls = calls
	return msg, nil
}
