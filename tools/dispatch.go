package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m4xw311/egoist/session"
)

// Dispatcher executes the tool calls of one assistant message.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// Dispatch runs every call concurrently and returns one tool message per
// call, in the order of calls. A failing call produces an error string as its
// content and never affects its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []session.ToolCall) []session.Message {
	results := make([]session.Message, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = session.Message{
				Role:       session.RoleTool,
				Content:    callTool(ctx, d.registry, call.Name, json.RawMessage(call.Arguments)),
				ToolCallID: call.ID,
				Name:       call.Name,
			}
		}()
	}
	wg.Wait()

	return results
}
