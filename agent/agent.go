package agent

import (
	"context"
	"io"
	"slices"

	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/llm"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

// State is the position of the conversation loop.
type State int

const (
	StateAwaitingModelTurn State = iota
	StateToolCallsPending
	StatePlainReply
	StateAwaitingExternalInput
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingModelTurn:
		return "awaiting_model_turn"
	case StateToolCallsPending:
		return "tool_calls_pending"
	case StatePlainReply:
		return "plain_reply"
	case StateAwaitingExternalInput:
		return "awaiting_external_input"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// InputSource supplies the user's next message. Next returns io.EOF when the
// user is done.
type InputSource interface {
	Next(ctx context.Context) (string, error)
}

// Callbacks let the caller observe the conversation. Any of them may be nil.
type Callbacks struct {
	// OnMessageAppended is called after every message added to the history.
	OnMessageAppended func(msg session.Message)
	// OnToolResult is called for each tool result, in call order.
	OnToolResult func(call session.ToolCall, result session.Message)
	// OnError receives model-turn failures in Run. Without it Run returns
	// the first such failure.
	OnError func(err error)
}

type Agent struct {
	client     llm.Client
	dispatcher *tools.Dispatcher
	callbacks  Callbacks
	messages   []session.Message
	state      State
}

// New creates an agent continuing history, which should end with the message
// the model is to answer next.
func New(client llm.Client, registry *tools.Registry, history []session.Message, callbacks Callbacks) *Agent {
	return &Agent{
		client:     client,
		dispatcher: tools.NewDispatcher(registry),
		callbacks:  callbacks,
		messages:   slices.Clone(history),
		state:      StateAwaitingModelTurn,
	}
}

func (a *Agent) State() State { return a.state }

// Messages returns a copy of the conversation so far.
func (a *Agent) Messages() []session.Message {
	return slices.Clone(a.messages)
}

// Run alternates model turns and user input until the input source reports
// io.EOF or ctx is done.
func (a *Agent) Run(ctx context.Context, input InputSource) error {
	for {
		if _, err := a.turn(ctx); err != nil {
			if ctx.Err() != nil || a.callbacks.OnError == nil {
				return err
			}
			a.callbacks.OnError(err)
			a.state = StateAwaitingExternalInput
		}

		text, err := input.Next(ctx)
		if errors.Is(err, io.EOF) {
			a.state = StateDone
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read input")
		}
		a.append(session.Message{Role: session.RoleUser, Content: text})
		a.state = StateAwaitingModelTurn
	}
}

// RunOnce runs a single model turn and returns the text of the final message.
func (a *Agent) RunOnce(ctx context.Context) (string, error) {
	msg, err := a.turn(ctx)
	if err != nil {
		return "", err
	}
	a.state = StateDone
	return msg.Content, nil
}

// turn requests a message with tools enabled. If it holds tool calls, they
// are dispatched, their results appended, and one more message is requested
// with tools disabled so the model answers in text.
func (a *Agent) turn(ctx context.Context) (session.Message, error) {
	a.state = StateAwaitingModelTurn
	msg, err := a.client.GetMessage(ctx, a.messages, true)
	if err != nil {
		return session.Message{}, errors.Wrapf(err, "model turn failed")
	}
	a.append(msg)

	if msg.HasToolCalls() {
		a.state = StateToolCallsPending
		results := a.dispatcher.Dispatch(ctx, msg.ToolCalls)
		for i, res := range results {
			a.append(res)
			if a.callbacks.OnToolResult != nil {
				a.callbacks.OnToolResult(msg.ToolCalls[i], res)
			}
		}

		msg, err = a.client.GetMessage(ctx, a.messages, false)
		if err != nil {
			return session.Message{}, errors.Wrapf(err, "follow-up turn failed")
		}
		a.append(msg)
	} else {
		a.state = StatePlainReply
	}

	a.state = StateAwaitingExternalInput
	return msg, nil
}

func (a *Agent) append(msg session.Message) {
	a.messages = append(a.messages, msg)
	if a.callbacks.OnMessageAppended != nil {
		a.callbacks.OnMessageAppended(msg)
	}
}
