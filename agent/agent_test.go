package agent

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/llm"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

type scriptedReply struct {
	msg session.Message
	err error
}

// scriptedClient returns its replies in order and records whether tools
// were enabled for each request.
type scriptedClient struct {
	replies      []scriptedReply
	toolsEnabled []bool
	historyLens  []int
}

func (c *scriptedClient) GetMessage(_ context.Context, history []session.Message, toolsEnabled bool, _ ...llm.CallOption) (session.Message, error) {
	c.toolsEnabled = append(c.toolsEnabled, toolsEnabled)
	c.historyLens = append(c.historyLens, len(history))
	if len(c.replies) == 0 {
		return session.Message{}, errors.New("no scripted reply left")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.msg, r.err
}

type lines []string

func (l *lines) Next(context.Context) (string, error) {
	if len(*l) == 0 {
		return "", io.EOF
	}
	s := (*l)[0]
	*l = (*l)[1:]
	return s, nil
}

func text(s string) scriptedReply {
	return scriptedReply{msg: session.Message{Role: session.RoleAssistant, Content: s}}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	type in struct {
		Text string `json:"text"`
	}
	echo, err := tools.NewTool("echo", "Echo text", func(_ context.Context, i in) (string, error) {
		return i.Text, nil
	})
	require.NoError(t, err)
	r := tools.NewRegistry()
	r.Register(echo)
	return r
}

func TestRunOncePlainReply(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{text("4")}}
	var appended []session.Message
	a := New(client, testRegistry(t), []session.Message{{Role: session.RoleUser, Content: "2+2?"}}, Callbacks{
		OnMessageAppended: func(m session.Message) { appended = append(appended, m) },
	})

	out, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", out)
	assert.Equal(t, []bool{true}, client.toolsEnabled)
	assert.Len(t, a.Messages(), 2)
	assert.Equal(t, []session.Message{{Role: session.RoleAssistant, Content: "4"}}, appended)
	assert.Equal(t, StateDone, a.State())
}

func TestRunOnceToolCalls(t *testing.T) {
	calls := []session.ToolCall{
		{ID: "c1", Name: "echo", Arguments: `{"text":"one"}`},
		{ID: "c2", Name: "nope", Arguments: `{}`},
	}
	client := &scriptedClient{replies: []scriptedReply{
		{msg: session.Message{Role: session.RoleAssistant, ToolCalls: calls}},
		text("done"),
	}}
	var results []session.Message
	a := New(client, testRegistry(t), []session.Message{{Role: session.RoleUser, Content: "go"}}, Callbacks{
		OnToolResult: func(call session.ToolCall, res session.Message) {
			assert.Equal(t, call.ID, res.ToolCallID)
			results = append(results, res)
		},
	})

	out, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	// Follow-up is requested without tools, after both results were appended.
	assert.Equal(t, []bool{true, false}, client.toolsEnabled)
	assert.Equal(t, []int{1, 4}, client.historyLens)

	require.Len(t, results, 2)
	assert.Equal(t, "one", results[0].Content)
	assert.Equal(t, "echo", results[0].Name)
	assert.Contains(t, results[1].Content, "nope")

	msgs := a.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, session.RoleTool, msgs[2].Role)
	assert.Equal(t, session.RoleTool, msgs[3].Role)
	assert.Equal(t, "done", msgs[4].Content)
}

func TestRunLoopsUntilEOF(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{text("hello"), text("bye")}}
	input := &lines{"thanks"}
	a := New(client, testRegistry(t), []session.Message{{Role: session.RoleUser, Content: "hi"}}, Callbacks{})

	require.NoError(t, a.Run(context.Background(), input))
	assert.Equal(t, StateDone, a.State())

	msgs := a.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "thanks"}, msgs[2])
	assert.Equal(t, "bye", msgs[3].Content)
}

func TestRunSurfacesModelFailure(t *testing.T) {
	boom := &llm.StatusError{StatusCode: 500, Body: "down"}

	t.Run("without OnError", func(t *testing.T) {
		client := &scriptedClient{replies: []scriptedReply{{err: boom}}}
		a := New(client, testRegistry(t), nil, Callbacks{})
		err := a.Run(context.Background(), &lines{})
		var statusErr *llm.StatusError
		assert.ErrorAs(t, err, &statusErr)
	})

	t.Run("with OnError", func(t *testing.T) {
		client := &scriptedClient{replies: []scriptedReply{{err: boom}, text("recovered")}}
		var seen []error
		a := New(client, testRegistry(t), nil, Callbacks{OnError: func(err error) { seen = append(seen, err) }})
		require.NoError(t, a.Run(context.Background(), &lines{"again"}))
		require.Len(t, seen, 1)
		assert.Equal(t, "recovered", a.Messages()[len(a.Messages())-1].Content)
	})
}

func TestInterruptedTurnContinues(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{msg: llm.InterruptedMessage()}, text("next")}}
	a := New(client, testRegistry(t), nil, Callbacks{})
	require.NoError(t, a.Run(context.Background(), &lines{"continue"}))

	msgs := a.Messages()
	assert.Equal(t, session.RoleSystem, msgs[0].Role)
	assert.Equal(t, "next", msgs[len(msgs)-1].Content)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "tool_calls_pending", StateToolCallsPending.String())
	assert.Equal(t, "unknown", State(99).String())
}
