package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/egoist/agent"
	"github.com/m4xw311/egoist/llm"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	type in struct{}
	noop, err := tools.NewTool("noop", "Does nothing", func(context.Context, in) (string, error) {
		return "", nil
	})
	require.NoError(t, err)
	r := tools.NewRegistry()
	r.Register(noop)
	return r
}

func TestNextSkipsLocalCommands(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("\n   \nlist tools\nhello there\n/quit\nnever read\n"), &out, testRegistry(t))
	ctx := context.Background()

	got, err := term.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)
	assert.Contains(t, out.String(), "noop --- Does nothing")

	_, err = term.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextEOF(t *testing.T) {
	term := New(strings.NewReader(""), io.Discard, testRegistry(t))
	_, err := term.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := New(strings.NewReader("hi\n"), io.Discard, testRegistry(t))
	_, err := term.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "[\n    \"a\"\n]", Pretty(`["a"]`))
	assert.Equal(t, "plain text", Pretty("plain text"))
}

func TestCallbacksPrintAndChain(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader(""), &out, testRegistry(t))

	var baseCalled bool
	cb := term.Callbacks(agent.Callbacks{
		OnToolResult: func(session.ToolCall, session.Message) { baseCalled = true },
	})
	cb.OnToolResult(session.ToolCall{Name: "shell"}, session.Message{Content: `{"ok":true}`})
	cb.OnError(errors.New("boom"))

	assert.True(t, baseCalled)
	assert.Contains(t, out.String(), "=> shell\n{\n    \"ok\": true\n}")
	assert.Contains(t, out.String(), "Error: boom")
}

func TestRunWithMockClient(t *testing.T) {
	var out bytes.Buffer
	registry := testRegistry(t)
	term := New(strings.NewReader("second\n/exit\n"), &out, registry)
	a := agent.New(&llm.MockLLMClient{Out: &out}, registry,
		[]session.Message{{Role: session.RoleUser, Content: "first"}}, term.Callbacks(agent.Callbacks{}))

	require.NoError(t, a.Run(context.Background(), term))
	assert.Contains(t, out.String(), "You said: 'first'")
	assert.Contains(t, out.String(), "You said: 'second'")
	assert.Len(t, a.Messages(), 4)
}
