package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/egoist/config"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

type recordedRequest struct {
	auth string
	body map[string]any
}

// fakeCompletions serves the given SSE bodies in turn and records requests.
type fakeCompletions struct {
	mu       sync.Mutex
	bodies   []string
	status   int
	requests []recordedRequest
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{auth: r.Header.Get("Authorization"), body: body})
	var resp string
	if len(f.bodies) > 0 {
		resp, f.bodies = f.bodies[0], f.bodies[1:]
	}
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, status)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	io.WriteString(w, resp)
}

func newTestClient(t *testing.T, srv *httptest.Server, ts []tools.Tool, intr *Interrupt, out io.Writer) *OpenAILLMClient {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "")
	cfg := config.Default()
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Model = "gpt-test"
	cfg.Timeout = 5 * time.Second
	c, err := NewOpenAILLMClient(cfg, ts, intr, out)
	require.NoError(t, err)
	return c
}

func echoTool(t *testing.T) tools.Tool {
	t.Helper()
	type in struct {
		Text string `json:"text"`
	}
	tool, err := tools.NewTool("echo", "Echo text back", func(_ context.Context, i in) (string, error) {
		return i.Text, nil
	})
	require.NoError(t, err)
	return tool
}

func TestGetMessageText(t *testing.T) {
	fake := &fakeCompletions{bodies: []string{sse(
		`{"choices":[{"delta":{"role":"assistant","content":""}}]}`,
		`{"choices":[{"delta":{"content":"Hi "}}]}`,
		`{"choices":[{"delta":{"content":"there"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	)}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var out bytes.Buffer
	c := newTestClient(t, srv, []tools.Tool{echoTool(t)}, nil, &out)
	history := []session.Message{
		{Role: session.RoleSystem, Content: "be brief"},
		{Role: session.RoleUser, Content: "hello"},
	}

	msg, err := c.GetMessage(context.Background(), history, true)
	require.NoError(t, err)
	assert.Equal(t, session.Message{Role: session.RoleAssistant, Content: "Hi there"}, msg)
	assert.Contains(t, out.String(), "Hi there")

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "Bearer sk-test", req.auth)
	assert.Equal(t, true, req.body["stream"])
	assert.Equal(t, "gpt-test", req.body["model"])
	assert.Len(t, req.body["messages"], 2)
	toolsSent := req.body["tools"].([]any)
	require.Len(t, toolsSent, 1)
	fn := toolsSent[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "echo", fn["name"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])
	assert.NotContains(t, req.body, "tool_choice")
}

func TestGetMessageToolsDisabledAndToolChoice(t *testing.T) {
	stop := sse(`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	fake := &fakeCompletions{bodies: []string{stop, stop}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, []tools.Tool{echoTool(t)}, nil, nil)
	history := []session.Message{
		{Role: session.RoleUser, Content: "run it"},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "call_1", Name: "echo", Arguments: `{"text":"x"}`}}},
		{Role: session.RoleTool, Content: "x", ToolCallID: "call_1", Name: "echo"},
	}

	_, err := c.GetMessage(context.Background(), history, false, WithToolChoice("echo"))
	require.NoError(t, err)
	_, err = c.GetMessage(context.Background(), history, true, WithToolChoice("echo"))
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	disabled := fake.requests[0].body
	assert.NotContains(t, disabled, "tools")
	assert.NotContains(t, disabled, "tool_choice")

	msgs := disabled["messages"].([]any)
	require.Len(t, msgs, 3)
	assistant := msgs[1].(map[string]any)
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "call_1", call["id"])
	assert.Equal(t, `{"text":"x"}`, call["function"].(map[string]any)["arguments"])
	toolMsg := msgs[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])

	forced := fake.requests[1].body["tool_choice"].(map[string]any)
	assert.Equal(t, "function", forced["type"])
	assert.Equal(t, "echo", forced["function"].(map[string]any)["name"])
}

func TestGetMessageToolCalls(t *testing.T) {
	fake := &fakeCompletions{bodies: []string{sse(
		`{"choices":[{"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"echo","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"text\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"hi\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	)}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, nil, nil, nil)
	msg, err := c.GetMessage(context.Background(), []session.Message{{Role: session.RoleUser, Content: "x"}}, true)
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
	assert.Equal(t, []session.ToolCall{{ID: "call_1", Name: "echo", Arguments: `{"text":"hi"}`}}, msg.ToolCalls)
}

func TestGetMessageBadStatus(t *testing.T) {
	fake := &fakeCompletions{status: http.StatusTooManyRequests}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, nil, nil, nil)
	_, err := c.GetMessage(context.Background(), []session.Message{{Role: session.RoleUser, Content: "x"}}, false)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "quota exceeded")
	assert.Contains(t, statusErr.Payload, `"stream":true`)
}

// interruptingWriter sets the interrupt when it sees trigger, standing in for
// a user pressing Ctrl-C while text is on screen.
type interruptingWriter struct {
	intr    *Interrupt
	trigger string
	buf     bytes.Buffer
}

func (w *interruptingWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), w.trigger) {
		w.intr.Set()
	}
	return w.buf.Write(p)
}

func TestGetMessageInterruptedThenFreshStream(t *testing.T) {
	streamA := sse(
		`{"choices":[{"delta":{"content":"A1"}}]}`,
		`{"choices":[{"delta":{"content":"A2"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	streamB := sse(
		`{"choices":[{"delta":{"content":"B1"}}]}`,
		`{"choices":[{"delta":{"content":"B2"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	fake := &fakeCompletions{bodies: []string{streamA, streamB}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	intr := &Interrupt{}
	out := &interruptingWriter{intr: intr, trigger: "A1"}
	c := newTestClient(t, srv, nil, intr, out)
	history := []session.Message{{Role: session.RoleUser, Content: "x"}}

	msg, err := c.GetMessage(context.Background(), history, false)
	require.NoError(t, err)
	assert.Equal(t, InterruptedMessage(), msg)
	assert.NotContains(t, out.buf.String(), "A2")
	assert.True(t, intr.Interrupted(), "signal stays set until the next request")

	msg, err = c.GetMessage(context.Background(), history, false)
	require.NoError(t, err)
	assert.Equal(t, "B1B2", msg.Content)
	assert.False(t, intr.Interrupted())
}

func TestNewOpenAILLMClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAILLMClient(config.Default(), nil, nil, nil)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestMockLLMClient(t *testing.T) {
	var out bytes.Buffer
	m := &MockLLMClient{Out: &out}
	msg, err := m.GetMessage(context.Background(), []session.Message{{Role: session.RoleUser, Content: "ping"}}, true)
	require.NoError(t, err)
	assert.Equal(t, session.RoleAssistant, msg.Role)
	assert.Contains(t, msg.Content, "ping")
	assert.Contains(t, out.String(), "ping")
}
