package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/m4xw311/egoist/config"
	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

// InterruptedContent is the content of the system message returned in place
// of a stream the user interrupted.
const InterruptedContent = "\nStreaming response interrupted by user."

// Client requests the next assistant message for a conversation.
type Client interface {
	// GetMessage streams one assistant message. When toolsEnabled is false
	// no tool schemas are sent, so the reply is plain text. An interrupted
	// stream yields InterruptedMessage and a nil error.
	GetMessage(ctx context.Context, history []session.Message, toolsEnabled bool, opts ...CallOption) (session.Message, error)
}

type callOptions struct {
	toolChoice string
}

// CallOption configures one GetMessage call.
type CallOption func(*callOptions)

// WithToolChoice forces the model to call the named tool. It has no effect
// when tools are disabled.
func WithToolChoice(name string) CallOption {
	return func(o *callOptions) { o.toolChoice = name }
}

// InterruptedMessage is the synthetic message standing in for an interrupted
// stream.
func InterruptedMessage() session.Message {
	return session.Message{Role: session.RoleSystem, Content: InterruptedContent}
}

// StatusError is returned for a non-200 response. Body is the drained
// response body and Payload the request that was sent.
type StatusError struct {
	StatusCode int
	Body       string
	Payload    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got bad status code: %d, body: %s\npayload: %s", e.StatusCode, e.Body, e.Payload)
}

// OpenAILLMClient streams chat completions from an OpenAI-compatible endpoint.
type OpenAILLMClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	model      string
	tools      []tools.Tool
	intr       *Interrupt
	out        io.Writer
}

// NewOpenAILLMClient creates a client for cfg.Model. It requires the
// OPENAI_API_KEY environment variable; OPENAI_BASE_URL, when set, overrides
// cfg.BaseURL. ts are the tool schemas sent when tools are enabled, intr is
// reset at the start of every request, and streamed content is echoed to out
// (which may be nil).
func NewOpenAILLMClient(cfg *config.Config, ts []tools.Tool, intr *Interrupt, out io.Writer) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	baseURL := cfg.BaseURL
	if env := os.Getenv("OPENAI_BASE_URL"); env != "" {
		baseURL = env
	}
	if out == nil {
		out = io.Discard
	}
	if intr == nil {
		intr = &Interrupt{}
	}

	return &OpenAILLMClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        strings.TrimSuffix(baseURL, "/") + "/chat/completions",
		apiKey:     apiKey,
		model:      cfg.Model,
		tools:      ts,
		intr:       intr,
		out:        out,
	}, nil
}

func (c *OpenAILLMClient) GetMessage(ctx context.Context, history []session.Message, toolsEnabled bool, opts ...CallOption) (session.Message, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	var ts []tools.Tool
	if toolsEnabled {
		ts = c.tools
	}
	payload, err := buildPayload(c.model, history, ts, o.toolChoice)
	if err != nil {
		return session.Message{}, err
	}
	slog.Debug("sending chat completion request", "url", c.url, "bytes", len(payload), "tools", len(ts))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return session.Message{}, errors.Wrapf(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.Message{}, errors.Wrapf(err, "failed to send message to %s", c.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return session.Message{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Payload:    string(payload),
		}
	}

	// A stale interrupt from an earlier stream must not cut this one short.
	c.intr.Reset()

	fmt.Fprint(c.out, "Assistant: ")
	msg, err := Accumulate(echo(NewDecoder(resp.Body, c.intr).Events(), c.out))
	fmt.Fprintln(c.out)
	if errors.Is(err, ErrInterrupted) {
		return InterruptedMessage(), nil
	}
	if err != nil {
		return session.Message{}, errors.Wrapf(err, "failed to read streamed response")
	}
	return msg, nil
}

// echo forwards events unchanged, writing text and tool-call fragments to w
// as they pass.
func echo(events iter.Seq2[Event, error], w io.Writer) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for ev, err := range events {
			switch ev := ev.(type) {
			case ContentFragment:
				io.WriteString(w, ev.Text)
			case ToolCallStarted:
				fmt.Fprintf(w, "%s: %s", ev.Name, ev.Arguments)
			case ToolCallArgFragment:
				io.WriteString(w, ev.Text)
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}

// MockLLMClient parrots the last message back. It needs no network access.
type MockLLMClient struct {
	Out io.Writer
}

func (m *MockLLMClient) GetMessage(ctx context.Context, history []session.Message, toolsEnabled bool, opts ...CallOption) (session.Message, error) {
	last := ""
	if len(history) > 0 {
		last = history[len(history)-1].Content
	}
	msg := session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
	}
	if m.Out != nil {
		fmt.Fprintf(m.Out, "Assistant: %s\n", msg.Content)
	}
	return msg, nil
}
