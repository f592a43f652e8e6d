package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMeta(t *testing.T, r *Registry, args string) string {
	t.Helper()
	out, err := Invoke(context.Background(), r, MetaToolName, json.RawMessage(args))
	require.NoError(t, err)
	return out
}

func TestMetaDelegates(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, "hi", runMeta(t, r, `{"tool_name":"echo","tool_args":{"text":"hi"}}`))
	assert.Equal(t, "hi", runMeta(t, r, `{"tool_name":"functions.echo","tool_args":{"text":"hi"}}`))
}

func TestMetaRefusesItself(t *testing.T) {
	r := newTestRegistry(t)
	for _, args := range []string{
		`{"tool_name":"meta","tool_args":{}}`,
		`{"tool_name":"functions.meta","tool_args":{"tool_name":"echo","tool_args":{"text":"x"}}}`,
	} {
		assert.Equal(t, MetaRefusal, runMeta(t, r, args))
	}
}

func TestMetaUnknownTool(t *testing.T) {
	r := newTestRegistry(t)
	out := runMeta(t, r, `{"tool_name":"nope","tool_args":{}}`)
	assert.Contains(t, out, "nope")
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "shell")
}

func TestMetaValidationNamesField(t *testing.T) {
	r := newTestRegistry(t)
	out := runMeta(t, r, `{"tool_name":"echo","tool_args":{"bogus_field":1}}`)
	assert.Contains(t, out, "bogus_field")

	out = runMeta(t, r, `{"tool_name":"echo","tool_args":{"text":5}}`)
	assert.Contains(t, out, "text")
}

func TestMetaWithoutToolArgs(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, MetaRefusal, runMeta(t, r, `{"tool_name":"meta"}`))

	// The target sees an empty object and reports its own missing field.
	out := runMeta(t, r, `{"tool_name":"echo"}`)
	assert.Contains(t, out, "invalid arguments for tool 'echo'")
	assert.Contains(t, out, "text")
}

type bigInput struct {
	ID json.Number `json:"id"`
}

// registerBig adds a tool echoing its id argument exactly as received.
func registerBig(t *testing.T, r *Registry) {
	t.Helper()
	big, err := NewTool("big", "Echo an id", func(_ context.Context, in bigInput) (string, error) {
		return in.ID.String(), nil
	})
	require.NoError(t, err)
	r.Register(big)
}

func TestMetaKeepsLargeIntegers(t *testing.T) {
	r := newTestRegistry(t)
	registerBig(t, r)
	assert.Equal(t, "9007199254740993", runMeta(t, r, `{"tool_name":"big","tool_args":{"id":9007199254740993}}`))
}
