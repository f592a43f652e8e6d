package session

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir, "run-1")
	require.NoError(t, err)
	s.Model = "gpt-test"
	s.AddMessage(Message{Role: RoleUser, Content: "hi"})
	s.AddMessage(Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "shell", Arguments: `{"commands":[]}`}}})
	s.AddMessage(Message{Role: RoleTool, Content: "[]", ToolCallID: "call_1", Name: "shell"})
	require.NoError(t, s.Save())

	loaded, err := Load(dir, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", loaded.Model)
	assert.Equal(t, s.History(), loaded.History())
	assert.Equal(t, s.Path(), loaded.Path())
}

func TestMessageJSONOmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hello"}`, string(data))

	data, err = json.Marshal(Message{Role: RoleTool, Content: "ok", ToolCallID: "c1", Name: "file"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"tool","content":"ok","tool_call_id":"c1","name":"file"}`, string(data))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHistoryIsACopy(t *testing.T) {
	s, err := New(t.TempDir(), "copy")
	require.NoError(t, err)
	s.AddMessage(Message{Role: RoleUser, Content: "a"})

	h := s.History()
	h[0].Content = "mutated"
	assert.Equal(t, "a", s.History()[0].Content)
	assert.True(t, Message{ToolCalls: []ToolCall{{ID: "x"}}}.HasToolCalls())
}
