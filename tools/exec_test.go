package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCode(t *testing.T, tool Tool, code string) (string, error) {
	t.Helper()
	args, err := json.Marshal(ExecInput{Code: code})
	require.NoError(t, err)
	return tool.Execute(context.Background(), args)
}

func TestExecToolPersistsGlobals(t *testing.T) {
	r := newTestRegistry(t)
	tool, err := NewExecTool(r)
	require.NoError(t, err)

	out, err := execCode(t, tool, "x = 40\ndef add(a, b):\n    return a + b\nprint('set')")
	require.NoError(t, err)
	assert.Equal(t, "set\n", out)

	out, err = execCode(t, tool, "print(add(x, 2))")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestExecToolCallTool(t *testing.T) {
	r := newTestRegistry(t)
	tool, err := NewExecTool(r)
	require.NoError(t, err)

	out, err := execCode(t, tool, `print(call_tool("echo", json.encode({"text": "via exec"})))`)
	require.NoError(t, err)
	assert.Equal(t, "via exec\n", out)

	_, err = execCode(t, tool, `call_tool("exec", "{}")`)
	assert.ErrorContains(t, err, "cannot call")
}

func TestExecToolErrorIncludesOutput(t *testing.T) {
	tool, err := NewExecTool(NewRegistry())
	require.NoError(t, err)

	_, err = execCode(t, tool, "print('before')\nfail('nope')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before")
	assert.Contains(t, err.Error(), "nope")
}

func TestExecToolHonoursContext(t *testing.T) {
	tool, err := NewExecTool(NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	args, _ := json.Marshal(ExecInput{Code: "while True:\n    pass"})
	_, err = tool.Execute(ctx, args)
	assert.Error(t, err)
}
