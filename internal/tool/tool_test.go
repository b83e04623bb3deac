package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/provider"
)

type echoTool struct{ name string }

func (e echoTool) Name() string        { return e.name }
func (e echoTool) Description() string { return "echo" }
func (e echoTool) Parameters() any     { return map[string]any{"type": "object"} }
func (e echoTool) Execute(_ context.Context, args string) (string, error) {
	return e.name + ":" + args, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{"b"})
	reg.Register(echoTool{"a"})

	assert.True(t, reg.Has("a"))
	assert.False(t, reg.Has("c"))
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Function.Name)

	out, err := reg.ExecuteCall(context.Background(), provider.ToolCall{
		Function: provider.ToolCallFunction{Name: "b", Arguments: `{"x":1}`},
	})
	require.NoError(t, err)
	assert.Equal(t, `b:{"x":1}`, out)

	_, err = reg.Execute(context.Background(), "c", "{}")
	assert.ErrorIs(t, err, ErrToolNotFound)
}
