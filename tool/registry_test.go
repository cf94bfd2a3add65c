package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Tool {
	return Function("echo", "Echoes the text back.", Properties{
		"text": {Type: "string", Description: "text to echo"},
	}, "text")
}

func TestRegistryInvokeWrapsPayload(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool(), func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"text": args["text"]}, nil
	}))

	res, err := reg.Invoke(context.Background(), "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "hi", res["text"])
	assert.JSONEq(t, `{"ok":true,"text":"hi"}`, res.JSON())
}

func TestRegistryHandlerErrorIsReportedAsData(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool(), func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("backend down")
	}))

	res, err := reg.Invoke(context.Background(), "echo", `{"text":"hi"}`)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "echo", invErr.Tool)
	assert.False(t, res.OK())
	assert.Contains(t, res["error"], "backend down")
}

func TestRegistryRecoversHandlerPanic(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool(), func(context.Context, map[string]any) (map[string]any, error) {
		panic("boom")
	}))

	res, err := reg.Invoke(context.Background(), "echo", `{"text":"hi"}`)
	require.Error(t, err)
	assert.False(t, res.OK())
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	res, err := reg.Invoke(context.Background(), "nope", `{}`)
	require.ErrorIs(t, err, ErrToolNotFound)
	assert.False(t, res.OK())
}

func TestRegistryMissingRequiredArgument(t *testing.T) {
	reg := NewRegistry(nil)
	called := false
	require.NoError(t, reg.Register(echoTool(), func(context.Context, map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	}))

	res, err := reg.Invoke(context.Background(), "echo", `{}`)
	require.ErrorIs(t, err, ErrMissingArgument)
	assert.False(t, res.OK())
	assert.False(t, called)
}

func TestRegistryInvalidArguments(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool(), func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	}))

	res, err := reg.Invoke(context.Background(), "echo", `{not json`)
	require.Error(t, err)
	assert.False(t, res.OK())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(nil)
	h := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	require.NoError(t, reg.Register(echoTool(), h))
	require.ErrorIs(t, reg.Register(echoTool(), h), ErrDuplicateTool)

	require.NoError(t, reg.Register(Function("get_time", "Get current time", nil), h))
	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "get_time", defs[1].Name)
	assert.Equal(t, TypeFunction, defs[1].Type)
	assert.Equal(t, []string{}, defs[1].Parameters.Required)
}

func TestRegistryRegisterAllStopsAtDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	noop := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }

	err := reg.RegisterAll(
		Binding{Tool: Function("a", "", nil), Handler: noop},
		Binding{Tool: Function("a", "", nil), Handler: noop},
		Binding{Tool: Function("b", "", nil), Handler: noop},
	)
	require.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, reg.Len())
	assert.False(t, reg.Has("b"))
}
