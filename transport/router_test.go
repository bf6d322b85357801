package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

func TestRouter_HandlerIsolation(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	var calls []string
	_, err := r.On("evt", func(context.Context, json.RawMessage, msgctx.MessageContext) error {
		calls = append(calls, "first")
		return errors.New("nope")
	})
	require.NoError(t, err)
	_, err = r.On("evt", func(context.Context, json.RawMessage, msgctx.MessageContext) error {
		calls = append(calls, "second")
		panic("boom")
	})
	require.NoError(t, err)
	_, err = r.On(AnyEvent, func(context.Context, json.RawMessage, msgctx.MessageContext) error {
		calls = append(calls, "any")
		return nil
	})
	require.NoError(t, err)

	failed := r.DispatchEvent(context.Background(), "evt", nil, msgctx.MessageContext{})
	assert.Equal(t, 2, failed)
	assert.Equal(t, []string{"first", "second", "any"}, calls)
}

func TestRouter_Off(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	count := 0
	id, err := r.On("evt", func(context.Context, json.RawMessage, msgctx.MessageContext) error {
		count++
		return nil
	})
	require.NoError(t, err)

	r.DispatchEvent(context.Background(), "evt", nil, msgctx.MessageContext{})
	r.Off("evt", id)
	r.Off("evt", id)
	r.DispatchEvent(context.Background(), "evt", nil, msgctx.MessageContext{})
	assert.Equal(t, 1, count)
}

func TestRouter_HandleRequest(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	echo := func(_ context.Context, payload json.RawMessage, _ msgctx.MessageContext) (json.RawMessage, error) {
		return payload, nil
	}
	require.NoError(t, r.HandleRequest("echo", echo))
	assert.ErrorIs(t, r.HandleRequest("echo", echo), rterrors.ErrHandlerExists)
	assert.ErrorIs(t, r.HandleRequest("", echo), rterrors.ErrNameRequired)
	assert.ErrorIs(t, r.HandleRequest("nil", nil), rterrors.ErrHandlerRequired)
	assert.True(t, r.HasRequestHandler("echo"))

	out, merr := r.DispatchRequest(context.Background(), "echo", json.RawMessage(`"x"`), msgctx.MessageContext{})
	require.Nil(t, merr)
	assert.JSONEq(t, `"x"`, string(out))

	_, merr = r.DispatchRequest(context.Background(), "missing", nil, msgctx.MessageContext{})
	require.NotNil(t, merr)
	assert.Equal(t, msgerr.CodeHandlerNotFound, merr.Code)
}

func TestRouter_RequestErrorsBecomeMessagingErrors(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	require.NoError(t, r.HandleRequest("plain", func(context.Context, json.RawMessage, msgctx.MessageContext) (json.RawMessage, error) {
		return nil, errors.New("db down")
	}))
	require.NoError(t, r.HandleRequest("typed", func(context.Context, json.RawMessage, msgctx.MessageContext) (json.RawMessage, error) {
		return nil, msgerr.New(msgerr.CodeClientNotFound, msgerr.WithParam("clientId", "c1"))
	}))

	_, merr := r.DispatchRequest(context.Background(), "plain", nil, msgctx.MessageContext{})
	require.NotNil(t, merr)
	assert.Equal(t, msgerr.CodeInternal, merr.Code)
	assert.Equal(t, "Internal server error", merr.ToResponseError().Message, "internal text is not exposed")

	_, merr = r.DispatchRequest(context.Background(), "typed", nil, msgctx.MessageContext{})
	require.NotNil(t, merr)
	assert.Equal(t, msgerr.CodeClientNotFound, merr.Code)
	assert.Equal(t, []string{"plain", "typed"}, r.RequestTypes())
}
