package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/harun/studymate/pkg/chat"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/harun/studymate/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(result interface{}) RequestHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return result, nil
	}
}

func TestRPCRouter_RegisterMethod(t *testing.T) {
	router := NewRPCRouter()

	t.Run("should register method successfully", func(t *testing.T) {
		err := router.RegisterMethod("test.method", okHandler("result"))
		assert.NoError(t, err)
		assert.True(t, router.HasMethod("test.method"))
	})

	t.Run("should reject nil handler", func(t *testing.T) {
		err := router.RegisterMethod("test.nil", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "handler cannot be nil")
	})

	t.Run("should reject invalid schema", func(t *testing.T) {
		err := router.RegisterMethodWithSchema("test.schema", `{"type": 12}`, okHandler("x"))
		assert.Error(t, err)
	})

	t.Run("should unregister method", func(t *testing.T) {
		router.UnregisterMethod("test.method")
		assert.False(t, router.HasMethod("test.method"))
		router.UnregisterMethod("non.existent")
	})
}

func TestRPCRouter_ParseRequest(t *testing.T) {
	router := NewRPCRouter()

	t.Run("should parse valid request", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"test.method","params":{"key":"value"}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "test.method", req.Method)
		assert.Equal(t, "value", req.Params["key"])
		assert.Equal(t, "2.0", req.JSONRPC)
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		_, err := router.ParseRequest([]byte(`{not json`))
		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, ParseError, rpcErr.Code)

		data, ok := rpcErr.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "validation", data["kind"])
		assert.NotEmpty(t, data["detail"])
	})

	t.Run("should reject missing id or method", func(t *testing.T) {
		for _, raw := range []string{`{"method":"x"}`, `{"id":"1"}`} {
			_, err := router.ParseRequest([]byte(raw))
			rpcErr := toRPCError(err)
			assert.Equal(t, InvalidRequest, rpcErr.Code)
			data, ok := rpcErr.Data.(map[string]interface{})
			require.True(t, ok, raw)
			assert.Equal(t, "validation", data["kind"])
		}
	})
}

func TestRPCRouter_RouteRequest(t *testing.T) {
	router := NewRPCRouter()
	ctx := context.Background()
	require.NoError(t, router.RegisterMethodWithSchema("echo", `{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params["text"], nil
	}))

	t.Run("should route to handler", func(t *testing.T) {
		resp := router.RouteRequest(ctx, &RPCRequest{ID: "1", Method: "echo", Params: map[string]interface{}{"text": "hi"}})
		assert.Nil(t, resp.Error)
		assert.Equal(t, "hi", resp.Result)
		assert.Equal(t, "1", resp.ID)
	})

	t.Run("should reject params failing the schema", func(t *testing.T) {
		resp := router.RouteRequest(ctx, &RPCRequest{ID: "2", Method: "echo", Params: map[string]interface{}{"text": 5}})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "text")
	})

	t.Run("should treat missing params as empty object", func(t *testing.T) {
		resp := router.RouteRequest(ctx, &RPCRequest{ID: "3", Method: "echo"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("should report unknown method", func(t *testing.T) {
		resp := router.RouteRequest(ctx, &RPCRequest{ID: "4", Method: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("should handle nil request", func(t *testing.T) {
		resp := router.RouteRequest(ctx, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})
}

func TestRPCRouter_Idempotency(t *testing.T) {
	router := NewRPCRouter()
	ctx := context.Background()
	calls := 0
	require.NoError(t, router.RegisterMethod("count", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		calls++
		if params["fail"] == true {
			return nil, errors.New("boom")
		}
		return calls, nil
	}))

	first := router.RouteRequest(ctx, &RPCRequest{ID: "1", Method: "count", IdempotencyKey: "k"})
	second := router.RouteRequest(ctx, &RPCRequest{ID: "2", Method: "count", IdempotencyKey: "k"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, "2", second.ID)

	// failures are never replayed
	router.RouteRequest(ctx, &RPCRequest{ID: "3", Method: "count", IdempotencyKey: "f", Params: map[string]interface{}{"fail": true}})
	router.RouteRequest(ctx, &RPCRequest{ID: "4", Method: "count", IdempotencyKey: "f", Params: map[string]interface{}{"fail": true}})
	assert.Equal(t, 3, calls)
}

func TestToRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"validation", &chat.Error{Kind: chat.KindValidation, Message: "bad"}, InvalidParams, "validation"},
		{"not found", &chat.Error{Kind: chat.KindNotFound, Message: "gone", Err: conversation.ErrNotFound}, NotFound, "not_found"},
		{"persistence", &chat.Error{Kind: chat.KindPersistence, Message: "disk"}, PersistenceFailed, "persistence"},
		{"provider", &chat.Error{Kind: chat.KindProvider, Message: "429", Err: &provider.Error{Provider: provider.OpenAI, Kind: provider.KindRateLimit, Status: 429}}, ProviderFailed, "provider"},
		{"timeout", fmt.Errorf("waiting: %w", context.DeadlineExceeded), RequestTimeout, "timeout"},
		{"lane wait cancelled", &chat.Error{Kind: chat.KindCancelled, Message: "waiting", Err: context.Canceled}, RequestTimeout, "cancelled"},
		{"other", errors.New("unexpected"), InternalError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := toRPCError(tt.err)
			assert.Equal(t, tt.code, rpcErr.Code)
			data, ok := rpcErr.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.kind, data["kind"])
		})
	}

	rpcErr := toRPCError(&chat.Error{Kind: chat.KindProvider, Message: "429", Err: &provider.Error{Provider: provider.OpenAI, Kind: provider.KindRateLimit, Status: 429}})
	data := rpcErr.Data.(map[string]interface{})
	assert.Equal(t, "rate_limit", data["providerKind"])
	assert.Equal(t, 429, data["status"])
}

func TestRPCRouter_GetMethodsSorted(t *testing.T) {
	router := NewRPCRouter()
	_ = router.RegisterMethod("b", okHandler(nil))
	_ = router.RegisterMethod("a", okHandler(nil))
	assert.Equal(t, []string{"a", "b"}, router.GetMethods())
}
