package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/studymate/pkg/chat"
	"github.com/harun/studymate/pkg/provider"
	"github.com/xeipuuv/gojsonschema"
)

type method struct {
	handler RequestHandler
	schema  *gojsonschema.Schema
}

// RPCRouter handles RPC method registration and request routing
type RPCRouter struct {
	mu               sync.RWMutex
	methods          map[string]method
	idempotencyTTL   time.Duration
	idempotencyCache map[string]cachedRPCResponse
}

type cachedRPCResponse struct {
	response  RPCResponse
	expiresAt time.Time
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods:          make(map[string]method),
		idempotencyTTL:   5 * time.Minute,
		idempotencyCache: make(map[string]cachedRPCResponse),
	}
}

// RegisterMethod registers an RPC method handler without parameter validation
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	return r.RegisterMethodWithSchema(name, "", handler)
}

// RegisterMethodWithSchema registers a handler whose params must match a JSON Schema
func (r *RPCRouter) RegisterMethodWithSchema(name, schema string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	m := method{handler: handler}
	if schema != "" {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid schema for %s: %w", name, err)
		}
		m.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = m
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    map[string]interface{}{"kind": string(chat.KindValidation), "detail": err.Error()},
		}
	}

	if req.ID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing id field",
			Data:    map[string]interface{}{"kind": string(chat.KindValidation)},
		}
	}

	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
			Data:    map[string]interface{}{"kind": string(chat.KindValidation)},
		}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	return &req, nil
}

// RouteRequest validates the params of req and runs its handler
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return &RPCResponse{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    InvalidRequest,
				Message: "invalid request",
			},
		}
	}

	cacheKey := idempotencyCacheKey(req.Method, req.IdempotencyKey)
	if cacheKey != "" {
		if cached, ok := r.getCachedResponse(cacheKey); ok {
			cached.ID = req.ID
			return &cached
		}
	}

	r.mu.RLock()
	m, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		return errorResponse(req.ID, &RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParams(m.schema, params); err != nil {
		return errorResponse(req.ID, err)
	}

	result, err := m.handler(ctx, params)
	var response *RPCResponse
	if err != nil {
		response = errorResponse(req.ID, toRPCError(err))
	} else {
		response = &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Result:  result,
		}
	}

	// Failures are not cached so a client can retry with the same key
	if cacheKey != "" && response.Error == nil {
		r.cacheResponse(cacheKey, *response)
	}

	return response
}

// HasMethod checks if a method is registered
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// GetMethods returns all registered method names, sorted
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) *RPCError {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: map[string]interface{}{"kind": string(chat.KindValidation), "detail": err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return &RPCError{
			Code:    InvalidParams,
			Message: "Invalid params: " + strings.Join(problems, "; "),
			Data:    map[string]interface{}{"kind": string(chat.KindValidation)},
		}
	}
	return nil
}

// toRPCError maps orchestrator failures onto JSON-RPC codes
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	kind := chat.KindOf(err)
	data := map[string]interface{}{"kind": string(kind)}

	switch kind {
	case chat.KindValidation:
		return &RPCError{Code: InvalidParams, Message: err.Error(), Data: data}
	case chat.KindNotFound:
		return &RPCError{Code: NotFound, Message: err.Error(), Data: data}
	case chat.KindProvider:
		var pe *provider.Error
		if errors.As(err, &pe) {
			data["provider"] = string(pe.Provider)
			data["providerKind"] = string(pe.Kind)
			if pe.Status != 0 {
				data["status"] = pe.Status
			}
		}
		return &RPCError{Code: ProviderFailed, Message: err.Error(), Data: data}
	case chat.KindPersistence:
		return &RPCError{Code: PersistenceFailed, Message: err.Error(), Data: data}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &RPCError{Code: RequestTimeout, Message: "request timed out", Data: map[string]interface{}{"kind": "timeout"}}
	}
	if errors.Is(err, context.Canceled) {
		return &RPCError{Code: RequestTimeout, Message: "request cancelled", Data: map[string]interface{}{"kind": "cancelled"}}
	}
	return &RPCError{Code: InternalError, Message: err.Error(), Data: map[string]interface{}{"kind": "internal"}}
}

func errorResponse(id string, err *RPCError) *RPCResponse {
	return &RPCResponse{
		ID:      id,
		JSONRPC: "2.0",
		Error:   err,
	}
}

func idempotencyCacheKey(method string, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return method + ":" + idempotencyKey
}

func (r *RPCRouter) getCachedResponse(key string) (RPCResponse, bool) {
	r.mu.RLock()
	entry, exists := r.idempotencyCache[key]
	r.mu.RUnlock()
	if !exists {
		return RPCResponse{}, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		r.mu.Lock()
		if current, ok := r.idempotencyCache[key]; ok && now.After(current.expiresAt) {
			delete(r.idempotencyCache, key)
		}
		r.mu.Unlock()
		return RPCResponse{}, false
	}

	return entry.response, true
}

func (r *RPCRouter) cacheResponse(key string, response RPCResponse) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.idempotencyCache[key] = cachedRPCResponse{
		response:  response,
		expiresAt: now.Add(r.idempotencyTTL),
	}
	for cacheKey, entry := range r.idempotencyCache {
		if now.After(entry.expiresAt) {
			delete(r.idempotencyCache, cacheKey)
		}
	}
}
