package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultRequestTimeout  = 2 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 1 << 20

	traceHeader = "X-Trace-Id"
)

// Server exposes the chat service over JSON-RPC on HTTP and WebSocket
type Server struct {
	addr            string
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	maxBodyBytes    int64

	chat        ChatService
	router      *RPCRouter
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	upgrader    websocket.Upgrader
	logger      zerolog.Logger

	server   *http.Server
	listener net.Listener

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int // 0 picks a free port
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	Chat            ChatService
	Logger          zerolog.Logger
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	observability.EnsureRegistered()

	clients := NewClientRegistry()
	s := &Server{
		addr:            net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		requestTimeout:  cfg.RequestTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		maxBodyBytes:    cfg.MaxBodyBytes,
		chat:            cfg.Chat,
		router:          NewRPCRouter(),
		clients:         clients,
		broadcaster:     NewEventBroadcaster(clients, cfg.Logger),
		logger:          cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if err := s.registerBuiltinMethods(); err != nil {
		return nil, fmt.Errorf("failed to register methods: %w", err)
	}

	return s, nil
}

// Handler returns the HTTP handler serving every gateway endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop refuses new work, waits for in-flight requests up to the shutdown
// timeout and closes every connection.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.server != nil {
		// Waits for in-flight HTTP requests; hijacked WebSocket connections are not tracked
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return shutdownErr
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// requestContext attaches trace and request ids and the request timeout
func (s *Server) requestContext(parent context.Context, traceID, requestID string) (context.Context, context.CancelFunc) {
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(parent, traceID)
	ctx = tracing.WithRequestID(ctx, requestID)
	return context.WithTimeout(ctx, s.requestTimeout)
}

func (s *Server) dispatch(ctx context.Context, req *RPCRequest, transport string) *RPCResponse {
	ctx, span := tracing.StartSpan(ctx, "studymate.gateway", "gateway."+req.Method,
		attribute.String("rpc.transport", transport),
		attribute.String("rpc.request_id", req.ID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("method", req.Method).
		Str("transport", transport).
		Msg("Gateway received RPC request")

	start := time.Now()
	resp := s.router.RouteRequest(ctx, req)

	if resp.Error != nil {
		tracing.FailSpan(span, resp.Error)
		logger.Info().
			Str("method", req.Method).
			Int("code", resp.Error.Code).
			Dur("duration", time.Since(start)).
			Msg("RPC request failed")
	} else {
		logger.Info().
			Str("method", req.Method).
			Dur("duration", time.Since(start)).
			Msg("RPC request completed")
	}
	return resp
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("", &RPCError{
			Code:    InvalidRequest,
			Message: "request body too large",
		}))
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", toRPCError(err)))
		return
	}

	ctx, cancel := s.requestContext(r.Context(), r.Header.Get(traceHeader), req.ID)
	defer cancel()

	resp := s.dispatch(ctx, req, "http")

	w.Header().Set(traceHeader, tracing.GetTraceID(ctx))
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket upgrades the connection and serves JSON-RPC frames on it
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(s.maxBodyBytes)

	clientID, _ := gonanoid.New()
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client, r.Header.Get(traceHeader))
}

// handleClient reads frames until the client goes away
func (s *Server) handleClient(client *Client, traceID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID)
		s.handleMessage(ctx, client, traceID, message)
	}
}

// handleMessage parses one frame and answers it asynchronously
func (s *Server) handleMessage(ctx context.Context, client *Client, traceID string, message []byte) {
	req, err := s.router.ParseRequest(message)
	if err != nil {
		s.send(client, errorResponse("", toRPCError(err)))
		return
	}

	if s.shuttingDown() {
		s.send(client, errorResponse(req.ID, &RPCError{Code: InternalError, Message: "server is shutting down"}))
		return
	}

	if ok, code, reason := client.RateLimiter.Begin(); !ok {
		s.send(client, errorResponse(req.ID, &RPCError{Code: code, Message: reason}))
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer client.RateLimiter.End()

		reqCtx, cancel := s.requestContext(ctx, traceID, req.ID)
		defer cancel()

		s.send(client, s.dispatch(reqCtx, req, "websocket"))
	}()
}

func (s *Server) send(client *Client, resp *RPCResponse) {
	if err := client.WriteJSON(resp); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Str("requestId", resp.ID).
			Msg("Failed to send response")
	}
}

// RegisterMethod registers an additional RPC method
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Methods returns the registered RPC method names
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.Snapshot()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
