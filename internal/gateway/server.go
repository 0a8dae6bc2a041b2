// Package gateway exposes the tool-call protocol server: JSON-RPC 2.0 over
// HTTP POST on a single path, plus a health endpoint and a websocket feed of
// operation events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/otel"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/planner"
	"github.com/daybreak-ai/daybreak/internal/shared"
)

const (
	protocolVersion = "2025-06-18"
	serverName      = "daybreak"
	serverVersion   = "0.1.0"
)

// JSON-RPC error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Enqueuer triggers an agent task run outside its schedule.
type Enqueuer interface {
	Enqueue(taskID string)
}

// Config holds the server dependencies.
type Config struct {
	BindAddr     string
	TokenTTL     time.Duration
	MaxBodyBytes int64

	Store    *persistence.Store
	Planner  *planner.Service
	Ledger   *oplog.Ledger
	Executor Enqueuer
	Bus      *bus.Bus
	Logger   *slog.Logger
	Metrics  *otel.Metrics
}

// Server is the tool-call protocol server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	token  *authToken
	tools  []*tool
	byName map[string]*tool

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8787"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		token:  newAuthToken(cfg.TokenTTL, logger),
		byName: make(map[string]*tool),
	}
	tools, err := s.buildCatalog()
	if err != nil {
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}
	s.tools = tools
	for _, t := range tools {
		s.byName[t.Name] = t
	}
	return s, nil
}

// Token returns the launch bearer token so main can log it for clients.
func (s *Server) Token() string { return s.token.Token() }

// Addr returns the bound listen address, useful when BindAddr used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.BindAddr
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleHTTP)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWS)

	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway: serve failed", "error", err)
		}
	}()
	s.logger.Info("gateway: listening", "addr", ln.Addr().String(), "tools", len(s.tools))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	code := http.StatusOK
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%q,"version":%q}`, status, serverVersion)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	// One request per connection; clients reconnect for each call.
	w.Header().Set("Connection", "close")

	if !s.token.authorize(r) {
		s.writeError(w, http.StatusUnauthorized, nil, ErrCodeInvalidRequest, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusOK, nil, ErrCodeParse, "parse error")
		return
	}

	// Notifications get an empty 200 with no JSON-RPC body.
	if req.Method == "notifications/initialized" {
		w.WriteHeader(http.StatusOK)
		return
	}

	resp := s.handleRPC(r.Context(), req)
	s.writeResponse(w, http.StatusOK, resp)
}

func (s *Server) handleRPC(ctx context.Context, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
			},
		}
	case "tools/list":
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": s.catalog()}}
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)},
		}
	}
}

func (s *Server) handleToolCall(ctx context.Context, req rpcRequest) rpcResponse {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: ErrCodeInvalidRequest, Message: "tools/call needs params.name"},
		}
	}
	t, ok := s.byName[params.Name]
	if !ok {
		return rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", params.Name)},
		}
	}

	callCtx := shared.WithCorrelationID(ctx, shared.NewCorrelationID())
	callCtx = shared.WithSource(callCtx, "tool")

	started := time.Now()
	result := s.dispatch(callCtx, t, params.Arguments)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ToolCallDuration.Record(callCtx, time.Since(started).Seconds())
		if isErr, _ := result["isError"].(bool); isErr {
			s.cfg.Metrics.ToolCallErrors.Add(callCtx, 1)
		}
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// dispatch validates arguments against the tool's schema and runs the
// handler. Handler errors become isError results, never RPC errors, so the
// caller always gets readable text plus the receipt.
func (s *Server) dispatch(ctx context.Context, t *tool, args map[string]any) map[string]any {
	ctx, span := otel.StartServerSpan(ctx, otel.Tracer(), "gateway.tool_call",
		otel.AttrToolName.String(t.Name),
		otel.AttrCorrelationID.String(shared.CorrelationID(ctx)))
	defer span.End()

	if args == nil {
		args = map[string]any{}
	}
	if err := t.validate(args); err != nil {
		if t.Mutating {
			ev := s.cfg.Ledger.Fail(ctx, "failed", t.Entity, "", err)
			return errorResult(fmt.Sprintf("invalid arguments: %v", err), receiptFields(ev))
		}
		return errorResult(fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	text, extra, err := t.handler(ctx, args)
	if err != nil {
		s.logger.Warn("gateway: tool failed", "tool", t.Name, "error", err)
		if t.Mutating && extra == nil {
			ev := s.cfg.Ledger.Fail(ctx, "failed", t.Entity, "", err)
			extra = receiptFields(ev)
		}
		return errorResult(err.Error(), extra)
	}
	return textResult(text, extra)
}

func textResult(text string, extra map[string]any) map[string]any {
	out := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": false,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func errorResult(text string, extra map[string]any) map[string]any {
	out := textResult(text, extra)
	out["isError"] = true
	return out
}

func receiptFields(ev persistence.OperationEvent) map[string]any {
	return map[string]any{
		"correlation_id": ev.CorrelationID,
		"operation":      ev.Operation,
		"status":         string(ev.Status),
		"message":        ev.Message,
		"entity_type":    ev.EntityType,
		"entity_id":      ev.EntityID,
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, httpStatus int, resp rpcResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("gateway: marshal response failed", "error", err)
		body = []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"}}`)
		httpStatus = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(httpStatus)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, httpStatus int, id json.RawMessage, code int, msg string) {
	s.writeResponse(w, httpStatus, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: msg},
	})
}
