package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agrichain/core"
	"agrichain/observability"
	"agrichain/observability/logging"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-Id"
)

// Config controls the JSON-RPC server.
type Config struct {
	Auth              AuthConfig
	RequestsPerSecond float64
	Burst             int
	// AnonymousReads lets unauthenticated callers use view methods.
	AnonymousReads bool
	ReadTimeout    time.Duration
	// Tracing wraps every route in an otelhttp server span.
	Tracing bool
}

type handlerFunc func(ctx context.Context, caller common.Address, params json.RawMessage) (interface{}, error)

type method struct {
	module string
	write  bool
	handle handlerFunc
}

// Server exposes the node over JSON-RPC 2.0 and a websocket event stream.
type Server struct {
	node    *core.Node
	cfg     Config
	auth    *Authenticator
	limiter *callerLimiter
	logger  *slog.Logger
	methods map[string]method
	router  http.Handler
	http    *http.Server
}

// NewServer builds the router for node.
func NewServer(node *core.Node, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newCallerLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger.With(slog.String("component", "rpc")),
		methods: make(map[string]method),
	}
	s.registerSupplyChain()
	s.registerEscrow()
	s.registerReputation()
	s.registerAccess()
	s.registerEvents()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Post("/", s.handle)
	r.Get("/ws", s.handleEventsWS)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	if cfg.Tracing {
		s.router = otelhttp.NewHandler(r, "agrichain-rpc",
			otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
				return req.Method + " " + req.URL.Path
			}))
	}
	return s
}

func (s *Server) register(name, module string, write bool, fn handlerFunc) {
	s.methods[name] = method{module: module, write: write, handle: fn}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", slog.String("addr", addr))
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	done, err := s.node.Initialized()
	if err != nil || !done {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "starting"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "time": s.node.Now()})
}

// handle decodes one JSON-RPC call, authenticates and throttles the caller,
// and dispatches to the registered method.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: "method not found", Data: req.Method})
		return
	}

	start := time.Now()
	metrics := observability.ModuleMetrics()
	caller, authenticated, authErr := s.auth.Caller(r)
	if authErr != nil || (!authenticated && (m.write || !s.cfg.AnonymousReads)) {
		detail := "bearer token required"
		if authErr != nil {
			detail = authErr.Error()
		}
		metrics.Observe(m.module, req.Method, codeUnauthorized, time.Since(start))
		writeError(w, http.StatusUnauthorized, req.ID, &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: detail})
		return
	}
	limiterKey := "ip:" + clientIP(r)
	if authenticated {
		limiterKey = "addr:" + caller.Hex()
	}
	if !s.limiter.Allow(limiterKey) {
		metrics.RecordThrottle(m.module, "rate_limit")
		metrics.Observe(m.module, req.Method, codeRateLimited, time.Since(start))
		writeError(w, http.StatusTooManyRequests, req.ID, &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"})
		return
	}

	var params json.RawMessage
	switch len(req.Params) {
	case 0:
		params = json.RawMessage("{}")
	case 1:
		params = req.Params[0]
	default:
		metrics.Observe(m.module, req.Method, codeInvalidParams, time.Since(start))
		writeError(w, http.StatusBadRequest, req.ID, invalidParams("exactly one parameter object expected"))
		return
	}

	requestID := requestIDFrom(r.Context())
	result, err := m.handle(r.Context(), caller, params)
	if err != nil {
		rpcErr := toRPCError(err, requestID)
		metrics.Observe(m.module, req.Method, rpcErr.Code, time.Since(start))
		level := slog.LevelDebug
		if rpcErr.Code == codeServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "rpc call failed",
			slog.String("method", req.Method),
			slog.String("requestId", requestID),
			slog.String("caller", caller.Hex()),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
			slog.String("error", err.Error()))
		writeError(w, rpcErr.status, req.ID, rpcErr)
		return
	}
	metrics.Observe(m.module, req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

// decodeParams unmarshals raw into out rejecting unknown fields.
func decodeParams(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}
