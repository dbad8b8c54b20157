package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchvault/core"
	"matchvault/observability"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Server exposes the custody node over JSON-RPC.
type Server struct {
	node   *core.Node
	logger *slog.Logger
}

// NewServer wraps a node for RPC serving.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, logger: logger}
}

// Router builds the HTTP surface: the JSON-RPC endpoint plus health and
// metrics probes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/rpc", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(params []json.RawMessage) (interface{}, *RPCError)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"matchvault_createProfile":  s.handleCreateProfile,
		"matchvault_updateProfile":  s.handleUpdateProfile,
		"matchvault_getProfile":     s.handleGetProfile,
		"matchvault_depositForDm":   s.handleDepositForDm,
		"matchvault_acceptDm":       s.handleAcceptDm,
		"matchvault_declineDm":      s.handleDeclineDm,
		"matchvault_refundDm":       s.handleRefundDm,
		"matchvault_getEscrow":      s.handleGetEscrow,
		"matchvault_createAuction":  s.handleCreateAuction,
		"matchvault_placeBid":       s.handlePlaceBid,
		"matchvault_claimAuction":   s.handleClaimAuction,
		"matchvault_cancelAuction":  s.handleCancelAuction,
		"matchvault_getAuction":     s.handleGetAuction,
		"matchvault_createBounty":   s.handleCreateBounty,
		"matchvault_updateBounty":   s.handleUpdateBounty,
		"matchvault_payoutReferral": s.handlePayoutReferral,
		"matchvault_cancelBounty":   s.handleCancelBounty,
		"matchvault_getBounty":      s.handleGetBounty,
		"matchvault_getBalance":     s.handleGetBalance,
		"matchvault_mint":           s.handleMint,
		"matchvault_events":         s.handleEvents,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.handlers()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method, nil)
		return
	}

	start := time.Now()
	result, rpcErr := handler(req.Params)
	duration := time.Since(start)
	if rpcErr != nil {
		observability.Custody().Observe(req.Method, duration, errorFor(rpcErr))
		s.logger.Warn("rpc call failed", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		status := http.StatusBadRequest
		if rpcErr.Code == codeServerError {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	observability.Custody().Observe(req.Method, duration, nil)
	writeResult(w, req.ID, result)
}

type rpcFailure struct {
	message string
}

func (e rpcFailure) Error() string { return e.message }

func errorFor(rpcErr *RPCError) error {
	if rpcErr == nil {
		return nil
	}
	return rpcFailure{message: rpcErr.Message}
}
