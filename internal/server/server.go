package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/user/sandboxtools/internal/config"
	"github.com/user/sandboxtools/internal/controller"
	"github.com/user/sandboxtools/internal/hub"
	"github.com/user/sandboxtools/internal/jsonrpc"
)

const maxRequestBytes = 4 << 20

// Server is the long-running daemon. It owns the unix socket, routes
// JSON-RPC requests into the controller mux and serves the observer
// websocket endpoint.
type Server struct {
	cfg        *config.Config
	mux        *controller.Mux
	httpServer *http.Server
}

func New(cfg *config.Config, mux *controller.Mux, h *hub.Hub) *Server {
	s := &Server{cfg: cfg, mux: mux}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/rpc", s.handleRPC)
	if h != nil {
		httpMux.HandleFunc("/attach", h.HandleAttach)
	}

	s.httpServer = &http.Server{Handler: httpMux}
	return s
}

// Start listens on the unix socket and serves until ctx is cancelled.
// A stale socket file left by a dead daemon is cleaned up; a live one
// means another daemon owns the path.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("daemon listening", "socket", s.cfg.SocketPath)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		os.Remove(s.cfg.SocketPath)
		return err
	}
}

func (s *Server) listen() (net.Listener, error) {
	path := s.cfg.SocketPath
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	if conn, dialErr := net.DialTimeout("unix", path, time.Second); dialErr == nil {
		conn.Close()
		return nil, fmt.Errorf("another daemon is already listening on %s", path)
	}

	slog.Warn("removing stale socket", "path", path)
	if rmErr := os.Remove(path); rmErr != nil {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, rmErr)
	}
	ln, err = net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	return errors.As(opErr.Err, &sysErr) && sysErr.Syscall == "bind"
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, mustErrorResponse(nil, jsonrpc.CodeParseError, "cannot read request body"))
		return
	}

	if !json.Valid(body) {
		writeResponse(w, mustErrorResponse(nil, jsonrpc.CodeParseError, "request is not valid JSON"))
		return
	}

	req, err := jsonrpc.DecodeRequest(body)
	if err != nil {
		writeResponse(w, mustErrorResponse(nil, jsonrpc.CodeInvalidRequest, err.Error()))
		return
	}

	result, dispatchErr := s.dispatch(r.Context(), req)

	if req.IsNotification() {
		if dispatchErr != nil {
			slog.Warn("notification failed", "method", req.Method, "error", dispatchErr)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var resp []byte
	if dispatchErr != nil {
		resp, err = jsonrpc.ResponseForError(req.ID, dispatchErr)
	} else {
		resp, err = jsonrpc.SuccessResponse(req.ID, result)
	}
	if err != nil {
		slog.Error("cannot marshal response", "method", req.Method, "error", err)
		resp = mustErrorResponse(req.ID, jsonrpc.CodeInternalError, "cannot marshal response")
	}
	writeResponse(w, resp)
}

// dispatch runs one method and converts handler panics into errors so
// a single bad request cannot take the daemon down.
func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "method", req.Method, "panic", r)
			err = fmt.Errorf("internal fault handling %s: %v", req.Method, r)
		}
	}()
	return s.mux.Dispatch(ctx, req.Method, req.Params)
}

func writeResponse(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func mustErrorResponse(id *json.RawMessage, code int, message string) []byte {
	data, err := jsonrpc.ErrorResponse(id, code, message, nil)
	if err != nil {
		// ErrorResponse only fails on unmarshalable data; nil data cannot.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
