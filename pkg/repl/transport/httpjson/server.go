package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/replset/topology/pkg/observability/tracing"
	repltransport "github.com/replset/topology/pkg/repl/transport"
)

// Server is a minimal HTTP server exposing the heartbeat and vote
// endpoints peers call into during replication.
type Server struct {
	bind     string
	addr     string
	srv      *http.Server
	logger   *log.Logger
}

// NewServer binds to the given TCP address (e.g., ":27018").
func NewServer(bind string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{bind: bind, logger: logger}
}

// Start launches the HTTP server and registers handlers backed by the
// provided functions. The server is shut down when ctx is canceled.
func (s *Server) Start(ctx context.Context, heartbeat repltransport.HeartbeatFunc, vote repltransport.VoteFunc, admin repltransport.AdminFuncs) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/topology/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req repltransport.HeartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		ctx, end := tracing.StartSpan(r.Context(), "topology.heartbeat")
		defer end()
		resp, err := heartbeat(ctx, req)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			resp.ErrorMessage = err.Error()
			w.WriteHeader(http.StatusInternalServerError)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/topology/vote", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req repltransport.VoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		ctx, end := tracing.StartSpan(r.Context(), "topology.requestVotes")
		defer end()
		resp, err := vote(ctx, req)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			resp.Reason = err.Error()
			w.WriteHeader(http.StatusInternalServerError)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/topology/stepDown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req repltransport.StepDownRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		resp, err := admin.StepDown(r.Context(), req)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			resp.ErrorMessage = err.Error()
			w.WriteHeader(http.StatusConflict)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/topology/freeze", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req repltransport.FreezeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		resp, err := admin.Freeze(r.Context(), req)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			resp.ErrorMessage = err.Error()
			w.WriteHeader(http.StatusConflict)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/topology/syncFrom", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req repltransport.SyncFromRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		resp, err := admin.SyncFrom(r.Context(), req)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			resp.ErrorMessage = err.Error()
			w.WriteHeader(http.StatusConflict)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	s.srv = &http.Server{Addr: s.bind, Handler: mux}
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("repl/httpjson: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the address the server is actually listening on, which
// differs from the configured bind when it used an OS-assigned port
// (e.g. "127.0.0.1:0").
func (s *Server) Addr() string {
	if s.addr != "" {
		return s.addr
	}
	return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(c)
	s.srv = nil
	return err
}

var _ repltransport.Server = (*Server)(nil)
