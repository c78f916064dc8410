// Package httpapi exposes the read-only query surface over the Computation
// Cache: GET /api/compute/{formula}/{contract} with args and an optional
// atBlock pin. Unauthenticated by design (SPEC_FULL Non-goals: no auth
// layer).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"wasmindexer/internal/errs"
	"wasmindexer/internal/model"
)

// Cache is the narrow surface the server needs from compute.Cache.
type Cache interface {
	Query(ctx context.Context, formulaName, contract string, args map[string]string, atBlock *uint64) (*model.Computation, error)
}

// Server is the query transport.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	cache      Cache
	log        *zap.SugaredLogger
}

// NewServer builds the router and binds it to addr. Call Start to serve.
func NewServer(addr string, cache Cache, log *zap.SugaredLogger) *Server {
	s := &Server{router: mux.NewRouter(), cache: cache, log: log}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Start blocks, serving until the listener errors (e.g. on Shutdown).
func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *Server) routes() {
	s.router.Use(loggingMiddleware(s.log))
	s.router.HandleFunc("/api/compute/{formula}/{contract}", s.handleCompute).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	formulaName := vars["formula"]
	contract := vars["contract"]

	query := r.URL.Query()
	args := make(map[string]string)
	var atBlock *uint64
	for k, v := range query {
		if len(v) == 0 {
			continue
		}
		if k == "atBlock" {
			h, err := strconv.ParseUint(v[0], 10, 64)
			if err != nil {
				http.Error(w, "invalid atBlock", http.StatusBadRequest)
				return
			}
			atBlock = &h
			continue
		}
		args[k] = v[0]
	}

	comp, err := s.cache.Query(r.Context(), formulaName, contract, args, atBlock)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotYetIndexed):
		http.Error(w, err.Error(), http.StatusAccepted)
	case errors.Is(err, errs.ErrUnknownFormula):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errs.ErrContractNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errs.ErrFormulaEval):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.log.Errorw("compute query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(log *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debugw("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
