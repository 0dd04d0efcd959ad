// Package api exposes the stream ledger over HTTP/JSON.
//
// The caller's account is taken from the X-Account header; it is the
// requester for claim, pause, resume and cancel and the sender for create.
// Authenticating that header is left to middleware in front of the handler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/xraph/paystream"
)

// Header names used by the API.
const (
	HeaderAccount   = "X-Account"
	HeaderRequestID = "X-Request-ID"
)

type ctxKey int

const requestIDKey ctxKey = iota

// Server serves the HTTP API for a Ledger.
type Server struct {
	ledger *paystream.Ledger
	logger *slog.Logger

	router http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds a Server and its router.
func New(l *paystream.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger: l,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/stats", s.Stats)

		v1.Route("/streams", func(streams chi.Router) {
			streams.Get("/", s.ListStreams)
			streams.With(requireAccount).Post("/", s.CreateStream)

			streams.Route("/{id}", func(one chi.Router) {
				one.Get("/", s.GetStream)
				one.Get("/claimable", s.Claimable)
				one.Get("/transfers", s.ListTransfers)
				one.Get("/reconcile", s.Reconcile)
				one.Post("/activate", s.Activate)

				one.Group(func(owned chi.Router) {
					owned.Use(requireAccount)
					owned.Post("/claim", s.Claim)
					owned.Post("/pause", s.Pause)
					owned.Post("/resume", s.Resume)
					owned.Post("/cancel", s.Cancel)
				})
			})
		})
	})

	return r
}

// requestID propagates X-Request-ID, generating one when absent.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if account(r) == "" {
			writeError(w, r, http.StatusUnauthorized, "missing "+HeaderAccount+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func account(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderAccount))
}

// RequestID returns the request id assigned by the API middleware.
func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps ledger errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, paystream.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, paystream.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, paystream.ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, paystream.ErrInvalidState),
		errors.Is(err, paystream.ErrVersionConflict),
		errors.Is(err, paystream.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, paystream.ErrNothingToClaim):
		return http.StatusUnprocessableEntity
	case errors.Is(err, paystream.ErrSettlement),
		errors.Is(err, paystream.ErrCancelPending):
		return http.StatusBadGateway
	case errors.Is(err, paystream.ErrDispatcherNotConfigured),
		errors.Is(err, paystream.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"status", status,
			"error", err,
		)
	}
	writeError(w, r, status, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, RequestID: RequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
