package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// CreateStreamRequest is the body of POST /v1/streams. Amount is in the
// currency's minimum unit and Duration is a Go duration string.
type CreateStreamRequest struct {
	Recipient string            `json:"recipient"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Duration  string            `json:"duration"`
	StartAt   *time.Time        `json:"start_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// cancelResponse carries a cancel-pending result alongside its error.
type cancelResponse struct {
	*paystream.CancelResult
	Error string `json:"error,omitempty"`
}

// CreateStream handles POST /v1/streams.
func (s *Server) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req CreateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid payload")
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		s.fail(w, r, paystream.ValidationError{Field: "duration", Message: "invalid duration"})
		return
	}

	st, err := s.ledger.CreateStream(r.Context(), paystream.CreateParams{
		Sender:    account(r),
		Recipient: req.Recipient,
		Amount:    types.New(req.Amount, req.Currency),
		Duration:  d,
		StartAt:   req.StartAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// ListStreams handles GET /v1/streams.
func (s *Server) ListStreams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := stream.ListOpts{
		Sender:    q.Get("sender"),
		Recipient: q.Get("recipient"),
		State:     stream.State(q.Get("state")),
	}
	if opts.State != "" && !opts.State.Valid() {
		s.fail(w, r, paystream.ValidationError{Field: "state", Message: "unknown state"})
		return
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		s.fail(w, r, paystream.ValidationError{Field: "limit", Message: err.Error()})
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		s.fail(w, r, paystream.ValidationError{Field: "offset", Message: err.Error()})
		return
	}

	list, err := s.ledger.ListStreams(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetStream handles GET /v1/streams/{id}.
func (s *Server) GetStream(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.GetStream(r.Context(), streamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Claimable handles GET /v1/streams/{id}/claimable.
func (s *Server) Claimable(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	info, err := s.ledger.ClaimableInfo(r.Context(), streamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Activate handles POST /v1/streams/{id}/activate.
func (s *Server) Activate(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.Activate(r.Context(), streamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Claim handles POST /v1/streams/{id}/claim.
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	res, err := s.ledger.Claim(r.Context(), streamID, account(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pause handles POST /v1/streams/{id}/pause.
func (s *Server) Pause(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.Pause(r.Context(), streamID, account(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Resume handles POST /v1/streams/{id}/resume.
func (s *Server) Resume(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.Resume(r.Context(), streamID, account(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Cancel handles POST /v1/streams/{id}/cancel. A cancel-pending outcome is
// reported as 502 with the partial result in the body.
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	res, err := s.ledger.Cancel(r.Context(), streamID, account(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case res != nil && errors.Is(err, paystream.ErrCancelPending):
		writeJSON(w, StatusFor(err), cancelResponse{CancelResult: res, Error: err.Error()})
	default:
		s.fail(w, r, err)
	}
}

// ListTransfers handles GET /v1/streams/{id}/transfers.
func (s *Server) ListTransfers(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	list, err := s.ledger.ListTransfers(r.Context(), streamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Reconcile handles GET /v1/streams/{id}/reconcile.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamID(w, r)
	if !ok {
		return
	}
	report, err := s.ledger.Reconcile(r.Context(), streamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) streamID(w http.ResponseWriter, r *http.Request) (id.StreamID, bool) {
	streamID, err := id.ParseStreamID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid stream id")
		return id.Nil, false
	}
	return streamID, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}
