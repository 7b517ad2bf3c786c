package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/batch"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

type batchResponse struct {
	*models.Batch
	Summary models.BatchSummary `json:"summary"`
}

type retryRequest struct {
	LegIDs []string `json:"legIds"`
}

func newBatchResponse(b *models.Batch) batchResponse {
	return batchResponse{Batch: b, Summary: b.Summary()}
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var in batch.RunInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.OwnerID = owner

	b, err := s.batches.Run(r.Context(), in)
	s.writeBatch(w, r, b, err)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	b, err := s.batches.Get(r.Context(), r.PathValue("id"), owner)
	s.writeBatch(w, r, b, err)
}

func (s *Server) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := s.batches.Retry(r.Context(), r.PathValue("id"), owner, req.LegIDs)
	s.writeBatch(w, r, b, err)
}

// writeBatch answers 200 whenever a batch came back, even alongside an
// interruption error, so the caller always sees per-leg state.
func (s *Server) writeBatch(w http.ResponseWriter, r *http.Request, b *models.Batch, err error) {
	if b == nil {
		s.writeAppError(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("batch returned with error", zap.String("batch_id", b.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, newBatchResponse(b))
}
