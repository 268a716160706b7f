package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/event"
	"github.com/Jativax/sq-qb-integration-sub000/internal/mapping"
	"github.com/Jativax/sq-qb-integration-sub000/internal/usecase"

	"github.com/go-chi/chi/v5"
)

// SignatureHeader carries the HMAC digest Square computes over the
// notification URL and the raw request body.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// maxBodyBytes caps webhook bodies; Square events are small.
const maxBodyBytes = 1 << 20

type Handlers struct {
	ingestUC   *usecase.IngestEvent
	getLinkUC  *usecase.GetLink
	listDeadUC *usecase.ListDeadLetters
	replayUC   *usecase.ReplayDeadLetter
	engine     *mapping.Engine
	notifyURL  string
	logger     *slog.Logger
}

func NewHandlers(
	ingestUC *usecase.IngestEvent,
	getLinkUC *usecase.GetLink,
	listDeadUC *usecase.ListDeadLetters,
	replayUC *usecase.ReplayDeadLetter,
	engine *mapping.Engine,
	notifyURL string,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ingestUC:   ingestUC,
		getLinkUC:  getLinkUC,
		listDeadUC: listDeadUC,
		replayUC:   replayUC,
		engine:     engine,
		notifyURL:  notifyURL,
		logger:     logger,
	}
}

// ReceiveWebhook accepts a Square webhook delivery. The body must be read
// raw: the signature covers the exact bytes on the wire.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	res, err := h.ingestUC.Execute(r.Context(), h.notifyURL, body, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, usecase.ErrInvalidSignature):
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	case errors.Is(err, event.ErrInvalidEvent):
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	case err != nil:
		// The sender retries on 5xx, which is exactly what we want when the
		// durable store is down.
		h.logger.Error("webhook ingestion failed", "error", err)
		http.Error(w, "failed to accept event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if res.Duplicate {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(res)
}

func (h *Handlers) GetLink(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	if sourceID == "" {
		http.Error(w, "missing source id", http.StatusBadRequest)
		return
	}

	l, err := h.getLinkUC.Execute(r.Context(), sourceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if l == nil {
		http.Error(w, "link not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(l)
}

func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.listDeadUC.Execute(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"dead_letters": records, "count": len(records)})
}

func (h *Handlers) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing dead letter id", http.StatusBadRequest)
		return
	}

	newJobID, err := h.replayUC.Execute(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "requeued",
		"job_id": newJobID,
	})
}

func (h *Handlers) ListStrategies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"strategies": h.engine.AllStrategyInfo()})
}
