package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/httputil"
	"github.com/devicelocator/locator-relay/internal/middleware"
	"github.com/devicelocator/locator-relay/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(r *http.Request) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	return PaginationParams{Limit: limit, Offset: offset}
}

// SubscriptionLedger is the read side of the subscription lifecycle ledger.
type SubscriptionLedger interface {
	FindByID(ctx context.Context, id string) (*model.SubscriptionRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.SubscriptionRecord, int, error)
}

// SubscriptionsHandler lists the ledger records started by the caller's
// session. It must run after the session gate.
type SubscriptionsHandler struct {
	ledger SubscriptionLedger
}

func NewSubscriptionsHandler(ledger SubscriptionLedger) *SubscriptionsHandler {
	return &SubscriptionsHandler{ledger: ledger}
}

func (h *SubscriptionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}

func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Login required"))
		return
	}
	p := ParsePagination(r)

	records, total, err := h.ledger.ListBySession(r.Context(), session.ID, p.Limit, p.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list subscriptions")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  records,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

func (h *SubscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Login required"))
		return
	}
	id := chi.URLParam(r, "id")

	record, err := h.ledger.FindByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("subscriptionId", id).Msg("failed to load subscription")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	// Records of other sessions are reported as missing.
	if record == nil || record.SessionID != session.ID {
		httputil.WriteError(w, apperrors.NotFound("subscription"))
		return
	}

	writeJSON(w, http.StatusOK, record)
}
