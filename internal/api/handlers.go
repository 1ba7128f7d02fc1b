// Package api exposes the prediction ledger over HTTP and WebSocket.
//
// Every mutating route needs an authenticated caller; the value attached to
// a call travels in the X-Transferred-Value header and the call time is the
// server clock.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/prediction-ledger/internal/fund"
	"github.com/atmx/prediction-ledger/internal/market"
	"github.com/atmx/prediction-ledger/internal/model"
)

// Clock supplies the evaluation time of each call.
type Clock func() time.Time

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// Handler serves the ledger routes.
type Handler struct {
	events *market.Service
	funds  *fund.Service
	clock  Clock
}

// NewHandler creates the HTTP handler. A nil clock uses time.Now.
func NewHandler(events *market.Service, funds *fund.Service, clock Clock) *Handler {
	if clock == nil {
		clock = time.Now
	}
	return &Handler{events: events, funds: funds, clock: clock}
}

// Routes registers the ledger endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/events", h.ListEvents)
	r.Post("/events", h.CreateEvent)
	r.Get("/events/{eventID}", h.GetEvent)
	r.Post("/events/{eventID}/resolve", h.ResolveEvent)

	r.Get("/funds", h.ListFunds)
	r.Post("/funds", h.CreateFund)
	r.Get("/funds/{fundID}/shares/{owner}", h.GetOwnerShare)
	r.Post("/funds/{fundID}/transfers", h.TransferShare)
	r.Get("/funds/{fundID}/proposals", h.GetFundProposals)
	r.Post("/funds/{fundID}/proposals", h.CreateProposal)

	r.Post("/outcomes/{outcomeID}/bets", h.Bet)

	r.Get("/proposals", h.ListProposals)
	r.Post("/proposals/{tradeID}/accept", h.AcceptProposal)

	r.Get("/journal", h.GetJournal)
}

// call builds the ambient inputs of a mutating request.
func (h *Handler) call(w http.ResponseWriter, r *http.Request) (model.Call, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, errUnauthenticated.Error(), "", http.StatusUnauthorized)
		return model.Call{}, false
	}
	value, err := transferredValue(r)
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return model.Call{}, false
	}
	return model.Call{Caller: caller, Value: value, Now: h.clock().UTC()}, true
}

// --- Request/Response types ---

// CreateEventRequest is the JSON body for POST /events.
// ResolveDate is a Unix timestamp in milliseconds.
type CreateEventRequest struct {
	Question    string                 `json:"question" validate:"required"`
	ResolveDate int64                  `json:"resolve_date" validate:"gt=0"`
	Outcomes    []model.OutcomePayload `json:"outcomes" validate:"dive"`
	Metadata    model.EventMetadata    `json:"metadata"`
}

// ResolveEventRequest is the JSON body for POST /events/{eventID}/resolve.
type ResolveEventRequest struct {
	OutcomeID uint64 `json:"outcome_id"`
}

// CreateFundRequest is the JSON body for POST /funds.
type CreateFundRequest struct {
	TotalShare uint64             `json:"total_share"`
	Metadata   model.FundMetadata `json:"metadata"`
}

// TransferShareRequest is the JSON body for POST /funds/{fundID}/transfers.
type TransferShareRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	Amount    uint64 `json:"amount"`
}

// BetRequest is the JSON body for POST /outcomes/{outcomeID}/bets.
type BetRequest struct {
	FundID   uint64 `json:"fund_id"`
	Supplies uint64 `json:"supplies"`
}

// CreateProposalRequest is the JSON body for POST /funds/{fundID}/proposals.
// Duration is in milliseconds; omitted means the default proposal window.
// Its upper bound is math.MaxInt64 / int64(time.Millisecond), the longest
// window a time.Duration can hold.
type CreateProposalRequest struct {
	Share          uint64          `json:"share"`
	Price          decimal.Decimal `json:"price"`
	Duration       *int64          `json:"duration,omitempty" validate:"omitempty,gte=0,lte=9223372036854"`
	ProposedPerson *string         `json:"proposed_person,omitempty" validate:"omitempty,min=1"`
}

// IDResponse wraps the id returned by creation endpoints.
type IDResponse struct {
	ID uint64 `json:"id"`
}

// --- Events ---

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.Events(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	var req CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	for _, o := range req.Outcomes {
		if err := checkWhole(o.DepositPerSupply); err != nil {
			writeError(w, err.Error(), "", http.StatusBadRequest)
			return
		}
	}

	id, err := h.events.CreateEvent(r.Context(), call, market.CreateEventRequest{
		Question:    req.Question,
		ResolveDate: time.UnixMilli(req.ResolveDate).UTC(),
		Outcomes:    req.Outcomes,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: uint64(id)})
}

// GetEvent handles GET /events/{eventID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "eventID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	detail, err := h.events.EventDetail(r.Context(), model.EventID(id))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ResolveEvent handles POST /events/{eventID}/resolve
func (h *Handler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "eventID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	var req ResolveEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}

	res, err := h.events.ResolveEvent(r.Context(), call, model.EventID(id), model.OutcomeID(req.OutcomeID))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Funds ---

// ListFunds handles GET /funds?owner=
func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	var owner *model.Identity
	if o := r.URL.Query().Get("owner"); o != "" {
		owner = model.Ref(model.Identity(o))
	}
	funds, err := h.funds.Funds(r.Context(), owner)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, funds)
}

// CreateFund handles POST /funds
func (h *Handler) CreateFund(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	var req CreateFundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}

	id, err := h.funds.CreateFund(r.Context(), call, req.TotalShare, req.Metadata)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: uint64(id)})
}

// GetOwnerShare handles GET /funds/{fundID}/shares/{owner}
func (h *Handler) GetOwnerShare(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "fundID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	owner := model.Identity(chi.URLParam(r, "owner"))
	share, err := h.funds.OwnerShare(r.Context(), model.FundID(id), owner)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fund.TransferResult{Recipient: owner, Share: share})
}

// TransferShare handles POST /funds/{fundID}/transfers
func (h *Handler) TransferShare(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "fundID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	var req TransferShareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}

	res, err := h.funds.TransferShare(r.Context(), call, model.FundID(id), model.Identity(req.Recipient), req.Amount)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetFundProposals handles GET /funds/{fundID}/proposals
func (h *Handler) GetFundProposals(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "fundID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	props, err := h.funds.FundProposals(r.Context(), model.FundID(id))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

// CreateProposal handles POST /funds/{fundID}/proposals
func (h *Handler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "fundID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	var req CreateProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	if err := checkWhole(req.Price); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}

	in := fund.CreateProposalRequest{Share: req.Share, Price: req.Price}
	if req.Duration != nil {
		in.Duration = model.Ref(time.Duration(*req.Duration) * time.Millisecond)
	}
	if req.ProposedPerson != nil {
		in.Target = model.Ref(model.Identity(*req.ProposedPerson))
	}
	tradeID, err := h.funds.CreateProposal(r.Context(), call, model.FundID(id), in)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: uint64(tradeID)})
}

// --- Bets and proposals ---

// Bet handles POST /outcomes/{outcomeID}/bets
func (h *Handler) Bet(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "outcomeID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	var req BetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}

	if err := h.funds.Bet(r.Context(), call, model.OutcomeID(id), model.FundID(req.FundID), req.Supplies); err != nil {
		writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProposals handles GET /proposals?proponent=
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	var proponent *model.Identity
	if p := r.URL.Query().Get("proponent"); p != "" {
		proponent = model.Ref(model.Identity(p))
	}
	props, err := h.funds.Proposals(r.Context(), proponent)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

// AcceptProposal handles POST /proposals/{tradeID}/accept
func (h *Handler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	call, ok := h.call(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "tradeID")
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	if err := h.funds.AcceptProposal(r.Context(), call, model.TradeID(id)); err != nil {
		writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetJournal handles GET /journal?from=&limit=
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	limit, err := queryUint(r, "limit", defaultJournalLimit)
	if err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	if limit == 0 || limit > maxJournalLimit {
		limit = maxJournalLimit
	}
	entries, err := h.events.Journal(r.Context(), from, int(limit))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
