package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
	"github.com/tome-gg/negotiation-protocols/pkg/store"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc    *ledger.Service
	logger *slog.Logger
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", HandleHealth)
	mux.HandleFunc("GET /v1/negotiations", h.handleList)
	mux.HandleFunc("POST /v1/negotiations", h.handleSetup)
	mux.HandleFunc("GET /v1/negotiations/{id}", h.handleGet)
	mux.HandleFunc("POST /v1/negotiations/{id}/proposals", h.handlePropose)
	mux.HandleFunc("GET /v1/negotiations/{id}/transitions", h.handleTransitions)
	mux.HandleFunc("GET /v1/negotiations/{id}/verify", h.handleVerify)
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads, validates and decodes a JSON body. It writes the
// problem response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteProblem(w, r, CodeInvalidRequest, "Request body too large or unreadable")
		return false
	}
	if err := validateBody(schema, raw); err != nil {
		WriteProblem(w, r, CodeInvalidRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		WriteProblem(w, r, CodeInvalidRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func caller(w http.ResponseWriter, r *http.Request) (negotiation.Identity, bool) {
	id, ok := auth.CallerFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
	}
	return id, ok
}

// entry loads a negotiation the caller is a party to. Other callers get
// NOT_FOUND so that ids do not leak.
func (h *handlers) entry(w http.ResponseWriter, r *http.Request) (store.Entry, bool) {
	who, ok := caller(w, r)
	if !ok {
		return store.Entry{}, false
	}
	id := r.PathValue("id")
	e, err := h.svc.Get(r.Context(), id)
	if err == nil && e.Record.PartyOf(who) == 0 {
		err = fmt.Errorf("%w: negotiation %s", store.ErrNotFound, id)
	}
	if err != nil {
		WriteError(w, r, err)
		return store.Entry{}, false
	}
	return e, true
}

func (h *handlers) handleSetup(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req SetupRequest
	if !decodeBody(w, r, setupSchema, &req) {
		return
	}
	e, err := h.svc.Setup(r.Context(), who, req.Counterparty)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/negotiations/"+e.ID)
	writeJSON(w, http.StatusCreated, NewRecordView(e))
}

func (h *handlers) handlePropose(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req ProposalRequest
	if !decodeBody(w, r, proposalSchema, &req) {
		return
	}
	res, err := h.svc.Propose(r.Context(), r.PathValue("id"), who, req.Proposal, req.ExpectedTurn)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProposalResponse{
		Record:     NewRecordView(res.Entry),
		Transition: res.Transition,
		Settlement: res.Settlement,
	})
}

func (h *handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewRecordView(e))
}

func (h *handlers) handleTransitions(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	ts, err := h.svc.Transitions(r.Context(), e.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if ts == nil {
		ts = []store.Transition{}
	}
	writeJSON(w, http.StatusOK, TransitionsResponse{ID: e.ID, Transitions: ts})
}

func (h *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.List(r.Context(), who)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	resp := ListResponse{Negotiations: make([]RecordView, 0, len(entries))}
	for _, e := range entries {
		resp.Negotiations = append(resp.Negotiations, NewRecordView(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	err := h.svc.Verify(r.Context(), e.ID)
	if err != nil && !errors.Is(err, store.ErrChainBroken) && !errors.Is(err, ledger.ErrReplayMismatch) {
		WriteError(w, r, err)
		return
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "integrity check failed", "negotiation_id", e.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, newVerifyResponse(e.ID, err))
}
