package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
	"github.com/tome-gg/negotiation-protocols/pkg/store"
)

var (
	protocolID = negotiation.MustIdentity("0101010101010101010101010101010101010101010101010101010101010101")
	termID     = negotiation.MustIdentity("0202020202020202020202020202020202020202020202020202020202020202")
)

type testEnv struct {
	server       *httptest.Server
	initiator    ed25519.PrivateKey
	counterparty ed25519.PrivateKey
	outsider     ed25519.PrivateKey
}

func newEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ledger.New(store.NewMemoryStore(), ledger.WithLogger(logger))
	opts := Options{
		Service:     svc,
		Validator:   auth.NewValidator(time.Hour),
		Idempotency: NewMemoryIdempotencyStore(time.Hour),
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := httptest.NewServer(NewHandler(opts))
	t.Cleanup(srv.Close)

	env := &testEnv{server: srv}
	for _, k := range []*ed25519.PrivateKey{&env.initiator, &env.counterparty, &env.outsider} {
		priv, err := auth.GenerateKey()
		require.NoError(t, err)
		*k = priv
	}
	return env
}

func (e *testEnv) do(t *testing.T, who ed25519.PrivateKey, method, path string, body any, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if who != nil {
		token, err := auth.IssueToken(who, time.Minute, time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func expectProblem(t *testing.T, resp *http.Response, status int, code string) ProblemDetail {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	assert.Equal(t, ProblemContentType, resp.Header.Get("Content-Type"))
	p := decode[ProblemDetail](t, resp)
	assert.Equal(t, code, p.Code)
	assert.Equal(t, status, p.Status)
	assert.NotEmpty(t, p.TraceID)
	return p
}

func (e *testEnv) setup(t *testing.T) RecordView {
	t.Helper()
	resp := e.do(t, e.initiator, http.MethodPost, "/v1/negotiations",
		SetupRequest{Counterparty: auth.IdentityOf(e.counterparty)}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decode[RecordView](t, resp)
	assert.Equal(t, "/v1/negotiations/"+view.ID, resp.Header.Get("Location"))
	return view
}

func fullProposal() negotiation.Proposal {
	var params [negotiation.ParametersSize]byte
	params[3] = 1
	return negotiation.Proposal{
		Protocol:   negotiation.WithIdentity(protocolID),
		Term:       negotiation.WithIdentity(termID),
		Parameters: negotiation.ParametersValue(params),
		Stake:      negotiation.WithStake(25),
	}
}

func acceptAll(p negotiation.Proposal) negotiation.Proposal {
	var events []negotiation.Event
	for _, el := range negotiation.Elements {
		events = append(events, negotiation.Event{Action: negotiation.ActionAccept, Element: el})
	}
	p.Events = negotiation.Encode(events...)
	return p
}

func TestAPI_NegotiationLifecycle(t *testing.T) {
	env := newEnv(t, nil)
	view := env.setup(t)
	assert.Equal(t, uint64(1), view.Turn)
	assert.Equal(t, negotiation.StateOpen, view.State)
	require.NotNil(t, view.Owner)
	assert.Equal(t, auth.IdentityOf(env.initiator), *view.Owner)
	require.Len(t, view.Elements, negotiation.NumElements)

	base := "/v1/negotiations/" + view.ID
	resp := env.do(t, env.initiator, http.MethodPost, base+"/proposals", ProposalRequest{Proposal: fullProposal()}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decode[ProposalResponse](t, resp)
	assert.Equal(t, uint64(2), applied.Record.Turn)
	assert.Equal(t, uint64(1), applied.Transition.Turn)
	assert.Equal(t, negotiation.Initiator, applied.Transition.Party)

	resp = env.do(t, env.counterparty, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[RecordView](t, resp)
	require.NotNil(t, got.Owner)
	assert.Equal(t, auth.IdentityOf(env.counterparty), *got.Owner)
	assert.Equal(t, "25", got.Elements[0].Display)
	assert.Equal(t, negotiation.Discussion, got.Elements[0].Maturity)

	turn := uint64(2)
	resp = env.do(t, env.counterparty, http.MethodPost, base+"/proposals",
		ProposalRequest{Proposal: acceptAll(fullProposal()), ExpectedTurn: &turn}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settled := decode[ProposalResponse](t, resp)
	assert.True(t, settled.Record.IsComplete)
	assert.Equal(t, negotiation.StateClosed, settled.Record.State)
	assert.Nil(t, settled.Record.Owner)

	resp = env.do(t, env.initiator, http.MethodGet, base+"/transitions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ts := decode[TransitionsResponse](t, resp)
	require.Len(t, ts.Transitions, 2)
	assert.Equal(t, settled.Transition.Hash, ts.Transitions[1].Hash)
	assert.Equal(t, ts.Transitions[0].Hash, ts.Transitions[1].PreviousHash)

	resp = env.do(t, env.initiator, http.MethodGet, base+"/verify", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[VerifyResponse](t, resp).Verified)

	resp = env.do(t, env.counterparty, http.MethodGet, "/v1/negotiations", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[ListResponse](t, resp).Negotiations, 1)

	resp = env.do(t, env.outsider, http.MethodGet, "/v1/negotiations", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[ListResponse](t, resp).Negotiations)

	resp = env.do(t, env.initiator, http.MethodPost, base+"/proposals", ProposalRequest{}, nil)
	expectProblem(t, resp, http.StatusConflict, ledger.CodeNegotiationClosed)
}

func TestAPI_ProblemResponses(t *testing.T) {
	env := newEnv(t, nil)
	view := env.setup(t)
	proposals := "/v1/negotiations/" + view.ID + "/proposals"
	stale := uint64(9)

	tests := []struct {
		name   string
		who    func() ed25519.PrivateKey
		path   string
		body   any
		status int
		code   string
	}{
		{"wrong turn", func() ed25519.PrivateKey { return env.counterparty }, proposals, ProposalRequest{}, http.StatusForbidden, ledger.CodeWrongTurn},
		{"illegal transition", func() ed25519.PrivateKey { return env.initiator }, proposals, ProposalRequest{Proposal: negotiation.Proposal{
			Events: negotiation.Encode(negotiation.Event{Action: negotiation.ActionReview, Element: negotiation.Term}),
		}}, http.StatusUnprocessableEntity, ledger.CodeIllegalTransition},
		{"unconfirmed accept", func() ed25519.PrivateKey { return env.initiator }, proposals, ProposalRequest{Proposal: negotiation.Proposal{
			Protocol: negotiation.WithIdentity(protocolID),
			Events:   negotiation.Encode(negotiation.Event{Action: negotiation.ActionAccept, Element: negotiation.Protocol}),
		}}, http.StatusUnprocessableEntity, ledger.CodeUnconfirmedAccept},
		{"invalid value", func() ed25519.PrivateKey { return env.initiator }, proposals, ProposalRequest{Proposal: negotiation.Proposal{
			Stake: negotiation.WithStake(-1),
		}}, http.StatusBadRequest, ledger.CodeInvalidValue},
		{"stale expected turn", func() ed25519.PrivateKey { return env.initiator }, proposals, ProposalRequest{ExpectedTurn: &stale}, http.StatusConflict, ledger.CodeConflict},
		{"unknown field", func() ed25519.PrivateKey { return env.initiator }, proposals, `{"decline": true}`, http.StatusBadRequest, CodeInvalidRequest},
		{"malformed json", func() ed25519.PrivateKey { return env.initiator }, proposals, `{`, http.StatusBadRequest, CodeInvalidRequest},
		{"bad identity", func() ed25519.PrivateKey { return env.initiator }, proposals, `{"protocol": "xyz"}`, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown negotiation", func() ed25519.PrivateKey { return env.initiator }, "/v1/negotiations/missing/proposals", ProposalRequest{}, http.StatusNotFound, ledger.CodeNotFound},
		{"no token", func() ed25519.PrivateKey { return nil }, proposals, ProposalRequest{}, http.StatusUnauthorized, ledger.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.who(), http.MethodPost, tt.path, tt.body, nil)
			expectProblem(t, resp, tt.status, tt.code)
		})
	}

	resp := env.do(t, env.initiator, http.MethodGet, "/v1/negotiations/"+view.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), decode[RecordView](t, resp).Turn)
}

func TestAPI_OutsiderCannotRead(t *testing.T) {
	env := newEnv(t, nil)
	view := env.setup(t)
	for _, path := range []string{"", "/transitions", "/verify"} {
		resp := env.do(t, env.outsider, http.MethodGet, "/v1/negotiations/"+view.ID+path, nil, nil)
		expectProblem(t, resp, http.StatusNotFound, ledger.CodeNotFound)
	}
}

func TestAPI_SetupValidation(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.do(t, env.initiator, http.MethodPost, "/v1/negotiations", `{}`, nil)
	expectProblem(t, resp, http.StatusBadRequest, CodeInvalidRequest)

	resp = env.do(t, env.initiator, http.MethodPost, "/v1/negotiations",
		SetupRequest{Counterparty: auth.IdentityOf(env.initiator)}, nil)
	expectProblem(t, resp, http.StatusBadRequest, ledger.CodeInvalidValue)
}

func TestAPI_IdempotentReplay(t *testing.T) {
	env := newEnv(t, nil)
	view := env.setup(t)
	proposals := "/v1/negotiations/" + view.ID + "/proposals"
	header := http.Header{IdempotencyHeader: []string{"turn-1"}}

	first := env.do(t, env.initiator, http.MethodPost, proposals, ProposalRequest{Proposal: fullProposal()}, header)
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstBody, err := io.ReadAll(first.Body)
	require.NoError(t, err)

	second := env.do(t, env.initiator, http.MethodPost, proposals, ProposalRequest{Proposal: fullProposal()}, header)
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	secondBody, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstBody), string(secondBody))

	resp := env.do(t, env.initiator, http.MethodGet, "/v1/negotiations/"+view.ID+"/transitions", nil, nil)
	assert.Len(t, decode[TransitionsResponse](t, resp).Transitions, 1)

	// The key is scoped to the caller.
	third := env.do(t, env.counterparty, http.MethodPost, proposals, ProposalRequest{}, header)
	require.Equal(t, http.StatusOK, third.StatusCode)
	assert.Empty(t, third.Header.Get("Idempotent-Replayed"))
}

func TestAPI_RateLimit(t *testing.T) {
	env := newEnv(t, func(o *Options) { o.RateLimiter = NewRateLimiter(0.001, 2) })

	for i := 0; i < 2; i++ {
		resp := env.do(t, nil, http.MethodGet, "/health", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, nil, http.MethodGet, "/health", nil, nil)
	expectProblem(t, resp, http.StatusTooManyRequests, CodeRateLimited)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestAPI_HealthIsPublic(t *testing.T) {
	env := newEnv(t, func(o *Options) { o.Validator = nil })
	resp := env.do(t, nil, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	resp = env.do(t, env.initiator, http.MethodGet, "/v1/negotiations", nil, nil)
	expectProblem(t, resp, http.StatusUnauthorized, ledger.CodeUnauthorized)
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/negotiations/x", nil)
	WriteError(w, r, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, ledger.CodeInternal, p.Code)
	assert.NotContains(t, p.Detail, "pq")
	assert.Equal(t, "/v1/negotiations/x", p.Instance)
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryIdempotencyStore(time.Minute)
	s.now = func() time.Time { return now }

	s.Set(ctx, "k", CachedResponse{StatusCode: 201, Body: []byte("{}")})
	cached, ok := s.Check(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 201, cached.StatusCode)

	now = now.Add(time.Minute)
	_, ok = s.Check(ctx, "k")
	assert.False(t, ok)
}

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name    string
		schema  *jsonschema.Schema
		body    string
		wantErr string
	}{
		{"setup", setupSchema, `{"counterparty": "` + termID.String() + `"}`, ""},
		{"proposal", proposalSchema, `{"event_mask": 4294967295, "stake_amount": 12, "expected_turn": 3}`, ""},
		{"pass", proposalSchema, `{"event_mask": 0}`, ""},
		{"missing mask", proposalSchema, `{"stake_amount": 12}`, "event_mask"},
		{"mask overflow", proposalSchema, `{"event_mask": 4294967296}`, "/event_mask"},
		{"fractional stake", proposalSchema, `{"event_mask": 0, "stake_amount": 1.5}`, "/stake_amount"},
		{"malformed", proposalSchema, `{"event_mask": `, "malformed JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBody(tt.schema, []byte(tt.body))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
