// Package client provides a typed Go client for the negotiator API.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/api"
	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// APIError is returned when the API responds with a non-2xx status. It
// unwraps to the matching sentinel so callers can use errors.Is with
// negotiation.ErrWrongTurn and friends.
type APIError struct {
	Status  int
	Code    string
	Detail  string
	TraceID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("negotiator api %d: %s (%s)", e.Status, e.Detail, e.Code)
}

func (e *APIError) Unwrap() error { return ledger.CodeError(e.Code) }

// Client is a typed client acting as one party.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	key      ed25519.PrivateKey
	tokenTTL time.Duration
	now      func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithKey signs requests as the party owning priv.
func WithKey(priv ed25519.PrivateKey) Option {
	return func(c *Client) { c.key = priv }
}

// WithTokenTTL sets the lifetime of the per-request tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(c *Client) { c.tokenTTL = d }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		tokenTTL:   time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Identity returns the party identity the client signs as.
func (c *Client) Identity() negotiation.Identity {
	if c.key == nil {
		return negotiation.Identity{}
	}
	return auth.IdentityOf(c.key)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != nil {
		token, err := auth.IssueToken(c.key, c.tokenTTL, c.now())
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var problem api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil && problem.Code != "" {
			return &APIError{Status: resp.StatusCode, Code: problem.Code, Detail: problem.Detail, TraceID: problem.TraceID}
		}
		return &APIError{Status: resp.StatusCode, Code: ledger.CodeInternal, Detail: http.StatusText(resp.StatusCode)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func negotiationPath(id string, suffix string) string {
	return "/v1/negotiations/" + url.PathEscape(id) + suffix
}

// Setup opens a negotiation with counterparty, the client being initiator.
func (c *Client) Setup(ctx context.Context, counterparty negotiation.Identity) (*api.RecordView, error) {
	var out api.RecordView
	if err := c.do(ctx, http.MethodPost, "/v1/negotiations", nil, api.SetupRequest{Counterparty: counterparty}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProposeOption adjusts a single Propose call.
type ProposeOption func(*api.ProposalRequest, http.Header)

// ExpectTurn fails the proposal with a conflict unless the negotiation is
// still at turn.
func ExpectTurn(turn uint64) ProposeOption {
	return func(r *api.ProposalRequest, _ http.Header) { r.ExpectedTurn = &turn }
}

// IdempotencyKey makes retries of the same proposal replay the first
// response.
func IdempotencyKey(key string) ProposeOption {
	return func(_ *api.ProposalRequest, h http.Header) { h.Set(api.IdempotencyHeader, key) }
}

// Propose submits the client's proposal for the current turn.
func (c *Client) Propose(ctx context.Context, id string, p negotiation.Proposal, opts ...ProposeOption) (*api.ProposalResponse, error) {
	req := api.ProposalRequest{Proposal: p}
	header := http.Header{}
	for _, o := range opts {
		o(&req, header)
	}
	var out api.ProposalResponse
	if err := c.do(ctx, http.MethodPost, negotiationPath(id, "/proposals"), header, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a negotiation.
func (c *Client) Get(ctx context.Context, id string) (*api.RecordView, error) {
	var out api.RecordView
	if err := c.do(ctx, http.MethodGet, negotiationPath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transitions fetches the receipts of a negotiation.
func (c *Client) Transitions(ctx context.Context, id string) (*api.TransitionsResponse, error) {
	var out api.TransitionsResponse
	if err := c.do(ctx, http.MethodGet, negotiationPath(id, "/transitions"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to check a negotiation's receipts.
func (c *Client) Verify(ctx context.Context, id string) (*api.VerifyResponse, error) {
	var out api.VerifyResponse
	if err := c.do(ctx, http.MethodGet, negotiationPath(id, "/verify"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the negotiations the client is a party to.
func (c *Client) List(ctx context.Context) ([]api.RecordView, error) {
	var out api.ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/negotiations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Negotiations, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}
