package api

import (
	"log/slog"
	"net/http"

	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
)

// Options configures the HTTP handler.
type Options struct {
	Service *ledger.Service
	// Validator checks bearer tokens. Nil rejects every authenticated route.
	Validator *auth.Validator
	// RateLimiter is optional.
	RateLimiter *RateLimiter
	// Idempotency is optional.
	Idempotency IdempotencyStore
	Logger      *slog.Logger
}

// NewHandler builds the routed, middleware-wrapped API handler.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: opts.Service, logger: logger.With("component", "api")}

	mux := http.NewServeMux()
	h.register(mux)

	var handler http.Handler = mux
	if opts.Idempotency != nil {
		handler = IdempotencyMiddleware(opts.Idempotency)(handler)
	}
	handler = auth.NewMiddleware(opts.Validator, WriteUnauthorized)(handler)
	if opts.RateLimiter != nil {
		handler = opts.RateLimiter.Middleware(handler)
	}
	return auth.RequestIDMiddleware(handler)
}
