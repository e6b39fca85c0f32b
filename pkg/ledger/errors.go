package ledger

import (
	"errors"

	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
	"github.com/tome-gg/negotiation-protocols/pkg/policy"
	"github.com/tome-gg/negotiation-protocols/pkg/store"
)

// ErrReplayMismatch is returned by Verify when replaying the receipts does
// not reproduce the stored record.
var ErrReplayMismatch = errors.New("ledger: replay does not match stored record")

// Stable error codes shared by the HTTP API, the client and metrics.
const (
	CodeNegotiationClosed = "NEGOTIATION_CLOSED"
	CodeWrongTurn         = "WRONG_TURN"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeUnconfirmedAccept = "UNCONFIRMED_ACCEPT"
	CodeInvalidValue      = "INVALID_VALUE"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodePolicyDenied      = "POLICY_DENIED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeIntegrity         = "INTEGRITY_FAILURE"
	CodeInternal          = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{negotiation.ErrNegotiationClosed, CodeNegotiationClosed},
	{negotiation.ErrWrongTurn, CodeWrongTurn},
	{negotiation.ErrIllegalTransition, CodeIllegalTransition},
	{negotiation.ErrUnconfirmedAccept, CodeUnconfirmedAccept},
	{negotiation.ErrInvalidValue, CodeInvalidValue},
	{negotiation.ErrInvalidParties, CodeInvalidValue},
	{store.ErrNotFound, CodeNotFound},
	{store.ErrConflict, CodeConflict},
	{store.ErrExists, CodeConflict},
	{policy.ErrDenied, CodePolicyDenied},
	{auth.ErrUnauthorized, CodeUnauthorized},
	{store.ErrChainBroken, CodeIntegrity},
	{ErrReplayMismatch, CodeIntegrity},
}

// ErrorCode maps an error to its stable code. Unknown errors are INTERNAL.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// CodeError returns the sentinel for a code, or nil for unknown codes.
// Codes shared by several sentinels resolve to the first listed.
func CodeError(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
