package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// ErrUnauthorized is wrapped by every token validation failure.
var ErrUnauthorized = errors.New("auth: unauthorized")

// DefaultMaxTTL bounds token lifetime.
const DefaultMaxTTL = 15 * time.Minute

const issuer = "negotiator"

// Claims are the JWT claims carried by party tokens. Subject is the hex
// public key of the signer.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a token for the party owning priv.
func IssueToken(priv ed25519.PrivateKey, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = DefaultMaxTTL
	}
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   IdentityOf(priv).String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(priv)
}

// Validator checks self-signed party tokens.
type Validator struct {
	MaxTTL time.Duration
	Leeway time.Duration
	Now    func() time.Time
}

func NewValidator(maxTTL time.Duration) *Validator {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	return &Validator{MaxTTL: maxTTL, Leeway: 5 * time.Second, Now: time.Now}
}

// Validate verifies tokenStr against the key named in its subject and
// returns that identity.
func (v *Validator) Validate(tokenStr string) (negotiation.Identity, error) {
	claims := &Claims{}
	var caller negotiation.Identity
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		id, err := negotiation.ParseIdentity(sub)
		if err != nil {
			return nil, fmt.Errorf("subject: %w", err)
		}
		caller = id
		return PublicKey(id), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(v.Leeway),
		jwt.WithTimeFunc(v.Now),
	)
	if err != nil {
		return negotiation.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return negotiation.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.IssuedAt == nil {
		return negotiation.Identity{}, fmt.Errorf("%w: iat is required", ErrUnauthorized)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.MaxTTL {
		return negotiation.Identity{}, fmt.Errorf("%w: token lifetime exceeds %s", ErrUnauthorized, v.MaxTTL)
	}
	return caller, nil
}
