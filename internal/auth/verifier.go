// Package auth implements the Token Verifier (C2, spec.md section 4.2):
// a pure function mapping a signed bearer token to the subdomain it
// grants access to, or a rejection. Grounded on the same JWT library the
// APISIX Go runner plugin uses for request authentication
// (packages/apisix-go-runner/plugins/authz.go), here against a single
// shared HMAC secret rather than a JWKS endpoint.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arc-self/requestrepo/internal/apperr"
	"github.com/arc-self/requestrepo/internal/subdomain"
)

// Verifier validates bearer tokens and extracts the subdomain claim.
type Verifier struct {
	secret  []byte
	grammar subdomain.Grammar
}

// New builds a Verifier over the given HMAC secret and subdomain
// grammar (so a token's subdomain claim can be grammar-checked).
func New(secret string, grammar subdomain.Grammar) *Verifier {
	return &Verifier{secret: []byte(secret), grammar: grammar}
}

// claims is the JWT payload shape minted by mint-session.
type claims struct {
	Subdomain string `json:"subdomain"`
	jwt.RegisteredClaims
}

// Verify checks the token's signature, decodes the subdomain claim, and
// validates it against the configured grammar (spec.md section 4.2).
// exp, if present, is checked by jwt.ParseWithClaims itself.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.Auth, "unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Auth, err, "invalid token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", apperr.New(apperr.Auth, "invalid token claims")
	}
	if !v.grammar.Valid(c.Subdomain) {
		return "", apperr.New(apperr.Auth, "malformed subdomain claim")
	}
	return c.Subdomain, nil
}

// Mint issues a new token for sub, valid for the given duration — used
// only by the mint-session operation (spec.md section 4.4).
func (v *Verifier) Mint(sub string, validFor time.Duration) (string, error) {
	now := time.Now().UTC()
	c := claims{
		Subdomain: sub,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validFor)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(v.secret)
}
