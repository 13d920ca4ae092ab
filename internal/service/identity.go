// Package service adapts the upstream credential check to this core. The
// credential check (password, OTP, hardware assertion) runs elsewhere and
// hands over a short-lived signed identity assertion; only its verification
// lives here.
package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/adminguard/internal/clock"
)

var (
	ErrInvalidAssertion = errors.New("invalid identity assertion")
	ErrAssertionExpired = errors.New("identity assertion expired")
)

// Principal is the administrator named by a verified assertion.
type Principal struct {
	AdminID string
	Role    string
}

// IdentityVerifier verifies HMAC-signed identity assertions.
type IdentityVerifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

// NewIdentityVerifier creates a verifier. An empty issuer accepts any.
func NewIdentityVerifier(secret, issuer string, clk clock.Clock) *IdentityVerifier {
	return &IdentityVerifier{secret: []byte(secret), issuer: issuer, clock: clk}
}

type assertionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify checks the signature, expiry and issuer of an assertion and
// returns the administrator it names.
func (v *IdentityVerifier) Verify(raw string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &assertionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAssertionExpired
		}
		return nil, ErrInvalidAssertion
	}
	if !token.Valid {
		return nil, ErrInvalidAssertion
	}

	adminID := strings.TrimSpace(claims.Subject)
	if adminID == "" {
		return nil, ErrInvalidAssertion
	}
	return &Principal{AdminID: adminID, Role: strings.TrimSpace(claims.Role)}, nil
}

// Issue signs an assertion for adminID. The upstream credential check uses
// the same format; Issue exists for the CLI and for tests.
func (v *IdentityVerifier) Issue(adminID, role string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := assertionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    v.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
