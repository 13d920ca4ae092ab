package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/faucetdb/adminguard/internal/model"
	"github.com/faucetdb/adminguard/internal/service"
)

type contextKeyAuth string

const (
	// IdentityKey is the context key for the verified administrator identity.
	IdentityKey contextKeyAuth = "identity"
	// SessionKey is the context key for the verified session.
	SessionKey contextKeyAuth = "session"
)

// AssertionVerifier checks an identity assertion.
type AssertionVerifier interface {
	Verify(raw string) (*service.Principal, error)
}

// FailureRecorder counts an authentication failure against an address.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, ip string, kind model.FailureKind, identity string) (bool, error)
}

// Identity verifies the Bearer identity assertion and attaches the
// administrator's identity, bound to the request's address and user agent,
// to the context. Bad assertions count as failures against the address.
func Identity(verifier AssertionVerifier, failures FailureRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := ClientIP(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Unrecognized client address", nil)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Identity assertion required. Provide a Bearer token.", nil)
				return
			}
			p, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				logger.Debug("identity assertion rejected", "ip", ip, "error", err)
				recordFailure(r.Context(), failures, logger, ip, model.FailureInvalidAssertion, "")
				msg := "Invalid identity assertion"
				if errors.Is(err, service.ErrAssertionExpired) {
					msg = "Identity assertion expired"
				}
				writeError(w, http.StatusUnauthorized, msg, nil)
				return
			}

			id := &model.Identity{
				AdminID:   p.AdminID,
				Role:      p.Role,
				IPAddress: ip,
				UserAgent: r.UserAgent(),
			}
			ctx := context.WithValue(r.Context(), IdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only identities carrying role. It must run after
// Identity.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil || id.Role != role {
				writeError(w, http.StatusForbidden, "Operator access required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentity extracts the verified identity from the context, or nil.
func GetIdentity(ctx context.Context) *model.Identity {
	if id, ok := ctx.Value(IdentityKey).(*model.Identity); ok {
		return id
	}
	return nil
}

// recordFailure reports a failure. A nil recorder disables counting.
func recordFailure(ctx context.Context, failures FailureRecorder, logger *slog.Logger, ip string, kind model.FailureKind, identity string) {
	if failures == nil {
		return
	}
	blocked, err := failures.RecordFailure(ctx, ip, kind, identity)
	if err != nil {
		logger.Error("record auth failure", "ip", ip, "kind", kind, "error", err)
		return
	}
	if blocked {
		logger.Warn("address blocked after repeated failures", "ip", ip, "kind", kind)
	}
}
