package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/faucetdb/adminguard/internal/model"
)

// SessionHeader carries the admin session token in both directions: the
// client sends it, and a scheduled rotation returns the replacement in it.
const SessionHeader = "X-Admin-Session"

// VerifierHeader carries the session verifier alongside SessionHeader. A
// rotation returns the new verifier in it.
const VerifierHeader = "X-Admin-Session-Verifier"

// WarningHeader lists non-fatal verification warnings.
const WarningHeader = "X-Session-Warning"

// SessionGuard is the session manager surface the gate needs.
type SessionGuard interface {
	VerifySession(ctx context.Context, token, verifier, ip, userAgent string) (*model.VerifyResult, error)
	DetectSessionAnomalies(ctx context.Context, adminID, token, ip, userAgent string) (*model.SessionAnomalyReport, error)
	EvaluateRotationPolicy(ctx context.Context, adminID, ip string) (*model.RotationDecision, error)
	InvalidateSession(ctx context.Context, token, reason string) (bool, error)
	Rotate(ctx context.Context, oldToken string, reason model.RotationReason) (*model.SessionCredentials, error)
	RotateForAnomaly(ctx context.Context, token string, anomalies []model.SessionAnomalyType) (*model.SessionCredentials, error)
}

// SetCredentials hands a new token pair to the client.
func SetCredentials(w http.ResponseWriter, creds *model.SessionCredentials) {
	w.Header().Set(SessionHeader, creds.Token)
	w.Header().Set(VerifierHeader, creds.Verifier)
}

// Session is the verified session attached to the request context.
type Session struct {
	Token  string
	Result *model.VerifyResult
}

// SessionGate verifies the X-Admin-Session token and its
// X-Admin-Session-Verifier against the identity set by Identity. Missing,
// unknown and expired sessions get 401 with a WWW-Authenticate challenge, as
// does a token presented with the wrong verifier. Fresh (uncached)
// verifications also run the session anomaly check and the rotation-count
// policy: a block or lock invalidates the session and a warning rotates it.
// A session due for rotation is rotated as well. Every rotation returns the
// new token pair in the session headers.
func SessionGate(guard SessionGuard, failures FailureRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := GetIdentity(ctx)
			if id == nil {
				writeError(w, http.StatusUnauthorized, "Identity assertion required", nil)
				return
			}
			token := strings.TrimSpace(r.Header.Get(SessionHeader))
			if token == "" {
				challenge(w, "Admin session required")
				return
			}

			verifier := strings.TrimSpace(r.Header.Get(VerifierHeader))

			res, err := guard.VerifySession(ctx, token, verifier, id.IPAddress, id.UserAgent)
			switch {
			case errors.Is(err, model.ErrNotFound):
				recordFailure(ctx, failures, logger, id.IPAddress, model.FailureInvalidSession, id.AdminID)
				challenge(w, "Session not found or expired")
				return
			case errors.Is(err, model.ErrInvalidInput):
				writeError(w, http.StatusBadRequest, err.Error(), nil)
				return
			case err != nil:
				logger.Error("session verification", "admin_id", id.AdminID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "Security store unavailable", nil)
				return
			}

			if res.AdminID != id.AdminID {
				logger.Warn("session presented by another administrator",
					"admin_id", id.AdminID, "session_admin_id", res.AdminID, "ip", id.IPAddress)
				recordFailure(ctx, failures, logger, id.IPAddress, model.FailureSessionBinding, id.AdminID)
				challenge(w, "Session does not belong to this administrator")
				return
			}
			if !res.Valid {
				recordFailure(ctx, failures, logger, id.IPAddress, model.FailureSessionBinding, id.AdminID)
				challenge(w, "Session binding failed: "+strings.Join(res.Warnings, "; "))
				return
			}
			for _, warn := range res.Warnings {
				w.Header().Add(WarningHeader, warn)
			}

			var rotated *model.SessionCredentials
			if !res.Cached {
				var ok bool
				if rotated, ok = checkSessionPolicy(w, r, guard, logger, id, token); !ok {
					return
				}
			}

			if res.RotationDue && rotated == nil {
				rotated, err = guard.Rotate(ctx, token, model.RotationScheduled)
				if err != nil {
					logger.Warn("scheduled rotation failed", "admin_id", id.AdminID, "error", err)
				}
			}
			if rotated != nil {
				token = rotated.Token
				SetCredentials(w, rotated)
			}

			ctx = context.WithValue(ctx, SessionKey, &Session{Token: token, Result: res})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// checkSessionPolicy runs the session anomaly check and the rotation-count
// policy. It writes the response and returns false when the request must
// stop. When a warning rotated the session it returns the new credentials.
func checkSessionPolicy(w http.ResponseWriter, r *http.Request, guard SessionGuard, logger *slog.Logger, id *model.Identity, token string) (*model.SessionCredentials, bool) {
	ctx := r.Context()

	report, err := guard.DetectSessionAnomalies(ctx, id.AdminID, token, id.IPAddress, id.UserAgent)
	if err != nil {
		logger.Error("session anomaly check", "admin_id", id.AdminID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Security store unavailable", nil)
		return nil, false
	}
	var rotated *model.SessionCredentials
	switch report.ActionRequired {
	case model.ActionBlock:
		invalidate(ctx, guard, logger, id, token, "session anomaly")
		challenge(w, "Session terminated: anomalous session activity")
		return nil, false
	case model.ActionWarn:
		for _, t := range report.AnomalyTypes {
			w.Header().Add(WarningHeader, string(t))
		}
		rotated, err = guard.RotateForAnomaly(ctx, token, report.AnomalyTypes)
		if err != nil {
			logger.Warn("anomaly rotation failed", "admin_id", id.AdminID, "error", err)
			rotated = nil
		}
	}

	current := token
	if rotated != nil {
		current = rotated.Token
	}
	decision, err := guard.EvaluateRotationPolicy(ctx, id.AdminID, id.IPAddress)
	if err != nil {
		logger.Error("rotation policy", "admin_id", id.AdminID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Security store unavailable", nil)
		return nil, false
	}
	switch decision.Action {
	case model.RotationLock:
		invalidate(ctx, guard, logger, id, current, "rotation limit exceeded")
		writeError(w, http.StatusForbidden, "Session locked: too many rotations", map[string]interface{}{
			"rotation_count": decision.RotationCount,
		})
		return nil, false
	case model.RotationAlert:
		logger.Warn("rotation count alert", "admin_id", id.AdminID, "rotations", decision.RotationCount)
		w.Header().Add(WarningHeader, "frequent session rotation")
	}
	return rotated, true
}

func invalidate(ctx context.Context, guard SessionGuard, logger *slog.Logger, id *model.Identity, token, reason string) {
	if _, err := guard.InvalidateSession(ctx, token, reason); err != nil {
		logger.Error("invalidate session", "admin_id", id.AdminID, "reason", reason, "error", err)
	}
}

func challenge(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "AdminSession")
	writeError(w, http.StatusUnauthorized, message, nil)
}

// GetSession extracts the verified session from the context, or nil.
func GetSession(ctx context.Context) *Session {
	if s, ok := ctx.Value(SessionKey).(*Session); ok {
		return s
	}
	return nil
}
