package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

// BlockChecker looks up the active block of an address.
type BlockChecker interface {
	ActiveBlock(ctx context.Context, ip string) (*model.IPBlock, error)
}

// Blocklist rejects requests from blocked addresses with 403 before any
// other work is done. A store failure denies the request with 503.
func Blocklist(checker BlockChecker, now func() time.Time, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := ClientIP(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Unrecognized client address", nil)
				return
			}
			block, err := checker.ActiveBlock(r.Context(), ip)
			if err != nil {
				logger.Error("blocklist lookup", "ip", ip, "error", err)
				writeError(w, http.StatusServiceUnavailable, "Security store unavailable", nil)
				return
			}
			if block != nil {
				metrics.BlockedRequests.Inc()
				retry := int(block.BlockedUntil.Sub(now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusForbidden, "Address temporarily blocked", map[string]interface{}{
					"incident_id":   block.IncidentID,
					"blocked_until": block.BlockedUntil,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
