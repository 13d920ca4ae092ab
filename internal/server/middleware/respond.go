package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/faucetdb/adminguard/internal/model"
)

// writeError writes the standard error envelope. The handler package has its
// own copy; middleware cannot import it without a cycle.
func writeError(w http.ResponseWriter, status int, message string, ctx map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message, Context: ctx},
	})
}

// ClientIP returns the normalized source address of r. Forwarding headers
// count only when TrustedProxies has already rewritten RemoteAddr.
func ClientIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return model.NormalizeIP(host)
}
