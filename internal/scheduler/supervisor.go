// Package scheduler runs the background work that is decoupled from request
// handling: the periodic expiry sweep and the operator-scheduled mass
// session invalidation. Both are suture services so a panic or store outage
// restarts the loop with backoff instead of killing the process.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// NewSupervisor returns the root supervisor with lifecycle events routed to
// logger. shutdownTimeout bounds how long each service may take to stop.
func NewSupervisor(logger *slog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()
	return suture.New("adminguard", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}
