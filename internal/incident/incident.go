// Package incident tracks the operator-facing case opened with every address
// block. Incident IDs have the fixed shape BLOCK-<14-digit UTC timestamp>-<4
// uppercase hash characters> and every lookup validates that shape before
// touching the store.
package incident

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

const (
	// DefaultListLimit is used when ListPending is called without a limit.
	DefaultListLimit = 50
	// MaxListLimit caps a single ListPending page.
	MaxListLimit = 500
	// maxNotesLength bounds operator notes stored with a resolution.
	maxNotesLength = 2000
)

var idPattern = regexp.MustCompile(`^BLOCK-\d{14}-[A-Z0-9]{4}$`)

// maxIDAttempts bounds the salted retries after an incident ID collision.
const maxIDAttempts = 16

// GenerateID derives the incident ID for a block of ip created at at.
func GenerateID(ip string, at time.Time) string {
	return generateID(ip, at, 0)
}

// generateID mixes attempt into the hash so that a colliding ID can be
// replaced by another one for the same second.
func generateID(ip string, at time.Time, attempt int) string {
	ts := at.UTC().Format("20060102150405")
	seed := fmt.Sprintf("%s%06d%s", ts, at.Nanosecond()/1000, ip)
	if attempt > 0 {
		seed += fmt.Sprintf("#%d", attempt)
	}
	sum := sha256.Sum256([]byte(seed))
	return "BLOCK-" + ts + "-" + strings.ToUpper(hex.EncodeToString(sum[:])[:4])
}

// ValidateID rejects anything that is not exactly an incident ID.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return model.Invalid("malformed incident id %q", id)
	}
	return nil
}

// Tracker creates, resolves and searches block incidents.
type Tracker struct {
	store  *config.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store *config.Store, clk clock.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, clock: clk, logger: logger}
}

// CreateIncident opens a new incident for ip and returns its ID.
func (t *Tracker) CreateIncident(ctx context.Context, ip, reason string) (string, error) {
	var inc *model.BlockIncident
	err := t.store.Tx(ctx, func(q *config.Queries) error {
		var err error
		inc, err = t.Create(ctx, q, ip, reason)
		return err
	})
	if err != nil {
		return "", err
	}
	return inc.IncidentID, nil
}

// Create opens an incident through q, which lets the rate limiter create
// the block and its incident in one transaction. q must be transaction
// bound.
func (t *Tracker) Create(ctx context.Context, q *config.Queries, ip, reason string) (*model.BlockIncident, error) {
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, model.Invalid("block reason is required")
	}

	now := t.clock.Now()
	id, err := t.freeID(ctx, q, addr, now)
	if err != nil {
		return nil, err
	}
	inc := &model.BlockIncident{
		IncidentID:  id,
		IPAddress:   addr,
		BlockReason: reason,
		CreatedAt:   now,
	}
	if err := q.InsertIncident(ctx, inc); err != nil {
		return nil, err
	}

	metrics.IncidentsCreated.Inc()
	t.logger.Info("incident opened", "incident_id", inc.IncidentID, "ip", addr, "reason", reason)
	return inc, nil
}

// freeID returns an incident ID that no stored incident uses. Each candidate
// is locked before the lookup, so a concurrent block elsewhere cannot claim
// it between the check and the insert. q must be transaction bound.
func (t *Tracker) freeID(ctx context.Context, q *config.Queries, ip string, at time.Time) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := generateID(ip, at, attempt)
		if err := q.LockKey(ctx, "incident:"+id); err != nil {
			return "", err
		}
		_, err := q.GetIncident(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			if attempt > 0 {
				t.logger.Debug("incident id collision resolved", "incident_id", id, "attempts", attempt+1)
			}
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free incident id for %s after %d attempts", ip, maxIDAttempts)
}

// ResolveIncident closes an open incident. It returns false when the
// incident does not exist or is already resolved.
func (t *Tracker) ResolveIncident(ctx context.Context, id, operator, notes string) (bool, error) {
	if err := ValidateID(id); err != nil {
		t.logger.Debug("rejected incident id", "incident_id", id)
		return false, err
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return false, model.Invalid("operator is required")
	}
	if len(notes) > maxNotesLength {
		return false, model.Invalid("notes exceed %d characters", maxNotesLength)
	}

	ok, err := t.store.ResolveIncident(ctx, id, operator, notes, t.clock.Now())
	if err != nil {
		return false, err
	}
	if ok {
		metrics.IncidentsResolved.Inc()
		t.logger.Info("incident resolved", "incident_id", id, "operator", operator)
	}
	return ok, nil
}

// FindByIncidentID returns the incident, ErrInvalidInput for a malformed ID
// or ErrNotFound.
func (t *Tracker) FindByIncidentID(ctx context.Context, id string) (*model.BlockIncident, error) {
	if err := ValidateID(id); err != nil {
		t.logger.Debug("rejected incident id", "incident_id", id)
		return nil, err
	}
	return t.store.GetIncident(ctx, id)
}

// ListPending returns unresolved incidents, newest first.
func (t *Tracker) ListPending(ctx context.Context, limit int) ([]model.BlockIncident, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return t.store.ListPendingIncidents(ctx, limit)
}

// ListByIP returns every incident for ip, newest first.
func (t *Tracker) ListByIP(ctx context.Context, ip string) ([]model.BlockIncident, error) {
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		t.logger.Debug("rejected ip", "ip", ip)
		return nil, err
	}
	return t.store.ListIncidentsByIP(ctx, addr)
}
