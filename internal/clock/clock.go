// Package clock supplies the process-wide notion of "now" in one configured
// time zone. Every expiry computation goes through a Clock so tests can move
// time without sleeping.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current instant and the zone used for wall-clock rules
// such as the unusual-hours band.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Real reads the system clock.
type Real struct {
	loc *time.Location
}

// NewReal returns a system clock reporting times in the named IANA zone.
// An empty name means UTC.
func NewReal(zone string) (*Real, error) {
	loc, err := loadZone(zone)
	if err != nil {
		return nil, err
	}
	return &Real{loc: loc}, nil
}

func (c *Real) Now() time.Time { return time.Now().In(c.loc) }

func (c *Real) Location() *time.Location { return c.loc }

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFake returns a Fake frozen at start, reporting in start's zone.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, loc: start.Location()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location { return f.loc }

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.In(f.loc)
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func loadZone(zone string) (*time.Location, error) {
	if zone == "" || zone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return loc, nil
}
