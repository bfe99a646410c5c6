// Package clock resolves "what weekday and minute is it" in the operator's
// timezone. The timezone is cached and refreshed explicitly, not read on
// every call.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
)

// DateLayout is the calendar-date format used to compare days.
const DateLayout = "2006-01-02"

// Moment is a resolved point in time in the operator timezone.
type Moment struct {
	Time    time.Time    // wall-clock time in Location
	Weekday time.Weekday // 0 = Sunday
	HHMM    string       // "09:00"
	Date    string       // "2026-03-04"
}

// TimezoneSource supplies the configured IANA timezone name. An empty name
// means "not set".
type TimezoneSource interface {
	Timezone(ctx context.Context) (string, error)
}

// Resolver caches the operator timezone and converts instants into Moments.
type Resolver struct {
	source   TimezoneSource
	fallback *time.Location
	now      func() time.Time
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	loc         *time.Location
	refreshedAt time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger used for refresh warnings.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver that starts in fallbackTZ until the first
// Refresh. source may be nil, in which case fallbackTZ is always used.
func NewResolver(source TimezoneSource, fallbackTZ string, opts ...Option) (*Resolver, error) {
	if fallbackTZ == "" {
		fallbackTZ = "UTC"
	}
	fallback, err := time.LoadLocation(fallbackTZ)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid fallback timezone %q", fallbackTZ)
	}

	r := &Resolver{
		source:   source,
		fallback: fallback,
		loc:      fallback,
		now:      time.Now,
		logger:   logger.ComponentLogger("pulse.clock"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Refresh re-reads the timezone from the source. An unset value selects the
// fallback. If the stored value cannot be loaded the last good location is
// kept and the error is returned.
func (r *Resolver) Refresh(ctx context.Context) error {
	if r.source == nil {
		return nil
	}

	name, err := r.source.Timezone(ctx)
	if err != nil {
		r.logger.Warnw("Timezone refresh failed, keeping last good location",
			logger.FieldTimezone, r.Location().String(),
			logger.FieldError, err)
		return errors.Wrap(err, "failed to read timezone setting")
	}

	loc := r.fallback
	if name != "" {
		loc, err = time.LoadLocation(name)
		if err != nil {
			r.logger.Warnw("Stored timezone is invalid, keeping last good location",
				"stored", name,
				logger.FieldTimezone, r.Location().String(),
				logger.FieldError, err)
			return errors.Wrapf(err, "invalid stored timezone %q", name)
		}
	}

	r.mu.Lock()
	changed := r.loc.String() != loc.String()
	r.loc = loc
	r.refreshedAt = r.now()
	r.mu.Unlock()

	if changed {
		r.logger.Infow("Timezone changed", logger.FieldTimezone, loc.String())
	}
	return nil
}

// Location returns the cached timezone.
func (r *Resolver) Location() *time.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loc
}

// RefreshedAt reports when the timezone was last read successfully.
func (r *Resolver) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// Now resolves the current instant.
func (r *Resolver) Now() Moment {
	return r.At(r.now())
}

// At resolves t in the cached timezone.
func (r *Resolver) At(t time.Time) Moment {
	return MomentIn(t, r.Location())
}

// MomentIn converts t to a Moment in loc.
func MomentIn(t time.Time, loc *time.Location) Moment {
	local := t.In(loc)
	weekday, hhmm := CurrentWeekdayAndMinute(t, loc)
	return Moment{
		Time:    local,
		Weekday: weekday,
		HHMM:    hhmm,
		Date:    local.Format(DateLayout),
	}
}

// CurrentWeekdayAndMinute returns the weekday (0 = Sunday) and "HH:MM" of
// now in loc.
func CurrentWeekdayAndMinute(now time.Time, loc *time.Location) (time.Weekday, string) {
	local := now.In(loc)
	return local.Weekday(), local.Format("15:04")
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
