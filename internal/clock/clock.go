// Package clock resolves local plan dates and times of day into zoned instants.
package clock

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	logx "planbot/pkg/logx"
)

// DateLayout is the calendar date format plans are stored with.
const DateLayout = "2006-01-02"

var (
	ErrBadTimeFormat = errors.New("time of day must look like HH:MM")
	ErrBadDate       = errors.New("date must look like YYYY-MM-DD")
)

var timeOfDayRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)

// Words that mean "no reminder" when typed instead of a time.
var noneWords = map[string]bool{
	"":     true,
	"none": true,
	"no":   true,
	"off":  true,
	"нет":  true,
	"-":    true,
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay extracts the first HH:MM from free text such as "remind me at 9:05".
// It returns ok=false without error when raw means "no reminder".
func ParseTimeOfDay(raw string) (tod TimeOfDay, ok bool, err error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if noneWords[s] {
		return TimeOfDay{}, false, nil
	}
	m := timeOfDayRe.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, false, ErrBadTimeFormat
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return TimeOfDay{}, false, fmt.Errorf("%w: %s out of range", ErrBadTimeFormat, m[0])
	}
	return TimeOfDay{Hour: h, Minute: mm}, true, nil
}

// ParseDate validates a YYYY-MM-DD plan date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	return d, nil
}

// Resolver interprets dates and times in one zone fixed at construction.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver loads zone. An empty or unknown zone falls back to UTC and the
// fallback is logged; construction never fails.
func NewResolver(zone string, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	zone = strings.TrimSpace(zone)
	loc, err := time.LoadLocation(zone)
	switch {
	case zone == "":
		log.Warn("timezone not set; using UTC")
		loc = time.UTC
	case err != nil:
		log.Error("invalid timezone; using UTC", logx.String("timezone", zone), logx.Err(err))
		loc = time.UTC
	}
	return &Resolver{loc: loc, now: time.Now}
}

// NewFixed builds a resolver with an explicit location and clock. Tests use it.
func NewFixed(loc *time.Location, now func() time.Time) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{loc: loc, now: now}
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Now returns the current instant in the resolver's zone.
func (r *Resolver) Now() time.Time { return r.now().In(r.loc) }

// Today returns local midnight of the current day.
func (r *Resolver) Today() time.Time {
	n := r.Now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, r.loc)
}

// Localize combines a plan date with a time of day. Nonexistent local times
// (DST gaps) are normalized forward by time.Date.
func (r *Resolver) Localize(date string, tod TimeOfDay) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), tod.Hour, tod.Minute, 0, 0, r.loc), nil
}

// In converts any instant into the resolver's zone.
func (r *Resolver) In(t time.Time) time.Time { return t.In(r.loc) }
