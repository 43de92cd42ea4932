package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	LabelLayout = "15:04"
)

var (
	ErrPastDay     = errors.New("date is before today")
	ErrWeekend     = errors.New("date falls on a weekend")
	ErrBlackout    = errors.New("slot is blacked out")
	ErrUnknownSlot = errors.New("time is not one of the configured slots")
	ErrInvalidTime = errors.New("invalid time label")
)

// Blackout excludes a single slot. An empty Date applies the blackout to every date.
type Blackout struct {
	Date string
	Time string
}

func (b Blackout) matches(date, label string) bool {
	if b.Time != label {
		return false
	}
	return b.Date == "" || b.Date == date
}

func (b Blackout) String() string {
	if b.Date == "" {
		return "*@" + b.Time
	}
	return b.Date + "@" + b.Time
}

type Options struct {
	Slots     []string
	Blackouts []Blackout
	Location  *time.Location
	Now       func() time.Time
}

// Calculator decides whether a (date, time) pair can be offered. It only
// knows the therapist side of the calendar, never the stored bookings.
type Calculator struct {
	slots     []string
	known     map[string]struct{}
	blackouts []Blackout
	loc       *time.Location
	now       func() time.Time
}

func NewCalculator(opts Options) (*Calculator, error) {
	if len(opts.Slots) == 0 {
		return nil, errors.New("at least one time slot is required")
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	known := make(map[string]struct{}, len(opts.Slots))
	slots := make([]string, 0, len(opts.Slots))
	for _, s := range opts.Slots {
		if _, err := ParseLabel(s); err != nil {
			return nil, err
		}
		if _, dup := known[s]; dup {
			continue
		}
		known[s] = struct{}{}
		slots = append(slots, s)
	}
	// "15:04" labels sort lexically in time order.
	sort.Strings(slots)

	for _, b := range opts.Blackouts {
		if _, err := ParseLabel(b.Time); err != nil {
			return nil, fmt.Errorf("blackout %s: %w", b, err)
		}
		if b.Date != "" {
			if _, err := time.Parse(DateLayout, b.Date); err != nil {
				return nil, fmt.Errorf("blackout %s: %w", b, err)
			}
		}
	}

	return &Calculator{
		slots:     slots,
		known:     known,
		blackouts: append([]Blackout(nil), opts.Blackouts...),
		loc:       loc,
		now:       now,
	}, nil
}

// ParseLabel validates a "15:04" time label and returns the offset from midnight.
func ParseLabel(label string) (time.Duration, error) {
	t, err := time.Parse(LabelLayout, label)
	if err != nil || t.Format(LabelLayout) != label {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, label)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseDate parses an ISO calendar date into midnight of loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

func (c *Calculator) Slots() []string {
	return append([]string(nil), c.slots...)
}

func (c *Calculator) Location() *time.Location {
	return c.loc
}

func (c *Calculator) Now() time.Time {
	return c.now().In(c.loc)
}

// Day returns midnight of the calendar date carried by t. Only the
// year/month/day fields are used, so a date parsed in another zone keeps its day.
func (c *Calculator) Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

func (c *Calculator) Today() time.Time {
	return c.Day(c.Now())
}

// Combine joins a calendar date and a slot label into an instant in the
// configured location.
func (c *Calculator) Combine(date time.Time, label string) (time.Time, error) {
	offset, err := ParseLabel(label)
	if err != nil {
		return time.Time{}, err
	}
	return c.Day(date).Add(offset), nil
}

// IsSlotOfferable reports whether the slot may be shown as bookable.
// Only the day is compared with today: a slot later than now on the
// current day is offerable even if its time already passed.
func (c *Calculator) IsSlotOfferable(date time.Time, label string) bool {
	return c.Check(date, label) == nil
}

// Check returns the first rule the slot violates, or nil.
func (c *Calculator) Check(date time.Time, label string) error {
	if c.Day(date).Before(c.Today()) {
		return ErrPastDay
	}
	return c.CheckTherapistRules(date, label)
}

// CheckTherapistRules applies every rule except the past-day rule.
func (c *Calculator) CheckTherapistRules(date time.Time, label string) error {
	if _, ok := c.known[label]; !ok {
		return ErrUnknownSlot
	}

	day := c.Day(date)
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return ErrWeekend
	}

	ds := day.Format(DateLayout)
	for _, b := range c.blackouts {
		if b.matches(ds, label) {
			return ErrBlackout
		}
	}
	return nil
}
