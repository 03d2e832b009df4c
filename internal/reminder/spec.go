// Package reminder plans, registers, cancels and fires the per-subscription
// reminder timers.
//
// Timer names are deterministic ("conference-{id}-{class}-{offset}") so
// scheduling the same subscription twice replaces rather than duplicates.
package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NamePrefix marks every timer owned by this package.
const NamePrefix = "conference-"

type Class string

const (
	ClassDeadline   Class = "deadline"
	ClassConference Class = "conference"
)

func (c Class) Valid() bool { return c == ClassDeadline || c == ClassConference }

// Spec is one reminder class with its day offsets.
type Spec struct {
	Class   Class
	Offsets []int
}

var defaultOffsets = [...]int{30, 14, 7, 3, 1}

// Specs returns the reminder table: both classes at 30, 14, 7, 3 and 1 days.
func Specs() []Spec {
	return []Spec{
		{Class: ClassDeadline, Offsets: defaultOffsets[:]},
		{Class: ClassConference, Offsets: defaultOffsets[:]},
	}
}

// Scheduled is a derived reminder; it is never persisted on its own.
type Scheduled struct {
	SubscriptionID string    `json:"subscriptionId"`
	Class          Class     `json:"class"`
	OffsetDays     int       `json:"offsetDays"`
	FiresAt        time.Time `json:"firesAt"`
}

// Key is the reminder identity without the timer namespace.
func (s Scheduled) Key() string {
	return fmt.Sprintf("%s-%s-%d", s.SubscriptionID, s.Class, s.OffsetDays)
}

// Name is the host timer name.
func (s Scheduled) Name() string { return NamePrefix + s.Key() }

// TimerPrefix is the name prefix shared by every timer of subscription id.
func TimerPrefix(id string) string { return NamePrefix + id + "-" }

// LegacyName is the single-timer name older releases registered per subscription.
func LegacyName(id string) string { return NamePrefix + id }

var (
	ErrForeignTimer = errors.New("not a conference timer")
	ErrBadName      = errors.New("malformed reminder name")
)

// ParseName splits a timer name into its parts. Subscription ids may contain
// '-', so class and offset are taken from the right.
func ParseName(name string) (id string, class Class, offset int, err error) {
	if !strings.HasPrefix(name, NamePrefix) {
		return "", "", 0, ErrForeignTimer
	}
	rest := strings.TrimPrefix(name, NamePrefix)
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return "", "", 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	offset, err = strconv.Atoi(rest[i+1:])
	if err != nil || offset < 0 {
		return "", "", 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	rest = rest[:i]
	j := strings.LastIndexByte(rest, '-')
	if j <= 0 {
		return "", "", 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	class = Class(rest[j+1:])
	if !class.Valid() {
		return "", "", 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return rest[:j], class, offset, nil
}

// OwnedBy reports whether timer name belongs to subscription id, including the
// legacy single-timer name.
func OwnedBy(name, id string) bool {
	if name == LegacyName(id) {
		return true
	}
	got, _, _, err := ParseName(name)
	return err == nil && got == id
}
