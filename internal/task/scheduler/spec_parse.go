package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a validated schedule string.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string        // SpecCron
	Every time.Duration // SpecInterval
}

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts
//
//	"0 9 * * *", "0 */5 * * * *"   cron, seconds optional
//	"@daily", "@hourly"            cron descriptors
//	"cron:<expr>"                  cron, forced
//	"@every 30m", "every:6h", "6h" fixed interval
//	"interval:00:30", "00:30"      fixed interval as HH:MM
//
// Cron expressions are checked with the same parser the scheduler runs, so a
// spec that parses here is accepted by AddSchedule.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}
	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		return parseCronSpec(rest)
	}
	for _, p := range []string{"@every", "every:", "interval:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return parseIntervalSpec(rest)
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCronSpec(s)
	}
	ps, err := parseIntervalSpec(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (want cron like '0 9 * * *', '@daily', HH:MM or a duration like '6h')", raw)
	}
	return ps, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseCronSpec(expr string) (ParsedSpec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ParsedSpec{}, errors.New("cron expression required")
	}
	if _, err := specParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
}

func parseIntervalSpec(v string) (ParsedSpec, error) {
	d, err := parseInterval(v)
	if err != nil {
		return ParsedSpec{}, err
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

// parseInterval reads "2h30m" or "02:30".
func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, errors.New("interval required")
	}
	var d time.Duration
	if hs, ms, ok := strings.Cut(v, ":"); ok {
		h, herr := strconv.Atoi(hs)
		m, merr := strconv.Atoi(ms)
		if herr != nil || merr != nil || len(ms) != 2 || h < 0 || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid HH:MM interval %q", v)
		}
		d = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", v)
	}
	return d, nil
}
