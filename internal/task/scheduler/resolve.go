package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrSchedule is the root of every schedule expression error. An account
// whose expression fails is simply not installed.
var ErrSchedule = errors.New("schedule error")

var (
	ErrInvalidWindow    = fmt.Errorf("%w: invalid random window", ErrSchedule)
	ErrInvalidCronArity = fmt.Errorf("%w: cron expression must have 5 fields", ErrSchedule)
	ErrInvalidCron      = fmt.Errorf("%w: invalid cron expression", ErrSchedule)
)

// R(HH:MM-HH:MM) dom month dow
var windowRe = regexp.MustCompile(`^R\((\d{1,2}):(\d{2})-(\d{1,2}):(\d{2})\)\s+(.+)$`)

// standardParser accepts exactly the five classic cron fields.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Resolve turns a schedule expression into five cron fields and an optional
// jitter bound in seconds.
//
// Supported forms:
//   - "m h dom mon dow"              plain cron, no jitter
//   - "R(09:00-09:30) dom mon dow"   fires at 09:00 plus up to 30 minutes
func Resolve(expr string) (fields [5]string, jitter *int, err error) {
	expr = strings.TrimSpace(expr)
	if m := windowRe.FindStringSubmatch(expr); m != nil {
		return resolveWindow(m)
	}

	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return fields, nil, fmt.Errorf("%w: got %d in %q", ErrInvalidCronArity, len(parts), expr)
	}
	copy(fields[:], parts)
	return fields, nil, nil
}

func resolveWindow(m []string) (fields [5]string, jitter *int, err error) {
	start, err := minuteOfDay(m[1], m[2])
	if err != nil {
		return fields, nil, err
	}
	end, err := minuteOfDay(m[3], m[4])
	if err != nil {
		return fields, nil, err
	}
	if end <= start {
		return fields, nil, fmt.Errorf("%w: end %s:%s is not after start %s:%s", ErrInvalidWindow, m[3], m[4], m[1], m[2])
	}

	rest := strings.Fields(m[5])
	if len(rest) != 3 {
		return fields, nil, fmt.Errorf("%w: random window takes 3 trailing fields, got %d", ErrInvalidCronArity, len(rest))
	}

	fields[0] = strconv.Itoa(start % 60)
	fields[1] = strconv.Itoa(start / 60)
	copy(fields[2:], rest)
	j := (end - start) * 60
	return fields, &j, nil
}

func minuteOfDay(hh, mm string) (int, error) {
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: hour %q out of range", ErrInvalidWindow, hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: minute %q out of range", ErrInvalidWindow, mm)
	}
	return h*60 + m, nil
}

// Spec joins resolved fields into a cron spec string.
func Spec(fields [5]string) string { return strings.Join(fields[:], " ") }

// parseTrigger resolves expr and validates the cron fields with the cron
// parser, which is the authority on field ranges.
func parseTrigger(expr string) (Trigger, cron.Schedule, error) {
	fields, jitter, err := Resolve(expr)
	if err != nil {
		return Trigger{}, nil, err
	}
	sched, err := standardParser.Parse(Spec(fields))
	if err != nil {
		return Trigger{}, nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return Trigger{Cron: fields, Jitter: jitter}, sched, nil
}

// Validate reports whether expr would install. Callers use it before
// committing an account change.
func Validate(expr string) error {
	_, _, err := parseTrigger(expr)
	return err
}

// NextRuns lists the next n base fire times of expr after from, in loc.
// Jitter is not applied.
func NextRuns(expr string, n int, from time.Time, loc *time.Location) ([]time.Time, error) {
	_, sched, err := parseTrigger(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
