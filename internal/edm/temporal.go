package edm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TicksPerSecond is the number of 100ns ticks in one second.
const TicksPerSecond = int64(time.Second / 100)

// LocalDate is a calendar date without time or offset.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// LocalDateOf returns the calendar date of t in t's location.
func LocalDateOf(t time.Time) LocalDate {
	y, m, d := t.Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

// ParseLocalDate parses a YYYY-MM-DD literal.
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("invalid Edm.Date %q: %w", s, err)
	}
	return LocalDateOf(t), nil
}

// Number returns year*10000 + month*100 + day, a representation that orders
// like the date itself.
func (d LocalDate) Number() int64 {
	return int64(d.Year)*10000 + int64(d.Month)*100 + int64(d.Day)
}

// Compare returns -1, 0 or 1.
func (d LocalDate) Compare(o LocalDate) int {
	a, b := d.Number(), o.Number()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// In returns midnight of d in loc.
func (d LocalDate) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDuration returns the date reached by adding whole days of dur.
func (d LocalDate) AddDuration(dur time.Duration) LocalDate {
	return LocalDateOf(d.In(time.UTC).Add(dur))
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// LocalTime is a clock time, measured from midnight.
type LocalTime time.Duration

// LocalTimeOf returns the clock time of t in t's location.
func LocalTimeOf(t time.Time) LocalTime {
	h, m, s := t.Clock()
	return LocalTime(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond()))
}

// NewLocalTime builds a clock time.
func NewLocalTime(hour, minute, second, nanos int) LocalTime {
	return LocalTime(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second + time.Duration(nanos))
}

// ParseLocalTime parses an HH:MM[:SS[.fffffff]] literal.
func ParseLocalTime(s string) (LocalTime, error) {
	for _, layout := range []string{"15:04:05.999999999", "15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return LocalTimeOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid Edm.TimeOfDay %q", s)
}

func (t LocalTime) Hour() int       { return int(time.Duration(t) / time.Hour) }
func (t LocalTime) Minute() int     { return int(time.Duration(t) % time.Hour / time.Minute) }
func (t LocalTime) Second() int     { return int(time.Duration(t) % time.Minute / time.Second) }
func (t LocalTime) Nanosecond() int { return int(time.Duration(t) % time.Second) }

// Ticks returns the number of 100ns ticks since midnight.
func (t LocalTime) Ticks() int64 {
	return int64(time.Duration(t) / 100)
}

func (t LocalTime) String() string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	if ns := t.Nanosecond(); ns != 0 {
		s += fmt.Sprintf(".%07d", ns/100)
	}
	return s
}

var isoDuration = regexp.MustCompile(`^(-)?P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration parses an ISO 8601 day-time duration (P1DT2H3M4.5S) or a Go
// duration string (1h30m).
func ParseDuration(s string) (time.Duration, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "-P" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid Edm.Duration %q", s)
		}
		return d, nil
	}
	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid Edm.Duration %q", s)
		}
		d += time.Duration(n) * unit
	}
	if m[5] != "" {
		secs, err := strconv.ParseFloat(m[5], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid Edm.Duration %q", s)
		}
		d += time.Duration(secs * float64(time.Second))
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// FormatDuration renders d as an ISO 8601 day-time duration, the form
// ParseDuration reads back.
func FormatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	if days := d / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * 24 * time.Hour
	}
	if d == 0 {
		if b.Len() <= 2 {
			b.WriteString("T0S")
		}
		return b.String()
	}
	b.WriteByte('T')
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		d -= m * time.Minute
	}
	if d > 0 {
		secs := strconv.FormatInt(int64(d/time.Second), 10)
		if ns := d % time.Second; ns > 0 {
			secs += strings.TrimRight(fmt.Sprintf(".%09d", ns), "0")
		}
		b.WriteString(secs + "S")
	}
	return b.String()
}
