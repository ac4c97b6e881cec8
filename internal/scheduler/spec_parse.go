package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultEvery matches the classic "every minute" crontab line.
const DefaultEvery = "* * * * *"

// SpecKind describes the normalized kind of a cadence string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a parsed tick cadence.
//
// Supported forms:
//   - Cron: "* * * * *", "*/5 * * * *", "@every 1m", "@hourly"
//   - Interval duration: "1m", "30s"
//   - Interval HH:MM: "00:01" (one minute)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// CronSpec renders the cadence in a form robfig/cron accepts.
func (p ParsedSpec) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseEvery parses a cadence string. Empty means DefaultEvery.
func ParseEvery(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultEvery
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, prefix := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, prefix) {
			d, src, err := parseInterval(s[len(prefix):])
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
		}
	}

	// Any whitespace or leading '@' => cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	d, src, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf(
			"invalid cadence %q (use cron like '* * * * *', HH:MM like '00:01', or duration like '1m')",
			raw,
		)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		var hh int
		for i := 0; i < len(m[1]); i++ {
			hh = hh*10 + int(m[1][i]-'0')
		}
		mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return 0, "", fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, "", fmt.Errorf("interval must be > 0")
		}
		return d, "hhmm", nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '1m')", v)
	}
	// cron rounds sub-second delays up; reject them so the config says what runs.
	if d < time.Second {
		return 0, "", fmt.Errorf("interval must be >= 1s")
	}
	return d, "duration", nil
}
