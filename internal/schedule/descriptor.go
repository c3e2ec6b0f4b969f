// Package schedule converts declarative schedule descriptors into concrete
// trigger times. A descriptor is a closed tagged union; each variant knows how
// to render itself as a canonical cron expression and as prose.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"conveyor/internal/services"
)

// Descriptor kinds, the wire-level "type" discriminator.
const (
	KindTimeOfDay = "time_of_day"
	KindHours     = "hours"
	KindWeekdays  = "weekdays"
	KindCron      = "cron"
)

// Descriptor is one variant of the schedule union. Implementations are the
// only four kinds the wire format admits; call sites switch exhaustively.
type Descriptor interface {
	// Kind returns the wire discriminator.
	Kind() string
	// CanonicalCron renders the descriptor as a five-field cron expression.
	CanonicalCron() string
	// HumanReadable renders the descriptor as prose for display.
	HumanReadable() string
	// Location resolves the descriptor's timezone. Variants without a
	// timezone evaluate in UTC.
	Location() (*time.Location, error)
}

// TimeOfDay fires once a day at a fixed local time.
type TimeOfDay struct {
	Hour     int
	Minute   int
	Timezone string
}

func (d TimeOfDay) Kind() string { return KindTimeOfDay }

func (d TimeOfDay) CanonicalCron() string {
	return fmt.Sprintf("%d %d * * *", d.Minute, d.Hour)
}

func (d TimeOfDay) HumanReadable() string {
	return fmt.Sprintf("daily at %02d:%02d (%s)", d.Hour, d.Minute, zoneName(d.Timezone))
}

func (d TimeOfDay) Location() (*time.Location, error) { return loadZone(d.Timezone) }

// EveryHours fires on a fixed interval measured in whole hours.
type EveryHours struct {
	Hours int
}

func (d EveryHours) Kind() string { return KindHours }

func (d EveryHours) CanonicalCron() string {
	return fmt.Sprintf("0 */%d * * *", d.Hours)
}

func (d EveryHours) HumanReadable() string {
	if d.Hours == 1 {
		return "every hour"
	}
	return fmt.Sprintf("every %d hours", d.Hours)
}

func (d EveryHours) Location() (*time.Location, error) { return time.UTC, nil }

// Weekdays fires on selected days of the week at a fixed local time. Days use
// cron numbering: 0 is Sunday through 6 is Saturday.
type Weekdays struct {
	Days     []int
	Hour     int
	Minute   int
	Timezone string
}

func (d Weekdays) Kind() string { return KindWeekdays }

func (d Weekdays) CanonicalCron() string {
	days := append([]int(nil), d.Days...)
	sort.Ints(days)
	parts := make([]string, len(days))
	for i, day := range days {
		parts[i] = fmt.Sprintf("%d", day)
	}
	return fmt.Sprintf("%d %d * * %s", d.Minute, d.Hour, strings.Join(parts, ","))
}

func (d Weekdays) HumanReadable() string {
	days := append([]int(nil), d.Days...)
	sort.Ints(days)
	names := make([]string, len(days))
	for i, day := range days {
		names[i] = time.Weekday(day).String()
	}
	return fmt.Sprintf("%s at %02d:%02d (%s)", strings.Join(names, ", "), d.Hour, d.Minute, zoneName(d.Timezone))
}

func (d Weekdays) Location() (*time.Location, error) { return loadZone(d.Timezone) }

// CronExpr passes a raw five-field cron expression through unchanged.
type CronExpr struct {
	Expression string
}

func (d CronExpr) Kind() string          { return KindCron }
func (d CronExpr) CanonicalCron() string { return d.Expression }

func (d CronExpr) HumanReadable() string {
	return fmt.Sprintf("cron %q", d.Expression)
}

func (d CronExpr) Location() (*time.Location, error) { return time.UTC, nil }

// wireDescriptor is the union of every variant's fields for JSON transport.
type wireDescriptor struct {
	Type       string  `json:"type"`
	Time       string  `json:"time,omitempty"`
	Timezone   string  `json:"timezone,omitempty"`
	Hours      float64 `json:"hours,omitempty"`
	Days       []int   `json:"days,omitempty"`
	Expression string  `json:"expression,omitempty"`
}

// Parse decodes a wire descriptor. defaultTimezone fills variants that carry
// a timezone field but left it empty. Malformed input is a schedule
// validation error so jobs are never persisted with an unusable descriptor.
func Parse(data []byte, defaultTimezone string) (Descriptor, error) {
	var wire wireDescriptor
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, invalid("descriptor is not valid JSON", err)
	}

	switch wire.Type {
	case KindTimeOfDay:
		hour, minute, err := parseClock(wire.Time)
		if err != nil {
			return nil, err
		}
		return TimeOfDay{Hour: hour, Minute: minute, Timezone: pickZone(wire.Timezone, defaultTimezone)}, nil
	case KindHours:
		if wire.Hours != float64(int(wire.Hours)) || wire.Hours < 1 {
			return nil, invalid(fmt.Sprintf("hours must be a whole number of at least 1, got %v", wire.Hours), nil)
		}
		return EveryHours{Hours: int(wire.Hours)}, nil
	case KindWeekdays:
		if len(wire.Days) == 0 {
			return nil, invalid("weekdays descriptor requires at least one day", nil)
		}
		seen := make(map[int]struct{}, len(wire.Days))
		for _, day := range wire.Days {
			if day < 0 || day > 6 {
				return nil, invalid(fmt.Sprintf("day %d out of range 0-6", day), nil)
			}
			if _, dup := seen[day]; dup {
				return nil, invalid(fmt.Sprintf("day %d listed twice", day), nil)
			}
			seen[day] = struct{}{}
		}
		hour, minute, err := parseClock(wire.Time)
		if err != nil {
			return nil, err
		}
		return Weekdays{Days: wire.Days, Hour: hour, Minute: minute, Timezone: pickZone(wire.Timezone, defaultTimezone)}, nil
	case KindCron:
		if strings.TrimSpace(wire.Expression) == "" {
			return nil, invalid("cron descriptor requires an expression", nil)
		}
		return CronExpr{Expression: strings.TrimSpace(wire.Expression)}, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown descriptor type %q", wire.Type), nil)
	}
}

// Encode renders a descriptor back into its wire form.
func Encode(descriptor Descriptor) ([]byte, error) {
	var wire wireDescriptor
	switch d := descriptor.(type) {
	case TimeOfDay:
		wire = wireDescriptor{Type: KindTimeOfDay, Time: fmt.Sprintf("%02d:%02d", d.Hour, d.Minute), Timezone: d.Timezone}
	case EveryHours:
		wire = wireDescriptor{Type: KindHours, Hours: float64(d.Hours)}
	case Weekdays:
		wire = wireDescriptor{Type: KindWeekdays, Days: d.Days, Time: fmt.Sprintf("%02d:%02d", d.Hour, d.Minute), Timezone: d.Timezone}
	case CronExpr:
		wire = wireDescriptor{Type: KindCron, Expression: d.Expression}
	default:
		return nil, fmt.Errorf("unknown descriptor variant %T", descriptor)
	}
	return json.Marshal(wire)
}

func parseClock(value string) (hour, minute int, err error) {
	parsed, parseErr := time.Parse("15:04", strings.TrimSpace(value))
	if parseErr != nil {
		return 0, 0, invalid(fmt.Sprintf("time %q is not HH:MM", value), parseErr)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func pickZone(zone, fallback string) string {
	if strings.TrimSpace(zone) != "" {
		return zone
	}
	return fallback
}

func zoneName(zone string) string {
	if strings.TrimSpace(zone) == "" {
		return "UTC"
	}
	return zone
}

func loadZone(zone string) (*time.Location, error) {
	if strings.TrimSpace(zone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, invalid(fmt.Sprintf("unknown timezone %q", zone), err)
	}
	return loc, nil
}

func invalid(message string, err error) error {
	return services.Wrap(services.ErrScheduleValidation, "schedule", "parse", message, err)
}
