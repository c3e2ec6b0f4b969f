package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"conveyor/internal/services"
)

// cronParser accepts standard five-field expressions plus @-descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Compile turns a descriptor into a cron schedule, validating the canonical
// expression along the way.
func Compile(descriptor Descriptor) (cron.Schedule, error) {
	spec, err := cronParser.Parse(descriptor.CanonicalCron())
	if err != nil {
		return nil, services.Wrap(services.ErrScheduleValidation, "schedule", "compile",
			fmt.Sprintf("expression %q", descriptor.CanonicalCron()), err)
	}
	return spec, nil
}

// NextFireAfter computes the next trigger instant strictly after now,
// evaluated in the descriptor's timezone.
func NextFireAfter(descriptor Descriptor, now time.Time) (time.Time, error) {
	spec, err := Compile(descriptor)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := descriptor.Location()
	if err != nil {
		return time.Time{}, err
	}
	next := spec.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, services.Wrap(services.ErrScheduleValidation, "schedule", "next-fire",
			fmt.Sprintf("schedule %q never fires", descriptor.CanonicalCron()), nil)
	}
	return next, nil
}

// ValidateMinInterval simulates the next two fire times from now and rejects
// the descriptor when their gap is shorter than minHours. This is the
// anti-abuse floor on recurring jobs; a minHours of zero disables the check.
func ValidateMinInterval(descriptor Descriptor, minHours int, now time.Time) error {
	first, err := NextFireAfter(descriptor, now)
	if err != nil {
		return err
	}
	if minHours <= 0 {
		return nil
	}
	second, err := NextFireAfter(descriptor, first)
	if err != nil {
		return err
	}
	gap := second.Sub(first)
	minimum := time.Duration(minHours) * time.Hour
	if gap < minimum {
		return services.Wrap(services.ErrScheduleValidation, "schedule", "min-interval",
			fmt.Sprintf("fires %s apart, minimum is %s", gap, minimum), nil)
	}
	return nil
}
