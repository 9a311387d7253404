package reconcile

import (
	"errors"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnsupportedCron is returned for any cron expression outside the three
// supported shapes (hourly, daily, weekly). The narrow shape gate runs
// before the expression ever reaches the cron parser, so an expression like
// "*/5 * * * *" or a step/range syntax is rejected here, not by the library.
var ErrUnsupportedCron = errors.New("reconcile: unsupported cron expression")

var (
	reHourly = regexp.MustCompile(`^\d{1,2} \* \* \* \*$`)
	reDaily  = regexp.MustCompile(`^\d{1,2} \d{1,2} \* \* \*$`)
	reWeekly = regexp.MustCompile(`^\d{1,2} \d{1,2} \* \* \d$`)
)

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func isSupportedShape(expr string) bool {
	return reHourly.MatchString(expr) || reDaily.MatchString(expr) || reWeekly.MatchString(expr)
}

// ComputeNextRun computes the next run time strictly after from, for one of
// the three narrow supported cron shapes (hourly "M * * * *", daily
// "M H * * *", weekly "M H * * D"). Anything else is rejected before
// parsing. "Strictly after" means an exact match on from is pushed one
// period later — robfig/cron's Schedule.Next already has that semantic, it
// never returns its input instant.
func ComputeNextRun(expr string, from time.Time) (time.Time, error) {
	if !isSupportedShape(expr) {
		return time.Time{}, ErrUnsupportedCron
	}
	schedule, err := standardParser.Parse(expr)
	if err != nil {
		return time.Time{}, ErrUnsupportedCron
	}
	return schedule.Next(from), nil
}
