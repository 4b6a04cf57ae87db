// Package cron runs periodic housekeeping such as idle chat session
// pruning, expired approval grant sweeps and tool history retention.
package cron

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Job is a named housekeeping task run on a schedule.
type Job interface {
	// Name identifies the job in logs and RunNow. It must be unique.
	Name() string

	// Schedule is a 5-field cron expression such as "*/5 * * * *".
	Schedule() string

	// Run does one pass. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a 5-field cron expression. Descriptors such as
// "@hourly" and seconds fields are not accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return scheduleParser.Parse(expr)
}
