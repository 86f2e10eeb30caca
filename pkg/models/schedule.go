package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a digest schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule decides when a digest window closes.
// CronExpression uses the standard 5-field format (minute hour day month weekday)
// and also accepts descriptors such as @weekly or @every 1h.
type Schedule struct {
	CronExpression string `json:"cron"               validate:"required" yaml:"cron"`
	Timezone       string `json:"timezone,omitempty" yaml:"timezone"`
}

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate performs validation on the schedule fields.
func (s Schedule) Validate() error {
	_, err := s.parse()

	return err
}

// Next returns the first window boundary strictly after the reference time.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	sched, err := s.parse()
	if err != nil {
		return time.Time{}, err
	}

	return sched.Next(after).UTC(), nil
}

func (s Schedule) String() string {
	if s.Timezone == "" {
		return s.CronExpression
	}

	return "CRON_TZ=" + s.Timezone + " " + s.CronExpression
}

func (s Schedule) parse() (cron.Schedule, error) {
	if s.CronExpression == "" {
		return nil, fmt.Errorf("%w: cron expression is required", ErrInvalidSchedule)
	}

	if _, err := s.location(); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q: %v", ErrInvalidSchedule, s.Timezone, err)
	}

	sched, err := scheduleParser.Parse(s.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, s.CronExpression, err)
	}

	return sched, nil
}

func (s Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(s.Timezone)
}
