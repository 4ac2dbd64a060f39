package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-fiware-sync/core"
)

// Schedule reports when the cycle following one started at from is due.
type Schedule interface {
	Next(from time.Time) time.Time
}

type IntervalSchedule struct {
	Interval time.Duration
}

func (s IntervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.Interval)
}

// NewSchedule prefers the cron expression and falls back to the fixed interval.
func NewSchedule(cfg core.SyncConfig) (Schedule, error) {
	if expression := strings.TrimSpace(cfg.Schedule); expression != "" {
		schedule, err := cron.ParseStandard(expression)
		if err != nil {
			return nil, fmt.Errorf("sync: parse schedule %q: %w", expression, err)
		}
		return schedule, nil
	}
	if cfg.Interval() <= 0 {
		return nil, fmt.Errorf("sync: interval must be positive")
	}
	return IntervalSchedule{Interval: cfg.Interval()}, nil
}
