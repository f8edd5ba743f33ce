package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Janitor purges terminal logs older than a retention window on a cron schedule.
// Operations of purged logs go with them.
type Janitor struct {
	logs      LogStore
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *telemetry.Logger
	now       func() time.Time
}

// NewJanitor creates a janitor. schedule is a standard 5-field cron spec or a
// descriptor such as "@daily".
func NewJanitor(logs LogStore, retention time.Duration, schedule string, logger *telemetry.Logger) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Janitor{
		logs:      logs,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    logger.NewComponentLogger("janitor"),
		now:       time.Now,
	}, nil
}

// Purge deletes terminal logs created before now minus the retention.
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	before := j.now().Add(-j.retention).UTC()
	n, err := j.logs.PurgeLogs(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	j.logger.WithFields(map[string]interface{}{
		"before": before.Format(time.RFC3339),
		"purged": n,
	}).Info("Purged backend logs")
	return n, nil
}

// Start schedules the purge job. Stop the janitor to release the scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.Purge(ctx); err != nil {
			j.logger.WithError(err).Error("Scheduled purge failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running purge.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
