package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type CronJob func(ctx context.Context) error

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job CronJob) error
	Remove(jobName string) error
	Job(jobName string) (JobEntry, bool)
}

type JobEntry struct {
	ID            cron.EntryID
	Name          string
	Spec          string
	AddedAt       time.Time
	LastRun       time.Time
	NextRun       time.Time
	LastDuration  time.Duration
	TotalDuration time.Duration
	RunCount      int64
	Error         error
}
