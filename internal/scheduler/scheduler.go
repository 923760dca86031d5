// Package scheduler provides cron-based job scheduling for BillPipe.
//
// It runs recurring maintenance jobs such as expired-conversation cleanup
// and payment reminder sweeps.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Jobs that panic are
// recovered and logged rather than killing the process.
func NewScheduler() *Scheduler {
	// Standard 5-field cron expressions plus descriptors like @hourly
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
