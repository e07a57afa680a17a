// Package schedule runs a job on a cron schedule for the lifetime of the
// server.
package schedule

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Job is the scheduled work. Its context is cancelled by Stop.
type Job func(ctx context.Context) error

// Scheduler fires one job on a standard 5-field cron spec. A firing that
// finds the previous run still going is skipped.
type Scheduler struct {
	spec    string
	job     Job
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *log.Entry

	runMu      sync.Mutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// New validates spec and prepares a scheduler. An empty spec is rejected;
// callers disable scheduling by not creating one.
func New(name, spec string, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: nil job")
	}
	c := cron.New()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		spec:       spec,
		job:        job,
		cron:       c,
		logger:     log.WithFields(log.Fields{"component": "schedule", "job": name}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
	entryID, err := c.AddFunc(spec, s.fire)
	if err != nil {
		lifeCancel()
		return nil, errors.Wrapf(err, "schedule: invalid cron expression %q", spec)
	}
	s.entryID = entryID
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(log.Fields{
		"spec": s.spec,
		"next": s.Next(),
	}).Info("scheduler started")
}

// Stop cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	s.lifeCancel()
	<-s.cron.Stop().Done()
}

// Next returns the next firing time, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunNow runs the job synchronously, unless a run is already going.
func (s *Scheduler) RunNow() (ran bool, err error) {
	if !s.runMu.TryLock() {
		return false, nil
	}
	defer s.runMu.Unlock()
	return true, s.job(s.lifeCtx)
}

func (s *Scheduler) fire() {
	start := time.Now()
	ran, err := s.RunNow()
	switch {
	case !ran:
		s.logger.Warn("previous run still in progress, skipping")
	case err != nil && s.lifeCtx.Err() == nil:
		s.logger.WithError(err).Error("scheduled run failed")
	case err == nil:
		s.logger.WithField("took", time.Since(start)).Info("scheduled run finished")
	}
}
