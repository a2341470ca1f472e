package engine

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
)

// Job is a unit of calendar work run by the Scheduler.
type Job interface {
	Run() error
	Name() string
}

// JobFunc adapts a plain function to Job.
type JobFunc struct {
	JobName string
	Fn      func() error
}

func (j JobFunc) Name() string { return j.JobName }
func (j JobFunc) Run() error   { return j.Fn() }

// Scheduler runs calendar jobs (trading-day reset, checkpoints) in the
// session timezone. Schedules use the standard five-field cron syntax or
// descriptors such as "@every 1m".
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  observ.Logger("scheduler"),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on schedule. A failing run is logged and counted;
// the job stays scheduled.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		s.log.Debug().Str("job", job.Name()).Msg("running job")

		if err := job.Run(); err != nil {
			observ.IncCounter("scheduler_job_failures_total", map[string]string{"job": job.Name()})
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		observ.RecordDuration("scheduler_job_seconds", time.Since(start), map[string]string{"job": job.Name()})
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes a job outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run()
}
