package cron

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// defaultTickInterval is how often the scheduler scans for due jobs.
const defaultTickInterval = time.Second

// Publisher injects synthetic turns toward the agent loop, normally
// bus.PublishInbound.
type Publisher func(msg *models.InboundMessage)

// Scheduler drives the job store: a single tick goroutine scans for due jobs
// and publishes one synthetic system-channel turn per fire. The single driver
// is what makes the due-check and dispatch atomic; no job can double-fire.
type Scheduler struct {
	store        *Store
	publish      Publisher
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "cron")
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates a scheduler over store, publishing due turns via
// publish.
func NewScheduler(store *Store, publish Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		publish:      publish,
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		tickInterval: defaultTickInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying job store for the cron tool and CLI.
func (s *Scheduler) Store() *Store {
	return s.store
}

// Start launches the tick loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stop)
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick fires every due job once. Exported so tests (and the CLI) can drive
// the scheduler with a fake clock.
func (s *Scheduler) Tick() {
	now := s.now()
	for _, job := range s.store.DueJobs(now) {
		s.fire(job, now)
	}
}

func (s *Scheduler) fire(job *Job, now time.Time) {
	status := StatusOk
	var runErr string

	if job.Payload.Message == "" {
		status = StatusSkipped
		runErr = "job has no message payload"
		s.logger.Warn("skipping cron job without message",
			"job_id", job.ID,
			"name", job.Name)
	} else if s.publish == nil {
		status = StatusError
		runErr = "no publisher configured"
	} else {
		s.publish(&models.InboundMessage{
			Channel:   models.ChannelSystem,
			SenderID:  fmt.Sprintf("cron:%s", job.ID),
			ChatID:    job.ID,
			Content:   job.Payload.Message,
			Timestamp: now,
			Metadata:  s.deliveryMetadata(job),
		})
		s.logger.Info("cron job fired",
			"job_id", job.ID,
			"name", job.Name,
			"kind", job.Schedule.Kind)
	}

	// Errors never disable or delete a job; they are recorded and the job
	// retries on its next natural slot.
	if err := s.store.RecordRun(job.ID, status, runErr, "", now); err != nil {
		s.logger.Error("failed to record cron run",
			"job_id", job.ID,
			"error", err)
	}
}

func (s *Scheduler) deliveryMetadata(job *Job) map[string]string {
	meta := map[string]string{"owner": job.Owner}
	if job.Payload.Deliver {
		meta["deliver"] = "true"
	}
	if job.Payload.Channel != "" {
		meta["deliver_channel"] = job.Payload.Channel
	}
	if job.Payload.To != "" {
		meta["deliver_to"] = job.Payload.To
	}
	return meta
}
