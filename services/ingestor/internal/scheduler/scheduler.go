package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/exchange"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/reconcile"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/registry"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job already running")
)

type Registry interface {
	Load(ctx context.Context) ([]registry.Entry, error)
}

type Runner interface {
	Run(ctx context.Context, ex models.Exchange, adapter exchange.Adapter, kind models.JobKind) (reconcile.Result, error)
}

// Recorder receives the error audit row of a job that panicked.
type Recorder interface {
	RecordStatus(ctx context.Context, audit models.StatusHistory) error
}

// Task is the body of a system job.
type Task func(ctx context.Context) error

type Config struct {
	ReloadInterval  time.Duration
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
	// RunOnAdd triggers exchange jobs once as soon as they are registered.
	RunOnAdd bool
}

// JobInfo describes a registered job for the jobs API.
type JobInfo struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Exchange  string     `json:"exchange,omitempty"`
	Interval  string     `json:"interval"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	PrevRun   *time.Time `json:"prev_run,omitempty"`
	Running   bool       `json:"running"`
	LastError string     `json:"last_error,omitempty"`
}

type job struct {
	id          string
	kind        string
	exchangeID  uuid.UUID
	exchange    string
	interval    time.Duration
	fingerprint string
	system      bool
	run         Task
	guard       *atomic.Bool
	entryID     cron.EntryID

	mu      sync.Mutex
	lastErr error
}

func (j *job) setLastError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastErr = err
}

func (j *job) lastError() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

type Scheduler struct {
	cron     *cron.Cron
	registry Registry
	runner   Runner
	recorder Recorder
	cfg      Config
	logger   *logrus.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	guards  map[string]*atomic.Bool
	baseCtx context.Context

	manual sync.WaitGroup
}

func NewScheduler(reg Registry, runner Runner, recorder Recorder, cfg Config, logger *logrus.Logger) *Scheduler {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		registry: reg,
		runner:   runner,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		jobs:     make(map[string]*job),
		guards:   make(map[string]*atomic.Bool),
		baseCtx:  context.Background(),
	}
}

// Start loads the exchange jobs and starts the timers. Jobs run on a context
// derived from ctx that is not cancelled with it, so a shutdown lets running
// batches commit.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.logger.WithField("reload_interval", s.cfg.ReloadInterval).Info("Starting ingest scheduler")

	if err := s.Reload(ctx); err != nil {
		s.logger.WithError(err).Error("Initial job reload failed")
	}

	s.cron.Schedule(cron.Every(s.cfg.ReloadInterval), cron.FuncJob(func() {
		reloadCtx, cancel := context.WithTimeout(s.base(), s.cfg.JobTimeout)
		defer cancel()
		if err := s.Reload(reloadCtx); err != nil {
			s.logger.WithError(err).Error("Job reload failed")
		}
	}))

	s.cron.Start()
	s.logger.Info("Ingest scheduler started successfully")
	return nil
}

// Stop halts the timers and waits for running jobs, bounded by the shutdown
// timeout.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping ingest scheduler")
	stopped := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.manual.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Ingest scheduler stopped")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("timed out after %s waiting for running jobs", s.cfg.ShutdownTimeout)
	}
}

func (s *Scheduler) base() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Reload reconciles the registered exchange jobs with the registry:
// unchanged jobs keep their timers, changed ones are replaced and vanished
// ones are removed. On a registry error the current jobs are kept.
func (s *Scheduler) Reload(ctx context.Context) error {
	entries, err := s.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load exchanges: %w", err)
	}

	desired := make(map[string]*job, len(entries)*len(models.JobKinds))
	for _, entry := range entries {
		for _, kind := range models.JobKinds {
			j := s.exchangeJob(entry, kind)
			desired[j.id] = j
		}
	}

	var added []*job
	removed, replaced := 0, 0

	s.mu.Lock()
	for id, current := range s.jobs {
		if current.system {
			continue
		}
		next, ok := desired[id]
		if ok && next.fingerprint == current.fingerprint {
			delete(desired, id)
			continue
		}
		s.cron.Remove(current.entryID)
		delete(s.jobs, id)
		if ok {
			replaced++
		} else {
			removed++
		}
	}

	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s.register(desired[id])
		added = append(added, desired[id])
	}
	runOnAdd := s.cfg.RunOnAdd
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"exchanges": len(entries),
		"added":     len(added) - replaced,
		"replaced":  replaced,
		"removed":   removed,
	}).Info("Reloaded exchange jobs")

	if runOnAdd {
		for _, j := range added {
			s.launch(j)
		}
	}
	return nil
}

func (s *Scheduler) exchangeJob(entry registry.Entry, kind models.JobKind) *job {
	ex, adapter := entry.Exchange, entry.Adapter
	return &job{
		id:          ex.JobID(kind),
		kind:        string(kind),
		exchangeID:  ex.ID,
		exchange:    ex.Code,
		interval:    ex.Interval(kind),
		fingerprint: entry.Fingerprint(kind),
		run: func(ctx context.Context) error {
			_, err := s.runner.Run(ctx, ex, adapter, kind)
			return err
		},
	}
}

// AddSystemJob registers a recurring job that is not tied to an exchange.
// It shares the single-flight guard and timeout of exchange jobs.
func (s *Scheduler) AddSystemJob(id string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[id]; ok {
		s.cron.Remove(old.entryID)
	}
	s.register(&job{
		id:       id,
		kind:     id,
		interval: interval,
		system:   true,
		run:      task,
	})
	return nil
}

// register must be called with s.mu held.
func (s *Scheduler) register(j *job) {
	guard, ok := s.guards[j.id]
	if !ok {
		guard = new(atomic.Bool)
		s.guards[j.id] = guard
	}
	j.guard = guard

	entryID := s.cron.Schedule(cron.Every(j.interval), cron.FuncJob(func() {
		s.trigger(j)
	}))
	j.entryID = entryID
	s.jobs[j.id] = j

	s.logger.WithFields(logrus.Fields{
		"job_id":   j.id,
		"interval": j.interval,
	}).Debug("Registered job")
}

// trigger runs j on the calling goroutine unless an instance of the same job
// id is already running, in which case the attempt is skipped.
func (s *Scheduler) trigger(j *job) bool {
	if !j.guard.CompareAndSwap(false, true) {
		s.logger.WithField("job_id", j.id).Warn("Job still running, skipping this run")
		return false
	}
	defer j.guard.Store(false)
	s.execute(j)
	return true
}

func (s *Scheduler) launch(j *job) {
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		s.trigger(j)
	}()
}

// RunNow starts a job outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if !j.guard.CompareAndSwap(false, true) {
		s.logger.WithField("job_id", id).Warn("Manual run skipped, job still running")
		return ErrJobRunning
	}

	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		defer j.guard.Store(false)
		s.execute(j)
	}()
	return nil
}

func (s *Scheduler) execute(j *job) {
	ctx, cancel := context.WithTimeout(s.base(), s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	log := s.logger.WithField("job_id", j.id)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("job panicked: %v", r)
			log.WithError(err).Error("Job panicked")
			j.setLastError(err)
			s.recordPanic(ctx, j, err)
		}
	}()

	err := j.run(ctx)
	j.setLastError(err)
	if err != nil {
		log.WithError(err).WithField("duration_ms", time.Since(start).Milliseconds()).Warn("Job finished with error")
		return
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Job finished")
}

func (s *Scheduler) recordPanic(ctx context.Context, j *job, cause error) {
	if j.system || s.recorder == nil {
		return
	}
	audit := models.StatusHistory{
		ExchangeID: j.exchangeID,
		Event:      models.JobKind(j.kind).Event(),
		Status:     models.AuditError,
		Message:    cause.Error(),
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordStatus(auditCtx, audit); err != nil {
		s.logger.WithError(err).WithField("job_id", j.id).Error("Failed to record job panic")
	}
}

// Jobs lists the registered jobs ordered by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].id < jobs[b].id })

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := JobInfo{
			ID:       j.id,
			Kind:     j.kind,
			Exchange: j.exchange,
			Interval: j.interval.String(),
			Running:  j.guard.Load(),
		}
		entry := s.cron.Entry(j.entryID)
		if !entry.Next.IsZero() {
			next := entry.Next
			info.NextRun = &next
		}
		if !entry.Prev.IsZero() {
			prev := entry.Prev
			info.PrevRun = &prev
		}
		if err := j.lastError(); err != nil {
			info.LastError = err.Error()
		}
		out = append(out, info)
	}
	return out
}
