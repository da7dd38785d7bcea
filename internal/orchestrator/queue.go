package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/errs"
	"mnemosyne/internal/store"
)

// Handler runs one job to completion. A returned error is classified by
// errs.Classify to decide whether the job is retried or marked permanently failed.
type Handler func(ctx context.Context, job domain.Job) error

// WorkerPool polls store.JobStore for due jobs and runs them against a
// registry of per-kind Handlers, mirroring the teacher's Kafka worker pool
// in kafka.go (bounded channel + goroutine fan-out, retry-then-terminal
// shape) but claiming rows from Postgres instead of consuming messages from
// a topic, and persisting retry/failure state in the queue itself instead of
// publishing to a DLQ topic.
type WorkerPool struct {
	jobs     store.JobStore
	handlers map[domain.JobKind]Handler

	workerCount  int
	pollInterval time.Duration
	stuckAfter   time.Duration

	mu sync.Mutex
}

// NewWorkerPool builds a WorkerPool with no handlers registered; call
// Register for each domain.JobKind the caller supports before Start.
func NewWorkerPool(jobs store.JobStore, workerCount int, pollInterval, stuckAfter time.Duration) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &WorkerPool{
		jobs:         jobs,
		handlers:     map[domain.JobKind]Handler{},
		workerCount:  workerCount,
		pollInterval: pollInterval,
		stuckAfter:   stuckAfter,
	}
}

// Register binds a Handler to a JobKind. It takes p.mu, which job dispatch
// also takes, so it may be called while the pool is running.
func (p *WorkerPool) Register(kind domain.JobKind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Enqueue persists a new job for the pool to pick up, defaulting
// CreatedAt/UpdatedAt/RunAfter to now and MaxRetries to 3.
func (p *WorkerPool) Enqueue(ctx context.Context, j domain.Job) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = now
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	return p.jobs.EnqueueJob(ctx, j)
}

// Start runs workerCount polling goroutines plus a stuck-task recovery
// sweep, blocking until ctx is canceled. Each worker polls independently
// rather than sharing a fetch channel: ClaimNextJob is already the
// contention point (FOR UPDATE SKIP LOCKED in the Postgres store), so a
// shared intake channel would add no benefit over the teacher's Kafka
// reader-loop-plus-channel split, which exists to decouple a single ordered
// partition read from parallel handling.
func (p *WorkerPool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.stuckSweepLoop(ctx)
	}()

	wg.Wait()
}

func (p *WorkerPool) workerLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for p.claimAndRun(ctx, id) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// claimAndRun claims one job and runs it, reporting whether a job was found
// so the caller can drain the queue faster than the poll interval while work
// is available.
func (p *WorkerPool) claimAndRun(ctx context.Context, workerID int) bool {
	job, ok, err := p.jobs.ClaimNextJob(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Int("worker", workerID).Msg("orchestrator: claim job failed")
		return false
	}
	if !ok {
		return false
	}

	p.mu.Lock()
	handler, known := p.handlers[job.Kind]
	p.mu.Unlock()
	if !known {
		log.Error().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("orchestrator: no handler registered for job kind")
		_ = p.jobs.FailJob(ctx, job.ID, "no handler registered for kind "+string(job.Kind))
		return true
	}

	err = handler(ctx, job)
	if err == nil {
		if cerr := p.jobs.CompleteJob(ctx, job.ID); cerr != nil {
			log.Error().Err(cerr).Str("job_id", job.ID).Msg("orchestrator: mark job complete failed")
		}
		return true
	}

	p.fail(ctx, job, err)
	return true
}

// fail applies the categorized retry policy from spec §4.13: permanent
// errors fail the job outright, everything retryable is retried with
// exponential backoff 120*(retries+1) seconds up to max_retries, after which
// it too is marked failed.
func (p *WorkerPool) fail(ctx context.Context, job domain.Job, err error) {
	kind := errs.Classify(err)
	logEvt := log.Warn().Err(err).Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("error_kind", string(kind))

	if !kind.Retryable() || job.Attempts+1 >= job.MaxRetries {
		logEvt.Msg("orchestrator: job failed permanently")
		if ferr := p.jobs.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("job_id", job.ID).Msg("orchestrator: mark job failed failed")
		}
		return
	}

	backoff := time.Duration(120*(job.Attempts+1)) * time.Second
	logEvt.Dur("backoff", backoff).Msg("orchestrator: job failed, will retry")
	if rerr := p.jobs.RetryJob(ctx, job.ID, err.Error(), time.Now().Add(backoff)); rerr != nil {
		log.Error().Err(rerr).Str("job_id", job.ID).Msg("orchestrator: retry job failed")
	}
}

func (p *WorkerPool) stuckSweepLoop(ctx context.Context) {
	interval := p.stuckAfter
	if interval > 15*time.Minute {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.jobs.ResetStuckJobs(ctx, time.Now().Add(-p.stuckAfter))
			if err != nil {
				log.Error().Err(err).Msg("orchestrator: stuck job sweep failed")
				continue
			}
			if n > 0 {
				log.Warn().Int("count", n).Msg("orchestrator: reset stuck jobs")
			}
		}
	}
}
