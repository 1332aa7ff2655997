// Package scheduler admits judging jobs into a fixed pool of workers.
// Jobs wait in a FIFO queue and every worker carries one job from toolchain
// resolution to the reported verdict before taking the next.
package scheduler

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/metrics"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const CancelledMessage = "cancelled"

var (
	ErrBudgetExceeded   = errors.New("judge budget exceeded")
	ErrQueueFull        = errors.New("judge queue is full")
	ErrClosed           = errors.New("scheduler is closed")
	ErrAlreadyScheduled = errors.New("submission is already scheduled")
)

type Submissions interface {
	Get(ctx context.Context, id string) (*models.Submission, error)
}

type Problems interface {
	GetProblem(ctx context.Context, id string) (*models.Problem, error)
}

type Toolchains interface {
	Resolve(language string) (*toolchain.ToolchainSpec, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, req judge.Request, progress judge.ProgressFunc) (*judge.Result, error)
}

type Reporter interface {
	Progress(ctx context.Context, id string, status models.Status)
	Report(ctx context.Context, id string, status models.Status, m models.Metrics) (bool, error)
}

type Deps struct {
	Submissions Submissions
	Problems    Problems
	Toolchains  Toolchains
	Evaluator   Evaluator
	Reporter    Reporter
}

type Config struct {
	Workers int
	// 0 means unbounded
	QueueCapacity   int
	InternalRetries int
	CaseOverhead    time.Duration
	BudgetMargin    time.Duration
}

type Job struct {
	SubmissionId string
	// OnDone is called once with the reported verdict. It is not called for
	// jobs dropped by Close, those are left to be redelivered.
	OnDone func(status models.Status)
}

type Receipt struct {
	Id           string
	SubmissionId string
	EnqueuedAt   time.Time
}

type job struct {
	Job
	receipt   Receipt
	elem      *list.Element
	cancel    context.CancelFunc
	cancelled bool
}

type Scheduler struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List
	active map[string]*job
	closed bool

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		deps:     deps,
		queue:    list.New(),
		active:   make(map[string]*job),
		baseCtx:  ctx,
		shutdown: cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Submit queues a job and returns at once.
func (s *Scheduler) Submit(j Job) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Receipt{}, ErrClosed
	}
	if existing, ok := s.active[j.SubmissionId]; ok {
		return existing.receipt, errors.Wrap(ErrAlreadyScheduled, j.SubmissionId)
	}
	if s.cfg.QueueCapacity > 0 && s.queue.Len() >= s.cfg.QueueCapacity {
		return Receipt{}, ErrQueueFull
	}

	queued := &job{
		Job: j,
		receipt: Receipt{
			Id:           uuid.NewString(),
			SubmissionId: j.SubmissionId,
			EnqueuedAt:   time.Now(),
		},
	}
	queued.elem = s.queue.PushBack(queued)
	s.active[j.SubmissionId] = queued
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	s.cond.Signal()
	return queued.receipt, nil
}

// Cancel stops the job of a submission. A queued job is reported at once, a
// running one is torn down at the next sandbox boundary and reported by its
// worker. It returns false when the submission has no job.
func (s *Scheduler) Cancel(ctx context.Context, submissionId string) bool {
	s.mu.Lock()
	j, ok := s.active[submissionId]
	if !ok {
		s.mu.Unlock()
		return false
	}
	j.cancelled = true
	if j.elem == nil {
		if j.cancel != nil {
			j.cancel()
		}
		s.mu.Unlock()
		return true
	}
	s.queue.Remove(j.elem)
	j.elem = nil
	delete(s.active, submissionId)
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	s.mu.Unlock()

	s.finish(ctx, slog.With("submission_id", submissionId), j, models.StatusInternalError, models.Metrics{Message: CancelledMessage})
	return true
}

// Len returns the number of queued jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Close stops admission and drops queued jobs, then waits for running jobs.
// When ctx ends first the running jobs are torn down without a verdict.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for e := s.queue.Front(); e != nil; e = e.Next() {
		delete(s.active, e.Value.(*job).SubmissionId)
	}
	s.queue.Init()
	metrics.QueueDepth.Set(0)
	s.cond.Broadcast()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.shutdown()
		return nil
	case <-ctx.Done():
		s.shutdown()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) next() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil
	}
	j := s.queue.Remove(s.queue.Front()).(*job)
	j.elem = nil
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	return j
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		j := s.next()
		if j == nil {
			return
		}
		s.run(slog.With("worker", id, "submission_id", j.SubmissionId), j)
	}
}

func (s *Scheduler) run(log *slog.Logger, j *job) {
	metrics.BusyWorkers.Inc()
	started := time.Now()
	defer func() {
		metrics.BusyWorkers.Dec()
		metrics.JobDuration.Observe(time.Since(started).Seconds())
	}()

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	s.mu.Lock()
	j.cancel = cancel
	cancelled := j.cancelled
	s.mu.Unlock()

	status, m := models.StatusInternalError, models.Metrics{Message: CancelledMessage}
	if !cancelled {
		status, m = s.process(ctx, log, j)
	}

	s.mu.Lock()
	delete(s.active, j.SubmissionId)
	cancelled = j.cancelled
	s.mu.Unlock()

	if s.baseCtx.Err() != nil && !cancelled {
		log.Warn("job abandoned on shutdown")
		return
	}
	// the job context may already be gone, the verdict must still be written
	s.finish(context.WithoutCancel(ctx), log, j, status, m)
}

func (s *Scheduler) finish(ctx context.Context, log *slog.Logger, j *job, status models.Status, m models.Metrics) {
	if _, err := s.deps.Reporter.Report(ctx, j.SubmissionId, status, m); err != nil {
		log.Error("failed to report verdict", "status", status, "error", err)
	} else {
		log.Info("submission judged", "status", status, "time_ms", m.ExecutionTime, "memory_kb", m.MemoryUsed)
	}
	if j.OnDone != nil {
		j.OnDone(status)
	}
}

// process runs attempts until one yields a verdict. Only judge side failures
// listed in retryable are tried again.
func (s *Scheduler) process(ctx context.Context, log *slog.Logger, j *job) (models.Status, models.Metrics) {
	for attempt := 0; ; attempt++ {
		status, m, err := s.attempt(ctx, j)
		if err == nil {
			return status, m
		}
		if ctx.Err() != nil {
			return models.StatusInternalError, models.Metrics{Message: CancelledMessage}
		}
		if retryable(err) && attempt < s.cfg.InternalRetries {
			metrics.InternalRetries.Inc()
			log.Warn("retrying job after internal error", "attempt", attempt+1, "error", err)
			continue
		}
		log.Error("job failed", "error", err)
		return models.StatusInternalError, models.Metrics{Message: err.Error()}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrBudgetExceeded) || errors.Is(err, runner.ErrSandboxUnavailable)
}

func (s *Scheduler) attempt(ctx context.Context, j *job) (models.Status, models.Metrics, error) {
	sub, err := s.deps.Submissions.Get(ctx, j.SubmissionId)
	if err != nil {
		return 0, models.Metrics{}, errors.Wrap(err, "failed to load submission")
	}
	tc, err := s.deps.Toolchains.Resolve(sub.Language)
	if err != nil {
		return 0, models.Metrics{}, err
	}
	problem, err := s.deps.Problems.GetProblem(ctx, sub.ProblemId)
	if err != nil {
		return 0, models.Metrics{}, errors.Wrap(err, "failed to load problem")
	}
	problem = problem.Snapshot()

	budget := judge.Budget(problem, tc, s.cfg.CaseOverhead, s.cfg.BudgetMargin)
	jobCtx, cancel := context.WithTimeoutCause(ctx, budget, ErrBudgetExceeded)
	defer cancel()

	progress := func(status models.Status) {
		s.deps.Reporter.Progress(ctx, sub.Id, status)
	}
	res, err := s.deps.Evaluator.Evaluate(jobCtx, judge.Request{
		Submission: sub,
		Toolchain:  tc,
		Problem:    problem,
	}, progress)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(jobCtx), ErrBudgetExceeded) {
			return 0, models.Metrics{}, errors.Wrapf(ErrBudgetExceeded, "after %s", budget)
		}
		return 0, models.Metrics{}, err
	}
	return res.Status, res.Metrics(), nil
}
