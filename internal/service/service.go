// Package service is the entry point transports use to hand submissions to
// the judge: intake, rejudge and cancellation.
package service

import (
	"context"
	"log/slog"
	"path"

	"github.com/cutekitek/rankode-judge/internal/files"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/repository/store"
	"github.com/cutekitek/rankode-judge/internal/scheduler"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/pkg/errors"
)

var (
	ErrJudgeInProgress = errors.New("submission is being judged")
	ErrAlreadyJudged   = errors.New("submission already has a verdict")
	ErrNotScheduled    = errors.New("submission has no pending job")
	ErrInvalid         = errors.New("invalid submission")
)

type Scheduler interface {
	Submit(j scheduler.Job) (scheduler.Receipt, error)
	Cancel(ctx context.Context, submissionId string) bool
}

type Reporter interface {
	Report(ctx context.Context, id string, status models.Status, m models.Metrics) (bool, error)
	Reset(ctx context.Context, id string) (bool, error)
}

type Toolchains interface {
	Resolve(language string) (*toolchain.ToolchainSpec, error)
}

type Service struct {
	store      store.Store
	reporter   Reporter
	scheduler  Scheduler
	toolchains Toolchains
	artifacts  files.Storage
}

func New(st store.Store, rep Reporter, sched Scheduler, toolchains Toolchains, artifacts files.Storage) *Service {
	return &Service{
		store:      st,
		reporter:   rep,
		scheduler:  sched,
		toolchains: toolchains,
		artifacts:  artifacts,
	}
}

// SourcePath is where the source of a submission is kept for external
// plagiarism detectors.
func SourcePath(id string, tc *toolchain.ToolchainSpec) string {
	return path.Join("submissions", id, "source"+path.Ext(tc.SourceFile))
}

// Submit records a new submission and queues it. onDone is called once the
// verdict is reported; it is never called when Submit returns an error.
//
// A submission in an unknown language, or one that does not fit in the
// queue, is stored with an InternalError verdict and the error is returned.
// Submitting an id that exists without a verdict queues it again, which is
// how redelivered messages recover from a crashed worker.
func (s *Service) Submit(ctx context.Context, sub *models.Submission, onDone func(models.Status)) (scheduler.Receipt, error) {
	if sub.Id == "" || sub.ProblemId == "" {
		return scheduler.Receipt{}, errors.Wrap(ErrInvalid, "id and problem id are required")
	}
	sub.Status = models.StatusPending
	log := slog.With("submission_id", sub.Id, "language", sub.Language)

	existing := false
	if err := s.store.Create(ctx, sub); err != nil {
		if !errors.Is(err, store.ErrExists) {
			return scheduler.Receipt{}, errors.Wrap(err, "failed to store submission")
		}
		stored, err := s.store.Get(ctx, sub.Id)
		if err != nil {
			return scheduler.Receipt{}, errors.Wrap(err, "failed to load submission")
		}
		if stored.Status.IsTerminal() {
			return scheduler.Receipt{}, errors.Wrapf(ErrAlreadyJudged, "%s is %s", sub.Id, stored.Status)
		}
		existing = true
		log.Info("requeueing unfinished submission", "status", stored.Status)
	}

	tc, err := s.toolchains.Resolve(sub.Language)
	if err != nil {
		s.reject(ctx, log, sub.Id, err)
		return scheduler.Receipt{}, err
	}

	if !existing && s.artifacts != nil {
		if err := s.artifacts.PutFile(ctx, SourcePath(sub.Id, tc), []byte(sub.Code), "text/plain"); err != nil {
			log.Error("failed to store source artifact", "error", err)
		}
	}

	receipt, err := s.scheduler.Submit(scheduler.Job{SubmissionId: sub.Id, OnDone: onDone})
	if err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			s.reject(ctx, log, sub.Id, err)
		}
		return receipt, err
	}
	log.Debug("submission queued", "receipt", receipt.Id)
	return receipt, nil
}

func (s *Service) reject(ctx context.Context, log *slog.Logger, id string, cause error) {
	log.Warn("submission rejected", "error", cause)
	if _, err := s.reporter.Report(ctx, id, models.StatusInternalError, models.Metrics{Message: cause.Error()}); err != nil {
		log.Error("failed to report rejection", "error", err)
	}
}

// Rejudge clears the verdict of a judged submission and queues it again.
// A Pending submission is queued without a reset.
func (s *Service) Rejudge(ctx context.Context, id string, onDone func(models.Status)) (scheduler.Receipt, error) {
	if _, err := s.reporter.Reset(ctx, id); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return scheduler.Receipt{}, errors.Wrap(ErrJudgeInProgress, id)
		}
		return scheduler.Receipt{}, errors.Wrap(err, "failed to reset submission")
	}

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return scheduler.Receipt{}, errors.Wrap(err, "failed to load submission")
	}
	if _, err := s.toolchains.Resolve(sub.Language); err != nil {
		s.reject(ctx, slog.With("submission_id", id), id, err)
		return scheduler.Receipt{}, err
	}

	receipt, err := s.scheduler.Submit(scheduler.Job{SubmissionId: id, OnDone: onDone})
	if err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			s.reject(ctx, slog.With("submission_id", id), id, err)
		}
		return receipt, err
	}
	slog.Info("submission rejudge queued", "submission_id", id, "receipt", receipt.Id)
	return receipt, nil
}

// Cancel stops a queued or running job. The submission ends with an
// InternalError verdict.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if !s.scheduler.Cancel(ctx, id) {
		return errors.Wrap(ErrNotScheduled, id)
	}
	return nil
}
