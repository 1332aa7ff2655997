// Package store keeps submissions and their verdicts. Every mutation is an
// atomic read-check-write of one record, so concurrent workers and reporters
// never interleave on the same submission.
package store

import (
	"context"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("submission not found")
	ErrExists   = errors.New("submission already exists")
)

type Store interface {
	Create(ctx context.Context, sub *models.Submission) error
	Get(ctx context.Context, id string) (*models.Submission, error)
	// Transition moves the submission to status. Metrics are written only
	// together with a final verdict. applied is false when the write was a
	// noop, for example repeating the verdict already stored.
	Transition(ctx context.Context, id string, status models.Status, m *models.Metrics) (applied bool, err error)
	// Reset puts a judged submission back to Pending and clears its results.
	// It returns false for a submission that is already Pending and
	// models.ErrInvalidTransition for one that is being judged.
	Reset(ctx context.Context, id string) (bool, error)
}

func applyTransition(sub *models.Submission, status models.Status, m *models.Metrics, now time.Time) (bool, error) {
	noop, err := models.CheckTransition(sub.Status, status)
	if err != nil {
		return false, err
	}
	if noop {
		return false, nil
	}
	sub.Status = status
	if status.IsTerminal() && m != nil {
		sub.ExecutionTime = m.ExecutionTime
		sub.MemoryUsed = m.MemoryUsed
		sub.Message = m.Message
		sub.Cases = m.Cases
	}
	sub.UpdatedAt = now
	return true, nil
}

func applyReset(sub *models.Submission, now time.Time) (bool, error) {
	switch {
	case sub.Status == models.StatusPending:
		return false, nil
	case !sub.Status.IsTerminal():
		return false, errors.Wrapf(models.ErrInvalidTransition, "reset while %s", sub.Status)
	}
	sub.Status = models.StatusPending
	sub.ExecutionTime = 0
	sub.MemoryUsed = 0
	sub.Message = ""
	sub.Cases = nil
	sub.UpdatedAt = now
	return true, nil
}

func clone(sub *models.Submission) *models.Submission {
	cp := *sub
	cp.Cases = append([]models.CaseResult(nil), sub.Cases...)
	return &cp
}
