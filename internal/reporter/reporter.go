// Package reporter writes judging progress and verdicts to the submission
// store and tells downstream consumers about final verdicts.
package reporter

import (
	"context"
	"log/slog"

	"github.com/cutekitek/rankode-judge/internal/metrics"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/repository/store"
	"github.com/pkg/errors"
)

// Notifier receives a submission after its final verdict was stored.
// Leaderboard and history consumers hang off this.
type Notifier interface {
	Notify(ctx context.Context, sub *models.Submission) error
}

type NotifierFunc func(ctx context.Context, sub *models.Submission) error

func (f NotifierFunc) Notify(ctx context.Context, sub *models.Submission) error {
	return f(ctx, sub)
}

type Reporter struct {
	store     store.Store
	notifiers []Notifier
}

func New(s store.Store, notifiers ...Notifier) *Reporter {
	return &Reporter{store: s, notifiers: notifiers}
}

// Progress records Compiling or Running. It never fails a job: a move
// backwards, which happens when a job is retried, is skipped.
func (r *Reporter) Progress(ctx context.Context, id string, status models.Status) {
	_, err := r.store.Transition(ctx, id, status, nil)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidTransition):
		slog.Debug("progress skipped", "submission_id", id, "status", status, "error", err)
	default:
		slog.Warn("failed to record progress", "submission_id", id, "status", status, "error", err)
	}
}

// Report stores a final verdict with its metrics in one atomic write.
// Repeating the stored verdict is a noop and returns applied=false. A
// different verdict on a judged submission fails with
// models.ErrTerminalOverwrite.
func (r *Reporter) Report(ctx context.Context, id string, status models.Status, m models.Metrics) (bool, error) {
	if !status.IsTerminal() {
		return false, errors.Wrapf(models.ErrInvalidTransition, "%s is not a verdict", status)
	}
	applied, err := r.store.Transition(ctx, id, status, &m)
	if err != nil {
		return false, errors.Wrapf(err, "failed to report %s for %s", status, id)
	}
	if !applied {
		return false, nil
	}

	sub, err := r.store.Get(ctx, id)
	if err != nil {
		return true, errors.Wrap(err, "failed to reload reported submission")
	}
	metrics.VerdictsTotal.WithLabelValues(sub.Language, status.String()).Inc()

	for _, n := range r.notifiers {
		if err := n.Notify(ctx, sub); err != nil {
			slog.Error("failed to notify about verdict", "submission_id", id, "error", err)
		}
	}
	return true, nil
}

// Reset prepares a judged submission for another run.
func (r *Reporter) Reset(ctx context.Context, id string) (bool, error) {
	return r.store.Reset(ctx, id)
}
