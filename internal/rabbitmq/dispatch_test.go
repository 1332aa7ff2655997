package rabbitmq

import (
	"context"
	"testing"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/scheduler"
	"github.com/cutekitek/rankode-judge/internal/service"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/pkg/errors"
)

type fakeDelivery struct {
	acks    int
	nacks   int
	requeue bool
}

func (d *fakeDelivery) Ack(bool) error {
	d.acks++
	return nil
}

func (d *fakeDelivery) Nack(_, requeue bool) error {
	d.nacks++
	d.requeue = requeue
	return nil
}

type fakeIntake struct {
	err       error
	submitted []*models.Submission
	rejudged  []string
	cancelled []string
	onDone    func(models.Status)
}

func (f *fakeIntake) Submit(_ context.Context, sub *models.Submission, onDone func(models.Status)) (scheduler.Receipt, error) {
	f.submitted = append(f.submitted, sub)
	f.onDone = onDone
	return scheduler.Receipt{}, f.err
}

func (f *fakeIntake) Rejudge(_ context.Context, id string, onDone func(models.Status)) (scheduler.Receipt, error) {
	f.rejudged = append(f.rejudged, id)
	f.onDone = onDone
	return scheduler.Receipt{}, f.err
}

func (f *fakeIntake) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.err
}

func TestDispatch_SubmitAcksOnVerdict(t *testing.T) {
	intake := &fakeIntake{}
	d := &fakeDelivery{}
	body := `{"type":"submit","submission_id":"s1","user_id":"u1","problem_id":"p1","language":"python","code":"print(1)"}`

	dispatch(context.Background(), intake, []byte(body), d)

	if len(intake.submitted) != 1 {
		t.Fatalf("submission not handed to intake")
	}
	sub := intake.submitted[0]
	if sub.Id != "s1" || sub.ProblemId != "p1" || sub.Language != "python" || sub.Status != models.StatusPending {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if d.acks != 0 {
		t.Fatalf("message acked before verdict")
	}
	intake.onDone(models.StatusAccepted)
	if d.acks != 1 {
		t.Fatalf("message not acked after verdict")
	}
}

func TestDispatch_Settlement(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		acks    int
		nacks   int
		requeue bool
	}{
		{name: "malformed", body: `{"type":`, nacks: 1},
		{name: "missing id", body: `{"type":"submit"}`, nacks: 1},
		{name: "unknown type", body: `{"type":"delete","submission_id":"s1"}`, nacks: 1},
		{name: "unknown language", body: `{"type":"submit","submission_id":"s1","language":"brainfuck"}`, err: toolchain.ErrUnknownLanguage, acks: 1},
		{name: "queue full", body: `{"type":"submit","submission_id":"s1"}`, err: scheduler.ErrQueueFull, acks: 1},
		{name: "rejudge in progress", body: `{"type":"rejudge","submission_id":"s1"}`, err: service.ErrJudgeInProgress, acks: 1},
		{name: "shutting down", body: `{"type":"submit","submission_id":"s1"}`, err: scheduler.ErrClosed, nacks: 1, requeue: true},
		{name: "store down", body: `{"type":"rejudge","submission_id":"s1"}`, err: errors.New("connection refused"), nacks: 1, requeue: true},
		{name: "cancel", body: `{"type":"cancel","submission_id":"s1"}`, acks: 1},
		{name: "cancel without job", body: `{"type":"cancel","submission_id":"s1"}`, err: service.ErrNotScheduled, acks: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDelivery{}
			dispatch(context.Background(), &fakeIntake{err: errors.Wrap(tt.err, "wrapped")}, []byte(tt.body), d)
			if d.acks != tt.acks || d.nacks != tt.nacks || d.requeue != tt.requeue {
				t.Fatalf("acks=%d nacks=%d requeue=%v", d.acks, d.nacks, d.requeue)
			}
		})
	}
}
