package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cutekitek/rankode-judge/internal/mappers"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/repository/store"
	"github.com/cutekitek/rankode-judge/internal/scheduler"
	"github.com/cutekitek/rankode-judge/internal/service"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/pkg/errors"
)

type Intake interface {
	Submit(ctx context.Context, sub *models.Submission, onDone func(models.Status)) (scheduler.Receipt, error)
	Rejudge(ctx context.Context, id string, onDone func(models.Status)) (scheduler.Receipt, error)
	Cancel(ctx context.Context, id string) error
}

// acknowledger is the part of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// rejections are settled at once, redelivering them would fail the same way.
var rejections = []error{
	toolchain.ErrUnknownLanguage,
	scheduler.ErrQueueFull,
	scheduler.ErrAlreadyScheduled,
	service.ErrAlreadyJudged,
	service.ErrJudgeInProgress,
	service.ErrNotScheduled,
	service.ErrInvalid,
	store.ErrNotFound,
}

func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// dispatch hands one intake message to the service. Submit and rejudge
// messages stay unacked until their verdict is reported.
func dispatch(ctx context.Context, intake Intake, body []byte, d acknowledger) {
	var msg dto.IntakeMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.SubmissionId == "" {
		slog.Error("invalid intake message", "message", string(body))
		settle(d.Nack(false, false))
		return
	}
	log := slog.With("submission_id", msg.SubmissionId, "type", msg.Type)

	ack := func(models.Status) { settle(d.Ack(false)) }
	var err error
	switch msg.Type {
	case dto.MessageSubmit, "":
		_, err = intake.Submit(ctx, mappers.IntakeMessageToSubmission(&msg), ack)
	case dto.MessageRejudge:
		_, err = intake.Rejudge(ctx, msg.SubmissionId, ack)
	case dto.MessageCancel:
		err = intake.Cancel(ctx, msg.SubmissionId)
		if err == nil {
			settle(d.Ack(false))
		}
	default:
		log.Error("unknown intake message type")
		settle(d.Nack(false, false))
		return
	}

	switch {
	case err == nil:
	case isRejection(err):
		log.Warn("intake message rejected", "error", err)
		settle(d.Ack(false))
	default:
		log.Error("failed to handle intake message", "error", err)
		settle(d.Nack(false, true))
	}
}

func settle(err error) {
	if err != nil {
		slog.Error("failed to settle intake message", "error", err)
	}
}
