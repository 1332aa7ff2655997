package mappers

import (
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

func SubmissionToVerdictEvent(sub *models.Submission) *dto.VerdictEvent {
	event := &dto.VerdictEvent{
		SubmissionId:  sub.Id,
		UserId:        sub.UserId,
		ProblemId:     sub.ProblemId,
		Language:      sub.Language,
		Verdict:       sub.Status.String(),
		ExecutionTime: sub.ExecutionTime,
		MemoryUsed:    sub.MemoryUsed,
		Message:       sub.Message,
		Cases:         make([]dto.CaseEvent, 0, len(sub.Cases)),
		JudgedAt:      sub.UpdatedAt,
	}
	if event.JudgedAt.IsZero() {
		event.JudgedAt = time.Now()
	}
	for _, c := range sub.Cases {
		event.Cases = append(event.Cases, dto.CaseEvent{
			Index:    c.Index,
			Status:   c.Status.String(),
			TimeMs:   c.TimeMs,
			MemoryKB: c.MemoryKB,
		})
	}
	return event
}

func IntakeMessageToSubmission(msg *dto.IntakeMessage) *models.Submission {
	return &models.Submission{
		Id:        msg.SubmissionId,
		UserId:    msg.UserId,
		ProblemId: msg.ProblemId,
		Language:  msg.Language,
		Code:      msg.Code,
		CreatedAt: time.Now(),
		Status:    models.StatusPending,
	}
}
