package dto

import "time"

type MessageType string

const (
	MessageSubmit  MessageType = "submit"
	MessageRejudge MessageType = "rejudge"
	MessageCancel  MessageType = "cancel"
)

// IntakeMessage is the body of a message on the submissions queue.
// Rejudge and cancel only carry SubmissionId.
type IntakeMessage struct {
	Type         MessageType `json:"type"`
	SubmissionId string      `json:"submission_id"`
	UserId       string      `json:"user_id,omitempty"`
	ProblemId    string      `json:"problem_id,omitempty"`
	Language     string      `json:"language,omitempty"`
	Code         string      `json:"code,omitempty"`
}

type CaseEvent struct {
	Index    int    `json:"index"`
	Status   string `json:"status"`
	TimeMs   int64  `json:"time_ms"`
	MemoryKB int64  `json:"memory_kb"`
}

// VerdictEvent is published once per final verdict.
type VerdictEvent struct {
	SubmissionId  string      `json:"submission_id"`
	UserId        string      `json:"user_id"`
	ProblemId     string      `json:"problem_id"`
	Language      string      `json:"language"`
	Verdict       string      `json:"verdict"`
	ExecutionTime int64       `json:"execution_time"`
	MemoryUsed    int64       `json:"memory_used"`
	Message       string      `json:"message,omitempty"`
	Cases         []CaseEvent `json:"cases,omitempty"`
	JudgedAt      time.Time   `json:"judged_at"`
}
