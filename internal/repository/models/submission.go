package models

import "time"

type Submission struct {
	Id        string    `json:"id"`
	UserId    string    `json:"user_id"`
	ProblemId string    `json:"problem_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`

	Status Status `json:"status"`
	// Worst case over executed cases, milliseconds
	ExecutionTime int64 `json:"execution_time"`
	// Worst case over executed cases, kilobytes
	MemoryUsed int64        `json:"memory_used"`
	Message    string       `json:"message,omitempty"`
	Cases      []CaseResult `json:"cases,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type CaseResult struct {
	Index     int    `json:"index"`
	Status    Status `json:"status"`
	TimeMs    int64  `json:"time_ms"`
	MemoryKB  int64  `json:"memory_kb"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Metrics are the values written together with a status.
type Metrics struct {
	ExecutionTime int64
	MemoryUsed    int64
	Message       string
	Cases         []CaseResult
}
