package dto

import (
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

type RunRequest struct {
	Args   []string
	Stdin  []byte
	Limits models.Limits
	// Per stream capture cap in bytes, 0 means unlimited
	MaxOutputSize int64
	// Largest file the program may create, bytes
	MaxFileSize int64
	Env         []string
}

type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	WallTime time.Duration
	CPUTime  time.Duration
	// Kilobytes
	PeakMemory int64
	// Exit code is meaningless when set
	TimedOut        bool
	OOMKilled       bool
	OutputTruncated bool
}
