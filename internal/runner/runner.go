package runner

import (
	"context"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/pkg/errors"
)

// ErrSandboxUnavailable marks judge infrastructure faults: the isolation
// layer could not be provisioned. It never describes the submitted program.
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

type Runner interface {
	// Acquire blocks until an isolated environment built from image is free.
	Acquire(ctx context.Context, image string) (Session, error)
}

// Session owns one isolated environment until Release. Files written into it
// survive between Run calls, processes do not.
type Session interface {
	WriteFile(name string, data []byte) error
	// Run executes one command. Cancelling ctx kills the whole process tree.
	Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResult, error)
	// Release wipes the environment and gives it back to the pool.
	Release()
}

func Unavailable(err error, msg string) error {
	return errors.Wrap(&unavailableError{cause: err}, msg)
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	if e.cause == nil {
		return ErrSandboxUnavailable.Error()
	}
	return ErrSandboxUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrSandboxUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}
