package models

import (
	"fmt"

	"github.com/pkg/errors"
)

type Status int8

const (
	StatusPending Status = iota
	StatusCompiling
	StatusRunning
	StatusAccepted
	StatusWrongAnswer
	StatusTimeLimitExceeded
	StatusMemoryLimitExceeded
	StatusRuntimeError
	StatusCompileError
	StatusInternalError
)

var (
	ErrTerminalOverwrite = errors.New("submission already has a different final verdict")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var statusNames = map[Status]string{
	StatusPending:             "pending",
	StatusCompiling:           "compiling",
	StatusRunning:             "running",
	StatusAccepted:            "accepted",
	StatusWrongAnswer:         "wrong_answer",
	StatusTimeLimitExceeded:   "time_limit_exceeded",
	StatusMemoryLimitExceeded: "memory_limit_exceeded",
	StatusRuntimeError:        "runtime_error",
	StatusCompileError:        "compile_error",
	StatusInternalError:       "internal_error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int8(s))
}

func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, errors.Errorf("unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(data []byte) error {
	parsed, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether s is a final verdict.
func (s Status) IsTerminal() bool {
	return s >= StatusAccepted
}

func (s Status) rank() int {
	if s.IsTerminal() {
		return int(StatusAccepted)
	}
	return int(s)
}

// CheckTransition validates moving a submission from one status to another.
// It returns noop=true when the write must be skipped without error: repeating
// the current state, including the same final verdict.
// Going back to Pending is never a transition, only a reset.
func CheckTransition(from, to Status) (noop bool, err error) {
	if from == to {
		return true, nil
	}
	if from.IsTerminal() {
		if to.IsTerminal() {
			return false, errors.Wrapf(ErrTerminalOverwrite, "%s -> %s", from, to)
		}
		return false, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	if to.rank() < from.rank() {
		return false, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return false, nil
}
