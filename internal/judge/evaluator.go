// Package judge runs one submission against the test cases of a problem and
// reduces the per case sandbox results to a verdict.
package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/cutekitek/rankode-judge/internal/metrics"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/pkg/errors"
)

const maxCompileLog = 64 * 1024

type Request struct {
	Submission *models.Submission
	Toolchain  *toolchain.ToolchainSpec
	// Snapshot taken at dispatch, never shared with the problem source
	Problem *models.Problem
}

type Result struct {
	Status models.Status `json:"status"`
	// Milliseconds, worst case over executed cases
	ExecutionTime int64 `json:"execution_time"`
	// Kilobytes, worst case over executed cases
	MemoryUsed int64               `json:"memory_used"`
	Message    string              `json:"message,omitempty"`
	Cases      []models.CaseResult `json:"cases"`
}

func (r *Result) Metrics() models.Metrics {
	return models.Metrics{
		ExecutionTime: r.ExecutionTime,
		MemoryUsed:    r.MemoryUsed,
		Message:       r.Message,
		Cases:         r.Cases,
	}
}

// ProgressFunc receives Compiling and Running as the evaluation advances.
type ProgressFunc func(status models.Status)

type Evaluator struct {
	Runner        runner.Runner
	MaxOutputSize int64
}

func NewEvaluator(r runner.Runner, maxOutputSize int64) *Evaluator {
	return &Evaluator{Runner: r, MaxOutputSize: maxOutputSize}
}

type runFailedError struct {
	ErrorLogs  string
	StatusCode int
	TimedOut   bool
}

func (r *runFailedError) Error() string {
	if r.TimedOut {
		return "compilation timed out"
	}
	return fmt.Sprintf("failed to run(%d)", r.StatusCode)
}

// Evaluate returns an error only for judge side failures: the sandbox could
// not be provisioned or ctx ended. Everything the program does is a verdict.
//
// Cases run in order and evaluation stops at the first failing one, which
// bounds sandbox time per submission. Cases after it are not reported.
func (e *Evaluator) Evaluate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(models.Status) {}
	}
	tc := req.Toolchain

	sess, err := e.Runner.Acquire(ctx, tc.Image)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire sandbox")
	}
	defer sess.Release()

	if err := sess.WriteFile(tc.SourceFile, []byte(req.Submission.Code)); err != nil {
		return nil, errors.Wrap(err, "failed to write source file")
	}

	if tc.Compiled() {
		progress(models.StatusCompiling)
		if err := e.build(ctx, sess, tc); err != nil {
			var failed *runFailedError
			if errors.As(err, &failed) {
				return &Result{Status: models.StatusCompileError, Message: failed.ErrorLogs}, nil
			}
			return nil, errors.Wrap(err, "build failed")
		}
	}

	progress(models.StatusRunning)
	return e.runTestCases(ctx, sess, req)
}

func (e *Evaluator) build(ctx context.Context, sess runner.Session, tc *toolchain.ToolchainSpec) error {
	started := time.Now()
	res, err := sess.Run(ctx, &dto.RunRequest{
		Args:          tc.CompileCommand,
		Limits:        tc.CompileLimits,
		MaxOutputSize: maxCompileLog,
		MaxFileSize:   tc.CompileMaxFileSize,
		Env:           tc.CompileEnv,
	})
	metrics.SandboxRunDuration.WithLabelValues("compile").Observe(time.Since(started).Seconds())
	if err != nil {
		return errors.Wrap(err, "failed to execute builder")
	}

	if res.TimedOut || res.OOMKilled || res.ExitCode != 0 {
		return &runFailedError{
			ErrorLogs:  compileLog(res),
			StatusCode: res.ExitCode,
			TimedOut:   res.TimedOut,
		}
	}
	return nil
}

func compileLog(res *dto.RunResult) string {
	log := append(append([]byte{}, res.Stderr...), res.Stdout...)
	if len(log) > maxCompileLog {
		log = log[:maxCompileLog]
	}
	switch {
	case res.TimedOut:
		return "compilation time limit exceeded\n" + string(log)
	case res.OOMKilled:
		return "compilation memory limit exceeded\n" + string(log)
	}
	return string(log)
}

func (e *Evaluator) runTestCases(ctx context.Context, sess runner.Session, req Request) (*Result, error) {
	tc := req.Toolchain
	problem := req.Problem
	result := &Result{
		Status: models.StatusAccepted,
		Cases:  make([]models.CaseResult, 0, len(problem.TestCases)),
	}

	for i, test := range problem.TestCases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := time.Now()
		res, err := sess.Run(ctx, &dto.RunRequest{
			Args:          tc.RunCommand,
			Stdin:         test.Input,
			Limits:        problem.Limits,
			MaxOutputSize: e.MaxOutputSize,
			Env:           tc.RunEnv,
		})
		metrics.SandboxRunDuration.WithLabelValues("run").Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to run test case %d", i)
		}

		caseResult := models.CaseResult{
			Index:     i,
			Status:    classify(problem.Comparison, res, test.ExpectedOutput),
			TimeMs:    res.WallTime.Milliseconds(),
			MemoryKB:  res.PeakMemory,
			ExitCode:  res.ExitCode,
			Truncated: res.OutputTruncated,
		}
		result.Cases = append(result.Cases, caseResult)
		result.ExecutionTime = max(result.ExecutionTime, caseResult.TimeMs)
		result.MemoryUsed = max(result.MemoryUsed, caseResult.MemoryKB)

		if caseResult.Status != models.StatusAccepted {
			result.Status = caseResult.Status
			return result, nil
		}
	}

	return result, nil
}

func classify(policy models.ComparisonPolicy, res *dto.RunResult, expected []byte) models.Status {
	switch {
	case res.TimedOut:
		return models.StatusTimeLimitExceeded
	case res.OOMKilled:
		return models.StatusMemoryLimitExceeded
	case res.ExitCode != 0:
		return models.StatusRuntimeError
	case !Compare(policy, res.Stdout, expected):
		return models.StatusWrongAnswer
	}
	return models.StatusAccepted
}
