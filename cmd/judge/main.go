// Command judge evaluates one source file against a problem stored in a local
// directory laid out like the object storage bucket, without queue or store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutekitek/rankode-judge/internal/files"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/problems"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner/sandbox"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/spf13/pflag"
)

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	languages := pflag.String("languages", "languages", "toolchain definitions directory")
	data := pflag.String("data", ".", "directory holding problems/<id>/problem.json")
	problemId := pflag.String("problem", "", "problem id")
	language := pflag.String("language", "", "language id")
	source := pflag.String("source", "", "path to the source file")
	maxOutput := pflag.Int64("max-output", 1024*1024, "stdout and stderr cap in bytes")
	verbose := pflag.Bool("verbose", false, "log sandbox runs")
	pflag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	if *problemId == "" || *language == "" || *source == "" {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := toolchain.LoadRegistry(*languages)
	panicErr(err)
	tc, err := registry.Resolve(*language)
	panicErr(err)

	problem, err := problems.NewRepository(files.NewDirStorage(*data)).GetProblem(ctx, *problemId)
	panicErr(err)

	code, err := os.ReadFile(*source)
	panicErr(err)

	runner, err := sandbox.NewSandboxRunner(sandbox.SandboxRunnerConfig{ContainersPoolSize: 1})
	panicErr(err)
	defer runner.Close()
	panicErr(runner.Init([]string{tc.Image}))

	ctx, cancel := context.WithTimeout(ctx, judge.Budget(problem, tc, 250*time.Millisecond, 2*time.Second))
	defer cancel()

	evaluator := judge.NewEvaluator(runner, *maxOutput)
	res, err := evaluator.Evaluate(ctx, judge.Request{
		Submission: &models.Submission{Id: "local", ProblemId: *problemId, Language: *language, Code: string(code)},
		Toolchain:  tc,
		Problem:    problem,
	}, func(status models.Status) {
		fmt.Fprintln(os.Stderr, status)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "internal error:", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	panicErr(err)
	fmt.Println(string(out))
}
