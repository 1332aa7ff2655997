package benchmarks

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner/sandbox"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
)

var (
	registry  *toolchain.Registry
	evaluator *judge.Evaluator
)

func initSandbox() (func(), error) {
	var err error
	registry, err = toolchain.LoadRegistry("../languages")
	if err != nil {
		return nil, err
	}
	runner, err := sandbox.NewSandboxRunner(sandbox.SandboxRunnerConfig{
		ContainersPoolSize: 1,
		CgroupPrefix:       "rankode-bench",
	})
	if err != nil {
		return nil, err
	}
	if err := runner.Init(registry.Images()); err != nil {
		runner.Close()
		return nil, err
	}
	evaluator = judge.NewEvaluator(runner, 1024*1024)
	return runner.Close, nil
}

func TestMain(m *testing.M) {
	if os.Geteuid() != 0 {
		fmt.Println("skipping sandbox benchmarks: root is required")
		os.Exit(0)
	}
	cleanup, err := initSandbox()
	if err != nil {
		fmt.Printf("skipping sandbox benchmarks: %v\n", err)
		os.Exit(0)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func problem(cases int, input, output string) *models.Problem {
	p := &models.Problem{
		Id:         "bench",
		Comparison: models.CompareWhitespace,
		Limits:     models.Limits{WallTime: 5 * time.Second, MemoryKB: 256 * 1024},
	}
	for range cases {
		p.TestCases = append(p.TestCases, models.TestCase{Input: []byte(input), ExpectedOutput: []byte(output)})
	}
	return p
}

func benchEvaluate(b *testing.B, language, code string, p *models.Problem) {
	tc, err := registry.Resolve(language)
	if err != nil {
		b.Skipf("language %s is not configured: %v", language, err)
	}
	req := judge.Request{
		Submission: &models.Submission{Id: "bench", Language: language, Code: code},
		Toolchain:  tc,
		Problem:    p,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := evaluator.Evaluate(context.Background(), req, nil)
		if err != nil {
			b.Fatalf("Evaluate failed: %v", err)
		}
		if res.Status != models.StatusAccepted {
			b.Fatalf("Unexpected status: %s %s", res.Status, res.Message)
		}
	}
}

func BenchmarkGoHelloWorld(b *testing.B) {
	code := `package main

import "fmt"

func main() {
    fmt.Println("Hello, World!")
}`
	benchEvaluate(b, "go", code, problem(1, "", "Hello, World!"))
}

func BenchmarkGoFibonacci(b *testing.B) {
	code := `package main

import "fmt"

func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

func main() {
	var n int
	fmt.Scan(&n)
	fmt.Println(fib(n))
}`
	benchEvaluate(b, "go", code, problem(3, "30", "832040"))
}

func BenchmarkPythonSum(b *testing.B) {
	benchEvaluate(b, "python", "print(sum(map(int, input().split())))", problem(10, "3 4", "7"))
}

func BenchmarkCppSum(b *testing.B) {
	code := `#include <iostream>
int main() { long long a, b; std::cin >> a >> b; std::cout << a + b << std::endl; }`
	benchEvaluate(b, "cpp", code, problem(10, "3 4", "7"))
}
