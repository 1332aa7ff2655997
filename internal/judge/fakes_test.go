package judge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/runner"
)

type runFunc func(call int, req *dto.RunRequest) (*dto.RunResult, error)

type fakeRunner struct {
	mu         sync.Mutex
	acquireErr error
	run        runFunc
	acquired   int
	released   int
	runs       []*dto.RunRequest
	files      map[string][]byte
	images     []string
}

func (f *fakeRunner) Acquire(ctx context.Context, image string) (runner.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	f.images = append(f.images, image)
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	return &fakeSession{r: f}, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type fakeSession struct {
	r *fakeRunner
}

func (s *fakeSession) WriteFile(name string, data []byte) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.files[name] = data
	return nil
}

func (s *fakeSession) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResult, error) {
	s.r.mu.Lock()
	s.r.runs = append(s.r.runs, req)
	call := len(s.r.runs) - 1
	run := s.r.run
	s.r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if run == nil {
		return &dto.RunResult{}, nil
	}
	return run(call, req)
}

func (s *fakeSession) Release() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.released++
}

// echoSum mimics print(sum(map(int, input().split()))).
func echoSum(call int, req *dto.RunRequest) (*dto.RunResult, error) {
	var a, b int
	sum := 0
	if n, _ := fmt.Sscan(string(req.Stdin), &a, &b); n == 2 {
		sum = a + b
	}
	return &dto.RunResult{Stdout: []byte(strconv.Itoa(sum) + "\n"), WallTime: 12 * time.Millisecond, PeakMemory: 4096}, nil
}
