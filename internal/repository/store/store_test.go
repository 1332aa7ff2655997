package store

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func newSubmission(id string) *models.Submission {
	return &models.Submission{
		Id:        id,
		UserId:    "u1",
		ProblemId: "p1",
		Language:  "python",
		Code:      "print(1)",
	}
}

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Create(ctx, newSubmission("a")); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := s.Create(ctx, newSubmission("a")); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			sub, err := s.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if sub.Status != models.StatusPending || sub.Code != "print(1)" || sub.CreatedAt.IsZero() {
				t.Fatalf("unexpected submission %+v", sub)
			}
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := s.Transition(ctx, "missing", models.StatusRunning, nil); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_Transition(t *testing.T) {
	ctx := context.Background()
	metrics := &models.Metrics{
		ExecutionTime: 15,
		MemoryUsed:    2048,
		Cases:         []models.CaseResult{{Index: 0, Status: models.StatusAccepted, TimeMs: 15, MemoryKB: 2048}},
	}
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Create(ctx, newSubmission("a")); err != nil {
				t.Fatal(err)
			}
			steps := []struct {
				status  models.Status
				applied bool
				err     error
			}{
				{status: models.StatusCompiling, applied: true},
				{status: models.StatusRunning, applied: true},
				{status: models.StatusRunning},
				{status: models.StatusCompiling, err: models.ErrInvalidTransition},
				{status: models.StatusAccepted, applied: true},
				{status: models.StatusAccepted},
				{status: models.StatusWrongAnswer, err: models.ErrTerminalOverwrite},
			}
			for _, step := range steps {
				applied, err := s.Transition(ctx, "a", step.status, metrics)
				if step.err != nil {
					if !errors.Is(err, step.err) {
						t.Fatalf("%s: expected %v, got %v", step.status, step.err, err)
					}
					continue
				}
				if err != nil {
					t.Fatalf("%s: %v", step.status, err)
				}
				if applied != step.applied {
					t.Fatalf("%s: expected applied=%v", step.status, step.applied)
				}
			}

			sub, err := s.Get(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if sub.Status != models.StatusAccepted || sub.ExecutionTime != 15 || sub.MemoryUsed != 2048 || len(sub.Cases) != 1 {
				t.Fatalf("unexpected submission %+v", sub)
			}
		})
	}
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Create(ctx, newSubmission("a")); err != nil {
				t.Fatal(err)
			}
			if reset, err := s.Reset(ctx, "a"); err != nil || reset {
				t.Fatalf("pending reset: reset=%v err=%v", reset, err)
			}

			if _, err := s.Transition(ctx, "a", models.StatusRunning, nil); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Reset(ctx, "a"); !errors.Is(err, models.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition while running, got %v", err)
			}

			m := &models.Metrics{ExecutionTime: 10, Message: "boom"}
			if _, err := s.Transition(ctx, "a", models.StatusRuntimeError, m); err != nil {
				t.Fatal(err)
			}
			if reset, err := s.Reset(ctx, "a"); err != nil || !reset {
				t.Fatalf("final reset: reset=%v err=%v", reset, err)
			}
			sub, _ := s.Get(ctx, "a")
			if sub.Status != models.StatusPending || sub.ExecutionTime != 0 || sub.Message != "" {
				t.Fatalf("reset left results behind: %+v", sub)
			}

			// a different verdict is allowed after the reset
			if applied, err := s.Transition(ctx, "a", models.StatusAccepted, nil); err != nil || !applied {
				t.Fatalf("applied=%v err=%v", applied, err)
			}
		})
	}
}

func TestStore_ConcurrentReports(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Create(ctx, newSubmission("a")); err != nil {
				t.Fatal(err)
			}
			verdicts := []models.Status{
				models.StatusAccepted, models.StatusWrongAnswer, models.StatusRuntimeError,
				models.StatusAccepted, models.StatusWrongAnswer, models.StatusRuntimeError,
			}
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied []models.Status
			)
			for _, v := range verdicts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.Transition(ctx, "a", v, nil)
					if err != nil && !errors.Is(err, models.ErrTerminalOverwrite) {
						t.Errorf("unexpected error: %v", err)
					}
					if ok {
						mu.Lock()
						applied = append(applied, v)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if len(applied) != 1 {
				t.Fatalf("expected exactly one applied verdict, got %v", applied)
			}
			sub, _ := s.Get(ctx, "a")
			if sub.Status != applied[0] {
				t.Fatalf("stored %s, applied %s", sub.Status, applied[0])
			}
		})
	}
}
