package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
)

const hostImage = "/"

var (
	sbRunner   *SandboxRunner
	sandboxErr error
)

func initSandbox() error {
	if os.Getuid() != 0 {
		return fmt.Errorf("sandbox tests require root privileges")
	}
	var err error
	sbRunner, err = NewSandboxRunner(SandboxRunnerConfig{
		ContainersPoolSize: 2,
		CgroupPrefix:       "rankode-test",
	})
	if err != nil {
		return err
	}
	return sbRunner.Init([]string{hostImage})
}

func cleanupSandbox() {
	if sbRunner != nil {
		sbRunner.Close()
	}
}

func TestMain(m *testing.M) {
	if sandboxErr = initSandbox(); sandboxErr != nil {
		fmt.Printf("Skipping sandbox tests: %v\n", sandboxErr)
	}
	code := m.Run()
	cleanupSandbox()
	os.Exit(code)
}

func requireSandbox(t *testing.T) {
	t.Helper()
	if sandboxErr != nil {
		t.Skipf("sandbox is not available: %v", sandboxErr)
	}
}

func defaultLimits() models.Limits {
	return models.Limits{WallTime: 2 * time.Second, MemoryKB: 256 * 1024}
}

func acquire(t *testing.T) runner.Session {
	t.Helper()
	requireSandbox(t)
	s, err := sbRunner.Acquire(context.Background(), hostImage)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	t.Cleanup(s.Release)
	return s
}

func TestSandboxRunner_Stdin(t *testing.T) {
	s := acquire(t)
	res, err := s.Run(context.Background(), &dto.RunRequest{
		Args:          []string{"/bin/cat"},
		Stdin:         []byte("3 4\n"),
		Limits:        defaultLimits(),
		MaxOutputSize: 1024,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 || res.TimedOut || res.OOMKilled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Stdout) != "3 4\n" {
		t.Fatalf("Output mismatch: got %q", res.Stdout)
	}
}

func TestSandboxRunner_WrittenFileAndExitCode(t *testing.T) {
	s := acquire(t)
	if err := s.WriteFile("main.sh", []byte("echo hello\necho oops >&2\nexit 3\n")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	res, err := s.Run(context.Background(), &dto.RunRequest{
		Args:          []string{"/bin/sh", "main.sh"},
		Limits:        defaultLimits(),
		MaxOutputSize: 1024,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if string(res.Stdout) != "hello\n" || string(res.Stderr) != "oops\n" {
		t.Fatalf("unexpected output %q / %q", res.Stdout, res.Stderr)
	}
}

func TestSandboxRunner_WallTimeout(t *testing.T) {
	s := acquire(t)
	limits := models.Limits{WallTime: time.Second, MemoryKB: 64 * 1024}
	started := time.Now()
	res, err := s.Run(context.Background(), &dto.RunRequest{
		Args:   []string{"/bin/sh", "-c", "sleep 30"},
		Limits: limits,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed := time.Since(started); elapsed > limits.WallTime+2*time.Second {
		t.Fatalf("watchdog too slow: %v", elapsed)
	}
}

func TestSandboxRunner_BusyLoopTimeout(t *testing.T) {
	s := acquire(t)
	res, err := s.Run(context.Background(), &dto.RunRequest{
		Args:   []string{"/bin/sh", "-c", "while :; do :; done"},
		Limits: models.Limits{WallTime: time.Second, MemoryKB: 64 * 1024},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestSandboxRunner_MemoryLimit(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 is not installed")
	}
	s := acquire(t)
	res, err := s.Run(context.Background(), &dto.RunRequest{
		Args:   []string{"python3", "-c", "a = bytearray(512 * 1024 * 1024)"},
		Limits: models.Limits{WallTime: 5 * time.Second, MemoryKB: 64 * 1024},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.OOMKilled {
		t.Fatalf("expected oom kill, got %+v", res)
	}
}

func TestSandboxRunner_OutputTruncated(t *testing.T) {
	s := acquire(t)
	res, err := s.Run(context.Background(), &dto.RunRequest{
		Args:          []string{"/bin/sh", "-c", "i=0; while [ $i -lt 2000 ]; do echo 0123456789; i=$((i+1)); done"},
		Limits:        defaultLimits(),
		MaxOutputSize: 1000,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.OutputTruncated || len(res.Stdout) != 1000 {
		t.Fatalf("expected 1000 truncated bytes, got %d truncated=%v", len(res.Stdout), res.OutputTruncated)
	}
}

func TestSandboxRunner_Cancel(t *testing.T) {
	s := acquire(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	started := time.Now()
	_, err := s.Run(ctx, &dto.RunRequest{
		Args:   []string{"/bin/sh", "-c", "sleep 30"},
		Limits: models.Limits{WallTime: 10 * time.Second, MemoryKB: 64 * 1024},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if time.Since(started) > 3*time.Second {
		t.Fatalf("cancellation was not prompt")
	}
}

func TestSandboxRunner_RunsTwiceInOneSession(t *testing.T) {
	s := acquire(t)
	for i := 0; i < 2; i++ {
		res, err := s.Run(context.Background(), &dto.RunRequest{
			Args:          []string{"/bin/true"},
			Limits:        defaultLimits(),
			MaxOutputSize: 1024,
		})
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if res.ExitCode != 0 || res.TimedOut || res.OOMKilled {
			t.Fatalf("Run %d: unexpected result %+v", i, res)
		}
	}
}

func TestSandboxRunner_Isolation(t *testing.T) {
	first := acquire(t)
	second := acquire(t)

	if err := first.WriteFile("secret", []byte("first")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	run := func(s runner.Session, script string) string {
		t.Helper()
		res, err := s.Run(context.Background(), &dto.RunRequest{
			Args:          []string{"/bin/sh", "-c", script},
			Limits:        defaultLimits(),
			MaxOutputSize: 1024,
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return string(res.Stdout)
	}

	if out := run(first, "echo mark > /tmp/mark; cat /w/secret; echo; ls /tmp"); !strings.HasPrefix(out, "first") || !strings.Contains(out, "mark") {
		t.Fatalf("owner can not read its files: %q", out)
	}
	out := run(second, "ls /tmp; cat /w/secret 2>/dev/null; cat /tmp/mark 2>/dev/null; true")
	if strings.Contains(out, "mark") || strings.Contains(out, "first") {
		t.Fatalf("sibling sandbox sees foreign files: %q", out)
	}
}

func TestSandboxRunner_ReleaseResets(t *testing.T) {
	requireSandbox(t)
	s, err := sbRunner.Acquire(context.Background(), hostImage)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := s.WriteFile("left", []byte("over")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	s.Release()

	// the whole pool is walked so the reused environment is covered
	for i := 0; i < sbRunner.Config.ContainersPoolSize; i++ {
		next := acquire(t)
		res, err := next.Run(context.Background(), &dto.RunRequest{
			Args:          []string{"/bin/sh", "-c", "cat /w/left"},
			Limits:        defaultLimits(),
			MaxOutputSize: 1024,
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if strings.Contains(string(res.Stdout), "over") {
			t.Fatalf("file survived release")
		}
	}
}

func TestSandboxRunner_UnknownImage(t *testing.T) {
	requireSandbox(t)
	_, err := sbRunner.Acquire(context.Background(), "/nonexistent-image")
	if !errors.Is(err, runner.ErrSandboxUnavailable) {
		t.Fatalf("expected ErrSandboxUnavailable, got %v", err)
	}
}
