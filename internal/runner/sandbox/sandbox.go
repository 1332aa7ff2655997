package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/criyle/go-sandbox/container"
	"github.com/criyle/go-sandbox/pkg/cgroup"
	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/criyle/go-sandbox/pkg/rlimit"
	gorunner "github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	workDir           = "/w"
	defaultMaxFile    = 64 << 20
	defaultProcLimit  = 64
	cpuPeriod         = 100000
	fullCPUShares     = 1024
	stackLimit        = 256 << 20
	openFileLimit     = 256
	readerGracePeriod = time.Second
)

func init() {
	// re-executed container init process never returns from here
	container.Init()
}

type SandboxRunnerConfig struct {
	// Environments kept per image. The scheduler never holds more than its
	// worker count at once, so this should match WORKERS_COUNT.
	ContainersPoolSize int
	// Upper bound of processes inside one run
	ProcLimit uint64
	// Cgroup name under the judge's root cgroup
	CgroupPrefix string
}

type sandboxContainerEnv struct {
	container.Environment
	WorkDir string
	Image   string
	broken  bool
}

type SandboxRunner struct {
	Config SandboxRunnerConfig

	rootCG     cgroup.Cgroup
	cgroupType cgroup.Type
	credGen    *credGen

	mu    sync.RWMutex
	pools map[string]chan *sandboxContainerEnv
}

var _ runner.Runner = (*SandboxRunner)(nil)

type containerRunner struct {
	container.Environment
	container.ExecveParam
}

func (r *containerRunner) Run(c context.Context) gorunner.Result {
	return r.Execve(c, r.ExecveParam)
}

// NewSandboxRunner sets up the root cgroup. Call Init to build environments.
func NewSandboxRunner(cfg SandboxRunnerConfig) (*SandboxRunner, error) {
	if cfg.ContainersPoolSize <= 0 {
		cfg.ContainersPoolSize = 1
	}
	if cfg.ProcLimit == 0 {
		cfg.ProcLimit = defaultProcLimit
	}
	if cfg.CgroupPrefix == "" {
		cfg.CgroupPrefix = "rankode"
	}

	cgType := cgroup.DetectType()
	if cgType == cgroup.TypeV2 {
		cgroup.EnableV2Nesting()
	}
	ct, err := cgroup.GetAvailableController()
	if err != nil {
		return nil, runner.Unavailable(err, "cgroup.GetAvailableController")
	}
	rootCG, err := cgroup.New(cfg.CgroupPrefix, ct)
	if err != nil {
		return nil, runner.Unavailable(err, "cgroup.New")
	}

	return &SandboxRunner{
		Config:     cfg,
		rootCG:     rootCG,
		cgroupType: cgType,
		credGen:    newCredGen(),
		pools:      make(map[string]chan *sandboxContainerEnv),
	}, nil
}

// Init builds the environment pool for every image.
func (r *SandboxRunner) Init(images []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, image := range images {
		if _, ok := r.pools[image]; ok {
			continue
		}
		pool := make(chan *sandboxContainerEnv, r.Config.ContainersPoolSize)
		for i := 0; i < r.Config.ContainersPoolSize; i++ {
			env, err := r.newContainer(image)
			if err != nil {
				return errors.Wrapf(err, "failed to prepare container for image %q", image)
			}
			pool <- env
		}
		r.pools[image] = pool
		slog.Info("sandbox pool ready", "image", image, "size", r.Config.ContainersPoolSize)
	}
	return nil
}

func (r *SandboxRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for image, pool := range r.pools {
		for closed := 0; closed < r.Config.ContainersPoolSize; closed++ {
			c := <-pool
			r.destroyContainer(c)
		}
		delete(r.pools, image)
	}
	if err := r.rootCG.Destroy(); err != nil {
		slog.Warn("failed to destroy root cgroup", "error", err)
	}
}

func (r *SandboxRunner) Acquire(ctx context.Context, image string) (runner.Session, error) {
	r.mu.RLock()
	pool, ok := r.pools[image]
	r.mu.RUnlock()
	if !ok {
		return nil, runner.Unavailable(errors.Errorf("image %q is not provisioned", image), "acquire sandbox")
	}

	var c *sandboxContainerEnv
	select {
	case c = <-pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if c.broken || c.Ping() != nil {
		fresh, err := r.rebuild(c)
		if err != nil {
			c.broken = true
			pool <- c
			return nil, runner.Unavailable(err, "failed to rebuild container")
		}
		c = fresh
	}

	return &session{runner: r, env: c, pool: pool}, nil
}

func (r *SandboxRunner) rebuild(c *sandboxContainerEnv) (*sandboxContainerEnv, error) {
	r.destroyContainer(c)
	return r.newContainer(c.Image)
}

func (r *SandboxRunner) destroyContainer(c *sandboxContainerEnv) {
	if c.Environment != nil {
		if err := c.Destroy(); err != nil {
			slog.Debug("failed to destroy container", "error", err)
		}
	}
	os.RemoveAll(c.WorkDir)
}

func (r *SandboxRunner) newContainer(image string) (*sandboxContainerEnv, error) {
	dir, err := os.MkdirTemp("", "rankode-container-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp dir")
	}
	env, err := r.PrepareContainer(dir, image)
	if err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrap(err, "failed to create container")
	}
	return &sandboxContainerEnv{Environment: env, WorkDir: dir, Image: image}, nil
}

// PrepareContainer builds an environment whose read only system directories
// come from image, a host directory holding a root filesystem.
func (r *SandboxRunner) PrepareContainer(root, image string) (container.Environment, error) {
	if image == "" {
		image = "/"
	}
	mb := mount.NewBuilder().
		WithBind(filepath.Join(image, "bin"), "bin", true).
		WithBind(filepath.Join(image, "lib"), "lib", true).
		WithBind(filepath.Join(image, "lib64"), "lib64", true).
		WithBind(filepath.Join(image, "usr"), "usr", true).
		WithBind(filepath.Join(image, "etc/ld.so.cache"), "etc/ld.so.cache", true).
		WithBind(filepath.Join(image, "etc/alternatives"), "etc/alternatives", true).
		WithProc().
		WithBind("/dev/null", "dev/null", false).
		WithTmpfs("tmp", "size=128m,nr_inodes=4k").
		WithTmpfs("w", "size=64m,nr_inodes=4k").
		FilterNotExist()

	cloneFlag := unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS

	b := container.Builder{
		Root:          root,
		WorkDir:       workDir,
		Mounts:        mb.Mounts,
		Stderr:        os.Stderr,
		CredGenerator: r.credGen,
		CloneFlags:    uintptr(cloneFlag),
	}
	return b.Build()
}

type session struct {
	runner *SandboxRunner
	env    *sandboxContainerEnv
	pool   chan *sandboxContainerEnv
	once   sync.Once
}

func (s *session) WriteFile(name string, data []byte) error {
	files, err := s.env.Open([]container.OpenCmd{
		{Path: filepath.Join(workDir, filepath.Base(name)), Flag: os.O_WRONLY | os.O_CREATE | os.O_TRUNC, Perm: 0o755},
	})
	if err != nil {
		return runner.Unavailable(err, "failed to open file in container")
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	if _, err := files[0].Write(data); err != nil {
		return runner.Unavailable(err, "failed to write file in container")
	}
	return nil
}

func (s *session) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResult, error) {
	return s.runner.execute(ctx, s.env, req)
}

func (s *session) Release() {
	s.once.Do(func() {
		if err := s.env.Reset(); err != nil {
			slog.Warn("failed to reset container, it will be rebuilt", "error", err)
			s.env.broken = true
		}
		s.pool <- s.env
	})
}

func (r *SandboxRunner) execute(ctx context.Context, env container.Environment, req *dto.RunRequest) (*dto.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Args) == 0 {
		return nil, errors.New("empty command")
	}

	cg, err := r.rootCG.Random("sandbox")
	if err != nil {
		return nil, runner.Unavailable(err, "cgroup.Random")
	}
	defer func() {
		killProcesses(cg)
		if err := cg.Destroy(); err != nil {
			slog.Debug("failed to destroy cgroup", "error", err)
		}
	}()

	memoryLimit := uint64(req.Limits.MemoryKB) * 1024
	if memoryLimit > 0 {
		if err := cg.SetMemoryLimit(memoryLimit); err != nil {
			return nil, runner.Unavailable(err, "failed to set memory limit")
		}
	}
	if err := cg.SetProcLimit(r.Config.ProcLimit); err != nil {
		slog.Debug("pids controller unavailable", "error", err)
	}
	if req.Limits.CPUShares > 0 {
		quota := uint64(cpuPeriod) * uint64(req.Limits.CPUShares) / fullCPUShares
		if err := cg.SetCPUBandwidth(quota, cpuPeriod); err != nil {
			slog.Debug("cpu controller unavailable", "error", err)
		}
	}

	var cgFd uintptr
	cgDir, err := openCgroupDir(cg, r.cgroupType)
	if err != nil {
		return nil, runner.Unavailable(err, "failed to open cg fd")
	}
	if cgDir != nil {
		defer cgDir.Close()
		cgFd = cgDir.Fd()
	}

	p, err := newPipes(req.MaxOutputSize)
	if err != nil {
		return nil, runner.Unavailable(err, "failed to create pipes")
	}
	defer p.closeAll()

	runCtx, cancel := context.WithTimeout(ctx, req.Limits.WallTime)
	defer cancel()

	maxFile := req.MaxFileSize
	if maxFile <= 0 {
		maxFile = defaultMaxFile
	}
	cpuSeconds := uint64(req.Limits.WallTime.Seconds()) + 1
	rlims := rlimit.RLimits{
		CPU:      cpuSeconds,
		CPUHard:  cpuSeconds + 1,
		FileSize: uint64(maxFile),
		Stack:    stackLimit,
		OpenFile: openFileLimit,
	}

	rs := containerRunner{
		Environment: env,
		ExecveParam: container.ExecveParam{
			Args:  req.Args,
			Env:   append([]string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + workDir, "GOCACHE=/tmp/gocache"}, req.Env...),
			Files: p.childFds(),
			SyncFunc: func(pid int) error {
				if err := cg.AddProc(pid); err != nil {
					return err
				}
				p.start(req.Stdin)
				return nil
			},
			RLimits:  rlims.PrepareRLimit(),
			CgroupFD: cgFd,
		},
	}

	started := time.Now()
	res := rs.Run(runCtx)
	wall := time.Since(started)
	watchdogFired := runCtx.Err() == context.DeadlineExceeded

	killProcesses(cg)
	p.closeChild()
	p.wait(readerGracePeriod)

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "sandbox run cancelled")
	}
	if res.Status == gorunner.StatusRunnerError {
		return nil, runner.Unavailable(errors.New(res.Error), "sandbox runner error")
	}

	peak := uint64(res.Memory)
	if mem, err := cg.MemoryMaxUsage(); err == nil {
		peak = mem
	}
	result := &dto.RunResult{
		Stdout:     p.stdout.Bytes(),
		Stderr:     p.stderr.Bytes(),
		WallTime:   wall,
		CPUTime:    res.Time,
		PeakMemory: int64(peak / 1024),
	}
	if cpu, err := cg.CPUUsage(); err == nil {
		result.CPUTime = time.Duration(cpu)
	}

	c := classify(execOutcome{
		Status:        res.Status,
		ExitStatus:    res.ExitStatus,
		WatchdogFired: watchdogFired,
		PeakMemory:    peak,
		MemoryLimit:   memoryLimit,
		OOMKills:      oomKills(cg),
	})
	result.ExitCode = c.ExitCode
	result.TimedOut = c.TimedOut
	result.OOMKilled = c.OOMKilled
	result.OutputTruncated = c.OutputTruncated || p.stdout.truncated || p.stderr.truncated

	slog.Debug("execution result", "status", res.Status, "exitStatus", res.ExitStatus, "memory", result.PeakMemory,
		"error", res.Error, "stdout", len(result.Stdout), "stderr", len(result.Stderr), "wall", wall, "cpu", result.CPUTime,
		"timedOut", result.TimedOut, "oom", result.OOMKilled)

	return result, nil
}

type credGen struct {
	cur uint32
}

func newCredGen() *credGen {
	return &credGen{cur: 10000}
}

func (c *credGen) Get() syscall.Credential {
	n := atomic.AddUint32(&c.cur, 1)
	return syscall.Credential{
		Uid: n,
		Gid: n,
	}
}
