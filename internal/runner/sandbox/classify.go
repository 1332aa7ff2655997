package sandbox

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/criyle/go-sandbox/pkg/cgroup"
	gorunner "github.com/criyle/go-sandbox/runner"
	"github.com/pkg/errors"
)

// execOutcome is what is known about a finished program before it is mapped
// to run result flags.
type execOutcome struct {
	Status     gorunner.Status
	ExitStatus int
	// the wall clock deadline cancelled the run
	WatchdogFired bool
	PeakMemory    uint64
	MemoryLimit   uint64
	// oom_kill counter of the run's cgroup, 0 where the kernel does not report it
	OOMKills uint64
}

type classification struct {
	ExitCode        int
	TimedOut        bool
	OOMKilled       bool
	OutputTruncated bool
}

func (o execOutcome) memoryExceeded() bool {
	return o.OOMKills > 0 || (o.MemoryLimit > 0 && o.PeakMemory >= o.MemoryLimit)
}

// classify maps a finished run to result flags. go-sandbox reports both SIGKILL
// and SIGXCPU as a time limit, but SIGKILL also comes from the cgroup OOM killer,
// so a kill is a timeout only when the watchdog fired.
func classify(o execOutcome) classification {
	c := classification{ExitCode: o.ExitStatus}
	switch o.Status {
	case gorunner.StatusNormal, gorunner.StatusNonzeroExitStatus:
	case gorunner.StatusTimeLimitExceeded:
		c.ExitCode = 128 + o.ExitStatus
		if syscall.Signal(o.ExitStatus) == syscall.SIGXCPU {
			c.TimedOut = true
		}
	case gorunner.StatusMemoryLimitExceeded:
		c.OOMKilled = true
	case gorunner.StatusSignalled:
		c.ExitCode = 128 + o.ExitStatus
	case gorunner.StatusOutputLimitExceeded:
		c.OutputTruncated = true
		c.ExitCode = 128 + o.ExitStatus
	default:
		c.ExitCode = exitCodeOrFailure(o.ExitStatus)
	}

	if o.WatchdogFired {
		c.TimedOut = true
	}
	if c.TimedOut {
		c.OOMKilled = false
	} else if o.memoryExceeded() {
		c.OOMKilled = true
	}
	return c
}

func exitCodeOrFailure(code int) int {
	if code == 0 {
		return -1
	}
	return code
}

// signalTargets drops the zero entries go-sandbox leaves for blank lines of
// cgroup.procs. kill(0) would hit the judge's own process group.
func signalTargets(procs []int) []int {
	var targets []int
	for _, pid := range procs {
		if pid > 0 {
			targets = append(targets, pid)
		}
	}
	return targets
}

// killProcesses reclaims anything the program left running in its cgroup.
func killProcesses(cg cgroup.Cgroup) {
	procs, err := cg.Processes()
	if err != nil {
		return
	}
	for _, pid := range signalTargets(procs) {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}

// openCgroupDir returns the cgroup directory for clone3. Cgroup v1 has no such
// fd, there the program joins through AddProc and a nil file is returned.
func openCgroupDir(cg cgroup.Cgroup, typ cgroup.Type) (*os.File, error) {
	f, err := cg.Open()
	if err == nil {
		return f, nil
	}
	if typ == cgroup.TypeV2 {
		return nil, err
	}
	return nil, nil
}

// oomKills reads the oom_kill counter of a v2 cgroup.
func oomKills(cg cgroup.Cgroup) uint64 {
	v2, ok := cg.(*cgroup.V2)
	if !ok {
		return 0
	}
	data, err := v2.ReadFile("memory.events")
	if err != nil {
		return 0
	}
	n, err := parseOOMKills(data)
	if err != nil {
		return 0
	}
	return n
}

func parseOOMKills(events []byte) (uint64, error) {
	sc := bufio.NewScanner(bytes.NewReader(events))
	for sc.Scan() {
		name, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		if !ok || name != "oom_kill" {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "malformed oom_kill counter")
		}
		return n, nil
	}
	return 0, sc.Err()
}
