package judge

import (
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
)

// Budget is the longest a whole job may occupy a worker: the compile limit,
// every case limit with a fixed launch overhead, and a final margin.
func Budget(problem *models.Problem, tc *toolchain.ToolchainSpec, caseOverhead, margin time.Duration) time.Duration {
	total := margin
	if tc.Compiled() {
		total += tc.CompileLimits.WallTime + caseOverhead
	}
	perCase := problem.Limits.WallTime + caseOverhead
	total += time.Duration(len(problem.TestCases)) * perCase
	return total
}
