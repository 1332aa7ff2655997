package models

import (
	"time"

	"github.com/pkg/errors"
)

type ComparisonPolicy string

const (
	// Byte for byte.
	CompareExact ComparisonPolicy = "exact"
	// Trailing spaces on each line and trailing blank lines are ignored.
	CompareLines ComparisonPolicy = "lines"
	// Outputs are equal when their whitespace separated tokens are equal.
	CompareWhitespace ComparisonPolicy = "whitespace"
)

type Limits struct {
	WallTime time.Duration `json:"wall_time"`
	MemoryKB int64         `json:"memory_kb"`
	// 1024 is one full CPU, 0 means no bandwidth limit
	CPUShares int `json:"cpu_shares"`
}

type TestCase struct {
	Input          []byte
	ExpectedOutput []byte
}

type Problem struct {
	Id         string
	Title      string
	Comparison ComparisonPolicy
	Limits     Limits
	TestCases  []TestCase
}

// Snapshot returns a deep copy that stays stable while the original is edited.
func (p *Problem) Snapshot() *Problem {
	cp := *p
	cp.TestCases = make([]TestCase, len(p.TestCases))
	for i, tc := range p.TestCases {
		cp.TestCases[i] = TestCase{
			Input:          append([]byte(nil), tc.Input...),
			ExpectedOutput: append([]byte(nil), tc.ExpectedOutput...),
		}
	}
	return &cp
}

func (p *Problem) Validate() error {
	if p.Limits.WallTime <= 0 {
		return errors.Errorf("problem %s: wall time limit must be positive", p.Id)
	}
	if p.Limits.MemoryKB <= 0 {
		return errors.Errorf("problem %s: memory limit must be positive", p.Id)
	}
	switch p.Comparison {
	case CompareExact, CompareLines, CompareWhitespace:
	default:
		return errors.Errorf("problem %s: unknown comparison policy %q", p.Id, p.Comparison)
	}
	if len(p.TestCases) == 0 {
		return errors.Errorf("problem %s: no test cases", p.Id)
	}
	return nil
}
