// Package problems loads problem definitions and test data from object
// storage. A problem lives under problems/<id>/: problem.json describes its
// limits and lists its test files relative to that directory.
package problems

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/files"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("problem not found")

type manifest struct {
	Title         string                  `json:"title"`
	Comparison    models.ComparisonPolicy `json:"comparison"`
	TimeLimitMs   int64                   `json:"time_limit_ms"`
	MemoryLimitKB int64                   `json:"memory_limit_kb"`
	CPUShares     int                     `json:"cpu_shares"`
	Tests         []manifestTest          `json:"tests"`
}

type manifestTest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type Repository struct {
	storage files.Storage
}

func NewRepository(storage files.Storage) *Repository {
	return &Repository{storage: storage}
}

func manifestPath(id string) string {
	return path.Join("problems", id, "problem.json")
}

// testPath resolves a manifest entry inside the problem directory.
func testPath(id, name string) (string, error) {
	if name == "" || path.IsAbs(name) {
		return "", errors.Errorf("test file %q must be relative to the problem", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", errors.Errorf("test file %q leaves the problem directory", name)
		}
	}
	return path.Join("problems", id, name), nil
}

// GetProblem returns a freshly loaded problem. The caller owns the value, so
// later edits to the stored problem never reach a judging run.
func (r *Repository) GetProblem(ctx context.Context, id string) (*models.Problem, error) {
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return nil, errors.Wrapf(ErrNotFound, "invalid problem id %q", id)
	}
	data, err := r.storage.GetFile(ctx, manifestPath(id))
	if err != nil {
		if errors.Is(err, files.ErrNotExist) {
			return nil, errors.Wrap(ErrNotFound, id)
		}
		return nil, errors.Wrapf(err, "failed to load problem %s", id)
	}

	m := manifest{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrapf(err, "invalid manifest for problem %s", id)
	}

	if m.Comparison == "" {
		m.Comparison = models.CompareWhitespace
	}
	problem := &models.Problem{
		Id:         id,
		Title:      m.Title,
		Comparison: m.Comparison,
		Limits: models.Limits{
			WallTime:  time.Duration(m.TimeLimitMs) * time.Millisecond,
			MemoryKB:  m.MemoryLimitKB,
			CPUShares: m.CPUShares,
		},
		TestCases: make([]models.TestCase, 0, len(m.Tests)),
	}
	for i, t := range m.Tests {
		inputPath, err := testPath(id, t.Input)
		if err != nil {
			return nil, errors.Wrapf(err, "problem %s: test %d input", id, i)
		}
		outputPath, err := testPath(id, t.Output)
		if err != nil {
			return nil, errors.Wrapf(err, "problem %s: test %d output", id, i)
		}
		input, err := r.storage.GetFile(ctx, inputPath)
		if err != nil {
			return nil, errors.Wrapf(err, "problem %s: test %d input", id, i)
		}
		output, err := r.storage.GetFile(ctx, outputPath)
		if err != nil {
			return nil, errors.Wrapf(err, "problem %s: test %d output", id, i)
		}
		problem.TestCases = append(problem.TestCases, models.TestCase{Input: input, ExpectedOutput: output})
	}

	if err := problem.Validate(); err != nil {
		return nil, err
	}
	return problem, nil
}
