// Package toolchain maps language identifiers to the commands that build and
// run a submission. Only languages present in the registry are accepted.
package toolchain

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

const (
	defaultBuildTimeout  = 10 * time.Second
	defaultBuildMemoryKB = 512 * 1024
)

var (
	ErrUnknownLanguage = errors.New("unknown language")

	languageIdPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+#._-]*$`)
)

type ToolchainSpec struct {
	Id         string
	Name       string
	Image      string
	SourceFile string
	// Empty for interpreted languages
	CompileCommand     []string
	RunCommand         []string
	CompileEnv         []string
	RunEnv             []string
	CompileLimits      models.Limits
	CompileMaxFileSize int64
}

func (s *ToolchainSpec) Compiled() bool {
	return len(s.CompileCommand) > 0
}

func (s *ToolchainSpec) validate() error {
	if !languageIdPattern.MatchString(s.Id) {
		return errors.Errorf("invalid language id %q", s.Id)
	}
	if len(s.RunCommand) == 0 || s.RunCommand[0] == "" {
		return errors.Errorf("language %s: empty run command", s.Id)
	}
	if s.SourceFile == "" || filepath.Base(s.SourceFile) != s.SourceFile || s.SourceFile == "." || s.SourceFile == ".." {
		return errors.Errorf("language %s: source file must be a plain file name", s.Id)
	}
	if s.Compiled() && s.CompileCommand[0] == "" {
		return errors.Errorf("language %s: empty compile command", s.Id)
	}
	if s.Compiled() {
		if s.CompileLimits.WallTime <= 0 {
			s.CompileLimits.WallTime = defaultBuildTimeout
		}
		if s.CompileLimits.MemoryKB <= 0 {
			s.CompileLimits.MemoryKB = defaultBuildMemoryKB
		}
	}
	if s.Image == "" {
		s.Image = "/"
	}
	return nil
}

type Registry struct {
	specs map[string]*ToolchainSpec
}

func NewRegistry(specs ...ToolchainSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*ToolchainSpec, len(specs))}
	for i := range specs {
		spec := specs[i]
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, ok := r.specs[spec.Id]; ok {
			return nil, errors.Errorf("duplicate language %q", spec.Id)
		}
		r.specs[spec.Id] = &spec
	}
	return r, nil
}

// LoadRegistry reads <path>/<language>/config.json for every subdirectory.
func LoadRegistry(path string) (*Registry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read languages directory")
	}
	specs := make([]ToolchainSpec, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cfg, err := newLangConfigFromFile(filepath.Join(path, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to load language %s", entry.Name())
		}
		specs = append(specs, ToolchainSpec{
			Id:             entry.Name(),
			Name:           cfg.Name,
			Image:          cfg.Image,
			SourceFile:     cfg.CodeFile,
			CompileCommand: cfg.BuildCmd,
			RunCommand:     cfg.RunCmd,
			CompileEnv:     cfg.BuildEnv,
			RunEnv:         cfg.RunEnv,
			CompileLimits: models.Limits{
				WallTime: cfg.BuildTimeout,
				MemoryKB: cfg.BuildMemoryLimit / 1024,
			},
			CompileMaxFileSize: cfg.BuildMaxFileSize,
		})
	}
	if len(specs) == 0 {
		return nil, errors.Errorf("no languages found in %s", path)
	}
	return NewRegistry(specs...)
}

// Resolve never falls back to another toolchain.
func (r *Registry) Resolve(language string) (*ToolchainSpec, error) {
	spec, ok := r.specs[language]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLanguage, "%q", language)
	}
	cp := *spec
	return &cp, nil
}

func (r *Registry) Languages() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Images lists every distinct image used by a registered toolchain.
func (r *Registry) Images() []string {
	seen := make(map[string]struct{})
	images := make([]string, 0)
	for _, spec := range r.specs {
		if _, ok := seen[spec.Image]; ok {
			continue
		}
		seen[spec.Image] = struct{}{}
		images = append(images, spec.Image)
	}
	sort.Strings(images)
	return images
}
