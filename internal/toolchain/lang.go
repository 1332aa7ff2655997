package toolchain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const configFileName = "config.json"

type languageConfig struct {
	Name             string        `json:"name"`
	Image            string        `json:"image"`
	CodeFile         string        `json:"source_file"`
	BuildCmd         []string      `json:"build"`
	RunCmd           []string      `json:"run"`
	BuildEnv         []string      `json:"build_env"`
	RunEnv           []string      `json:"run_env"`
	BuildMemoryLimit int64         `json:"build_memory_limit"`
	BuildTimeout     time.Duration `json:"build_timeout"`
	BuildMaxFileSize int64         `json:"build_max_file_size"`
}

func newLangConfigFromFile(path string) (*languageConfig, error) {
	file, err := os.Open(filepath.Join(path, configFileName))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := new(languageConfig)
	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	// milliseconds in the file
	cfg.BuildTimeout *= time.Millisecond
	return cfg, nil
}
