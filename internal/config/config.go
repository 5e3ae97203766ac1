// Package config loads the solver and service settings from a JSON file.
//
// Every field is optional. A missing field keeps the default of the package
// that consumes it, so an empty file is a valid configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ayusman/handlift/internal/assembly"
	"github.com/ayusman/handlift/internal/cone"
	"github.com/ayusman/handlift/internal/triangle"
)

// DefaultConfigPath is where the command looks when no -config flag is given.
const DefaultConfigPath = "config/handlift.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config holds the tunable settings.
type Config struct {
	// Triangle root-finder.
	TriangleMaxErr        *float64 `json:"triangle_max_err,omitempty"`
	TriangleMaxRestart    *int     `json:"triangle_max_restart,omitempty"`
	TriangleMaxIterations *int     `json:"triangle_max_iterations,omitempty"`
	TriangleMaxTrials     *int     `json:"triangle_max_trials,omitempty"`
	TriangleRetryRestarts *int     `json:"triangle_retry_restarts,omitempty"`
	TriangleSeparationTol *float64 `json:"triangle_separation_tol,omitempty"`
	TriangleBudget        *string  `json:"triangle_budget,omitempty"` // duration string like "2s"

	// Cone solver.
	ConeMaxIterations   *int     `json:"cone_max_iterations,omitempty"`
	ConeFuncEvaluations *int     `json:"cone_func_evaluations,omitempty"`
	ConeSimplexSize     *float64 `json:"cone_simplex_size,omitempty"`
	ConeTolerance       *float64 `json:"cone_tolerance,omitempty"`
	ConeStallIterations *int     `json:"cone_stall_iterations,omitempty"`
	ConeBudget          *string  `json:"cone_budget,omitempty"` // duration string like "500ms"

	// Anatomical limits, in radians.
	PalmSlack          *float64 `json:"palm_slack,omitempty"`
	FingerMaxFlex      *float64 `json:"finger_max_flex,omitempty"`
	FingerMaxAbduction *float64 `json:"finger_max_abduction,omitempty"`
	ThumbMaxFlex       *float64 `json:"thumb_max_flex,omitempty"`
	ThumbMaxAbduction  *float64 `json:"thumb_max_abduction,omitempty"`
	CandidateScoreTol  *float64 `json:"candidate_score_tol,omitempty"`

	// Service.
	Workers *int    `json:"workers,omitempty"`
	Seed    *uint64 `json:"seed,omitempty"`
	DBPath  *string `json:"db_path,omitempty"`
	Addr    *string `json:"addr,omitempty"`
}

// Empty returns a configuration with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	positiveFloats := []struct {
		name string
		v    *float64
	}{
		{"triangle_max_err", c.TriangleMaxErr},
		{"triangle_separation_tol", c.TriangleSeparationTol},
		{"cone_simplex_size", c.ConeSimplexSize},
		{"cone_tolerance", c.ConeTolerance},
		{"palm_slack", c.PalmSlack},
		{"finger_max_flex", c.FingerMaxFlex},
		{"finger_max_abduction", c.FingerMaxAbduction},
		{"thumb_max_flex", c.ThumbMaxFlex},
		{"thumb_max_abduction", c.ThumbMaxAbduction},
		{"candidate_score_tol", c.CandidateScoreTol},
	}
	for _, f := range positiveFloats {
		if f.v != nil && !(*f.v > 0) {
			return fmt.Errorf("%s must be positive, got %g", f.name, *f.v)
		}
	}

	positiveInts := []struct {
		name string
		v    *int
	}{
		{"triangle_max_restart", c.TriangleMaxRestart},
		{"triangle_max_iterations", c.TriangleMaxIterations},
		{"triangle_max_trials", c.TriangleMaxTrials},
		{"triangle_retry_restarts", c.TriangleRetryRestarts},
		{"cone_max_iterations", c.ConeMaxIterations},
		{"cone_func_evaluations", c.ConeFuncEvaluations},
		{"cone_stall_iterations", c.ConeStallIterations},
		{"workers", c.Workers},
	}
	for _, f := range positiveInts {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, *f.v)
		}
	}

	// Limits past a half turn would invert the cone.
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"finger_max_flex", c.FingerMaxFlex},
		{"thumb_max_flex", c.ThumbMaxFlex},
		{"palm_slack", c.PalmSlack},
	} {
		if f.v != nil && *f.v >= math.Pi {
			return fmt.Errorf("%s must be below pi, got %g", f.name, *f.v)
		}
	}

	for _, f := range []struct {
		name string
		v    *string
	}{
		{"triangle_budget", c.TriangleBudget},
		{"cone_budget", c.ConeBudget},
	} {
		if f.v == nil || *f.v == "" {
			continue
		}
		d, err := time.ParseDuration(*f.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", f.name, *f.v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", f.name, d)
		}
	}

	if c.Addr != nil && *c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	return nil
}

// TriangleConfig returns the root-finder settings.
func (c *Config) TriangleConfig() triangle.Config {
	cfg := triangle.DefaultConfig()
	setFloat(&cfg.MaxErr, c.TriangleMaxErr)
	setInt(&cfg.MaxRestart, c.TriangleMaxRestart)
	setInt(&cfg.MaxIterations, c.TriangleMaxIterations)
	setInt(&cfg.MaxTrials, c.TriangleMaxTrials)
	setInt(&cfg.RetryRestarts, c.TriangleRetryRestarts)
	setFloat(&cfg.SeparationTol, c.TriangleSeparationTol)
	cfg.Budget = duration(c.TriangleBudget, cfg.Budget)
	return cfg
}

// ConeConfig returns the cone solver settings.
func (c *Config) ConeConfig() cone.Config {
	cfg := cone.DefaultConfig()
	setInt(&cfg.MaxIterations, c.ConeMaxIterations)
	setInt(&cfg.FuncEvaluations, c.ConeFuncEvaluations)
	setFloat(&cfg.SimplexSize, c.ConeSimplexSize)
	setFloat(&cfg.Tolerance, c.ConeTolerance)
	setInt(&cfg.StallIterations, c.ConeStallIterations)
	cfg.Budget = duration(c.ConeBudget, cfg.Budget)
	return cfg
}

// AssemblyConfig returns the anatomical limits.
func (c *Config) AssemblyConfig() assembly.Config {
	cfg := assembly.DefaultConfig()
	setFloat(&cfg.PalmSlack, c.PalmSlack)
	setFloat(&cfg.Finger.MaxFlex, c.FingerMaxFlex)
	setFloat(&cfg.Finger.MaxAbduction, c.FingerMaxAbduction)
	setFloat(&cfg.Thumb.MaxFlex, c.ThumbMaxFlex)
	setFloat(&cfg.Thumb.MaxAbduction, c.ThumbMaxAbduction)
	setFloat(&cfg.ScoreTol, c.CandidateScoreTol)
	return cfg
}

// GetWorkers returns the batch parallelism, one worker per CPU by default.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetSeed returns the base seed of the per-frame generators.
func (c *Config) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "handlift.db"
	}
	return *c.DBPath
}

func (c *Config) GetAddr() string {
	if c.Addr == nil {
		return ":8080"
	}
	return *c.Addr
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// duration parses v, keeping def when v is unset or malformed.
func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
