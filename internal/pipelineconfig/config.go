// Package pipelineconfig loads and validates the per-installation pipeline
// configuration (spec.md section 6): which normalization and combination
// techniques to run, and whether to populate per-sub-query scores on hits.
package pipelineconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensearch-project/neural-search-sub002/internal/combine"
	pipelineerrors "github.com/opensearch-project/neural-search-sub002/internal/errors"
	"github.com/opensearch-project/neural-search-sub002/internal/normalize"
)

// NormalizationConfig selects a C2 technique.
type NormalizationConfig struct {
	Technique string `yaml:"technique" json:"technique"`
}

// CombinationParameters configures a combination technique's optional knobs.
type CombinationParameters struct {
	Weights      []float32 `yaml:"weights,omitempty" json:"weights,omitempty"`
	RankConstant int       `yaml:"rank_constant,omitempty" json:"rank_constant,omitempty"`
}

// CombinationConfig selects a C3 technique and its parameters.
type CombinationConfig struct {
	Technique  string                 `yaml:"technique" json:"technique"`
	Parameters CombinationParameters  `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Config is the pipeline-installation configuration, ingested once per
// pipeline creation (spec.md section 6).
type Config struct {
	Normalization   NormalizationConfig `yaml:"normalization" json:"normalization"`
	Combination     CombinationConfig   `yaml:"combination" json:"combination"`
	SubQueryScores  bool                `yaml:"sub_query_scores" json:"sub_query_scores"`
	Explain         bool                `yaml:"explain" json:"explain"`
}

// DefaultConfig returns the pipeline's zero-config defaults: min-max
// normalization, arithmetic-mean combination, sub_query_scores off.
func DefaultConfig() Config {
	return Config{
		Normalization: NormalizationConfig{Technique: string(normalize.MinMax)},
		Combination:   CombinationConfig{Technique: string(combine.ArithmeticMean)},
	}
}

// LoadFile reads and validates a pipeline configuration from a YAML file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pipelineerrors.IOError(fmt.Sprintf("failed to read pipeline config %s", path), err)
	}
	return Parse(data)
}

// Parse validates and returns a pipeline configuration from raw YAML bytes.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, pipelineerrors.ConfigError("failed to parse pipeline config", err)
	}
	if err := cfg.ValidateAtConstruction(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateAtConstruction enforces the config-time validation rules from
// spec.md section 6: techniques must be in their closed sets, rank_constant
// (if set) must be >= 1, and harmonic/geometric combination rejects
// negative weights. Per-request rules (weight arity) are checked at
// execute time by BuildCombinationTechnique.
func (c Config) ValidateAtConstruction() error {
	if !contains(normalize.ValidTechniqueNames(), c.Normalization.Technique) {
		return pipelineerrors.UnknownTechnique(c.Normalization.Technique, normalize.ValidTechniqueNames())
	}
	if !contains(combine.ValidTechniqueNames(), c.Combination.Technique) {
		return pipelineerrors.UnknownTechnique(c.Combination.Technique, combine.ValidTechniqueNames())
	}
	if c.Combination.Parameters.RankConstant != 0 && c.Combination.Parameters.RankConstant < 1 {
		return pipelineerrors.ConfigError(
			fmt.Sprintf("rank_constant must be >= 1, got %d", c.Combination.Parameters.RankConstant), nil)
	}
	kind := combine.Kind(strings.ToLower(c.Combination.Technique))
	if kind == combine.GeometricMean || kind == combine.HarmonicMean {
		for _, w := range c.Combination.Parameters.Weights {
			if w < 0 {
				return pipelineerrors.ConfigError(
					fmt.Sprintf("%s does not accept negative weights", c.Combination.Technique), nil)
			}
		}
	}
	return nil
}

// BuildNormalizationTechnique resolves the configured C2 technique.
func (c Config) BuildNormalizationTechnique() (normalize.Technique, error) {
	technique, ok := normalize.New(normalize.TechniqueName(c.Normalization.Technique))
	if !ok {
		return nil, pipelineerrors.UnknownTechnique(c.Normalization.Technique, normalize.ValidTechniqueNames())
	}
	return technique, nil
}

// BuildCombinationTechnique resolves the configured C3 technique, enforcing
// the execute-time weight-arity check against numSubQueries.
func (c Config) BuildCombinationTechnique(numSubQueries int) (combine.Technique, error) {
	if len(c.Combination.Parameters.Weights) > 0 && len(c.Combination.Parameters.Weights) != numSubQueries {
		return nil, pipelineerrors.WeightArityMismatch(numSubQueries, len(c.Combination.Parameters.Weights))
	}
	technique, err := combine.New(
		combine.Kind(c.Combination.Technique),
		c.Combination.Parameters.Weights,
		c.Combination.Parameters.RankConstant,
	)
	if err != nil {
		return nil, pipelineerrors.ConfigError(err.Error(), err)
	}
	return technique, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
