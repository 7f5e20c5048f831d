// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads snapperctl's YAML configuration, falling back to an
// embedded default when the user supplies no file.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultConfigYAML []byte

// Config is the top-level configuration document.
type Config struct {
	Database   Database   `yaml:"database"`
	Clustering Clustering `yaml:"clustering"`
	Logging    Logging    `yaml:"logging"`
}

// Database holds the backing transactional store's connection parameters
// (spec.md §5/§6).
type Database struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// Clustering holds the fixed thresholds and z-score admissibility cutoffs
// (spec.md §4.5, §6). Thresholds defaults to T = (0,5,10,25,50,100,250);
// it is overridable only so tests can exercise smaller threshold sets.
type Clustering struct {
	Thresholds          []int   `yaml:"thresholds"`
	ZScoreClusterReject float64 `yaml:"z_score_cluster_reject"`
	ZScoreMemberReject  float64 `yaml:"z_score_member_reject"`
}

// Logging is the config file's logging section. Level is parsed but is not
// applied to github.com/grailbio/base/log by anything in this module.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration embedded at build time.
func Default() (*Config, error) {
	return parse(defaultConfigYAML)
}

// Load reads and parses a config YAML file, falling back to Default's
// values for anything the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg, err := parseDefaults()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func parseDefaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultConfigYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded default config: %w", err)
	}
	return cfg, nil
}
