package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fleek-network/latency-measure/internal/logging"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML run-config document. Scalars that have
// non-zero defaults are pointers so an absent key and an explicit zero can
// be told apart.
type fileConfig struct {
	Run struct {
		Target struct {
			URL     string            `yaml:"url"`
			Method  string            `yaml:"method"`
			Headers map[string]string `yaml:"headers"`
			Body    string            `yaml:"body"`
		} `yaml:"target"`
		Comparison    string   `yaml:"comparison"`
		Workers       []string `yaml:"workers"`
		Average       *bool    `yaml:"average"`
		Times         *int     `yaml:"times"`
		DelayMS       *int     `yaml:"delay_ms"`
		Flood         *bool    `yaml:"flood"`
		OutputDir     string   `yaml:"output_dir"`
		DeploymentDir string   `yaml:"deployment_dir"`
	} `yaml:"run"`
}

// LoadConfig reads a YAML run configuration, expands ${VAR} references from
// the environment, and overlays it on the defaults.
func LoadConfig(filepath string) (*RunConfig, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, err
	}

	expanded := expandEnvVars(string(data))

	var file fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, err
	}

	config := Default()
	overlay(&config, &file)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func overlay(config *RunConfig, file *fileConfig) {
	run := &file.Run

	if run.Target.URL != "" {
		config.Target.URL = run.Target.URL
	}
	if run.Target.Method != "" {
		config.Target.Method = run.Target.Method
	}
	if len(run.Target.Headers) > 0 {
		config.Target.Headers = run.Target.Headers
	}
	if run.Target.Body != "" {
		config.Target.Body = run.Target.Body
	}
	if run.Comparison != "" {
		config.Comparison = run.Comparison
	}
	if len(run.Workers) > 0 {
		config.Workers = run.Workers
	}
	if run.Average != nil {
		config.Average = *run.Average
	}
	if run.Times != nil {
		config.Times = *run.Times
	}
	if run.DelayMS != nil {
		config.Delay = time.Duration(*run.DelayMS) * time.Millisecond
	}
	if run.Flood != nil {
		config.Flood = *run.Flood
	}
	if run.OutputDir != "" {
		config.OutputDir = run.OutputDir
	}
	if run.DeploymentDir != "" {
		config.DeploymentDir = run.DeploymentDir
	}
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}
