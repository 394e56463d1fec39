package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fleek-network/latency-measure/internal/measure"
)

const (
	DefaultTimes         = 10
	DefaultDelay         = 500 * time.Millisecond
	DefaultDeploymentDir = "../ts"
)

// RunConfig is the fully resolved orchestrator surface for one measurement
// run. Values come from CLI flags, an optional YAML config file, and the
// deployment artifacts, in that order of precedence.
type RunConfig struct {
	Target     measure.RequestSpec
	Comparison string
	Workers    []string

	Average bool
	Times   int
	Delay   time.Duration
	Flood   bool

	OutputDir     string
	DeploymentDir string
}

func Default() RunConfig {
	return RunConfig{
		Target:        measure.RequestSpec{Method: "GET"},
		Times:         DefaultTimes,
		Delay:         DefaultDelay,
		DeploymentDir: DefaultDeploymentDir,
	}
}

func (c *RunConfig) Validate() error {
	if c.Times <= 0 {
		return fmt.Errorf("times must be greater than 0")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	return nil
}

// DatabaseConfig holds the optional InfluxDB export settings. Export is
// enabled only when a host is configured.
type DatabaseConfig struct {
	Host   string
	Token  string
	Org    string
	Bucket string
}

func DatabaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:   os.Getenv("INFLUXDB_HOST"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    os.Getenv("INFLUXDB_ORG"),
		Bucket: os.Getenv("INFLUXDB_BUCKET"),
	}
}

func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

func (d DatabaseConfig) Validate() error {
	if d.Token == "" || d.Org == "" || d.Bucket == "" {
		return fmt.Errorf("incomplete database configuration: INFLUXDB_TOKEN, INFLUXDB_ORG and INFLUXDB_BUCKET are required when INFLUXDB_HOST is set")
	}
	return nil
}
