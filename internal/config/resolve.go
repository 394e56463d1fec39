package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fleek-network/latency-measure/internal/logging"
)

var (
	// ErrNoWorkers means no worker addresses were given and none could be
	// discovered from the deployment artifacts.
	ErrNoWorkers = errors.New("no worker addresses resolved")
	// ErrNoTarget means no target URL was given and none could be derived
	// from the deployment artifacts.
	ErrNoTarget = errors.New("no target url resolved")
)

// ArtifactSource supplies worker addresses and a default target URL when
// they are not configured explicitly. Implementations own their artifact
// formats; the collector core never touches the filesystem.
type ArtifactSource interface {
	WorkerAddresses() ([]string, error)
	TargetURL() (string, error)
}

// Resolve fills the worker list and target URL of cfg. Explicitly configured
// values always win; the artifact source is consulted only for what is
// missing, and a miss there is a resolution error.
func Resolve(cfg *RunConfig, source ArtifactSource) error {
	logger := logging.GetLogger()

	if len(cfg.Workers) == 0 {
		workers, err := source.WorkerAddresses()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoWorkers, err)
		}
		if len(workers) == 0 {
			return ErrNoWorkers
		}
		logger.WithField("workers", workers).Debug("Resolved worker addresses from deployment artifacts")
		cfg.Workers = workers
	}

	if cfg.Target.URL == "" {
		url, err := source.TargetURL()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoTarget, err)
		}
		logger.WithField("url", url).Debug("Resolved target url from deployment artifacts")
		cfg.Target.URL = url
	}

	return nil
}

const (
	outputsFile = "outputs.json"
	cidFile     = "CID.txt"

	workerPort       = 3000
	gatewayURLFormat = "https://fleek-test.network/services/1/ipfs/%s"
)

// DeploymentArtifacts reads the files the deployment pipeline leaves behind:
// outputs.json, mapping deployment names to worker hosts, and CID.txt,
// holding the content address the default target URL is built from.
type DeploymentArtifacts struct {
	Dir string
}

type deploymentOutput struct {
	InstanceLatencyService string `json:"instanceLatencyService"`
}

func (d DeploymentArtifacts) WorkerAddresses() ([]string, error) {
	path := filepath.Join(d.Dir, outputsFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment outputs: %w", err)
	}

	var outputs map[string]deploymentOutput
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	addresses := make([]string, 0, len(outputs))
	for _, output := range outputs {
		if output.InstanceLatencyService == "" {
			continue
		}
		addresses = append(addresses, fmt.Sprintf("http://%s:%d", output.InstanceLatencyService, workerPort))
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("%s lists no latency services", path)
	}

	// The worker set must be fixed and ordered for a run; JSON object
	// iteration is not.
	sort.Strings(addresses)

	return addresses, nil
}

func (d DeploymentArtifacts) TargetURL() (string, error) {
	path := filepath.Join(d.Dir, cidFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading deployment CID: %w", err)
	}

	cid := strings.TrimSpace(string(data))
	if cid == "" {
		return "", fmt.Errorf("%s is empty", path)
	}

	return fmt.Sprintf(gatewayURLFormat, cid), nil
}
