package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fleek-network/latency-measure/internal/measure"
)

// Client issues measurement calls against worker instances.
type Client struct {
	http *http.Client
}

// NewClient returns the client shared by every call of a run. The
// transport is sized for flood mode, where all repetitions for all
// workers are in flight at once. There is no client timeout; a
// measurement call takes as long as the probe behind it.
func NewClient() *Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 512
	t.MaxConnsPerHost = 256
	t.MaxIdleConnsPerHost = 256
	return &Client{http: &http.Client{Transport: t}}
}

// Measure routes a request spec to the matching worker endpoint: GET
// requests go to the phase-timed probe, anything else to the
// whole-round-trip duration probe.
func (c *Client) Measure(ctx context.Context, worker string, spec measure.RequestSpec) (measure.Response, error) {
	if spec.Method != "" && spec.Method != http.MethodGet {
		return c.Duration(ctx, worker, spec)
	}
	return c.TTFB(ctx, worker, spec.URL)
}

// TTFB asks a worker for a phase-timed probe of target.
func (c *Client) TTFB(ctx context.Context, worker, target string) (measure.Response, error) {
	return c.post(ctx, endpoint(worker, "/ttfb"), measure.MeasureRequest{Target: target})
}

// Duration asks a worker to measure the full round trip of the request
// described by spec.
func (c *Client) Duration(ctx context.Context, worker string, spec measure.RequestSpec) (measure.Response, error) {
	return c.post(ctx, endpoint(worker, "/duration"), measure.DurationRequest{
		Target:  spec.URL,
		Method:  spec.Method,
		Headers: spec.Headers,
		Body:    spec.Body,
	})
}

func (c *Client) post(ctx context.Context, url string, payload any) (measure.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return measure.Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return measure.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return measure.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return measure.Response{}, decodeFailure(resp)
	}

	var sample measure.Response
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return measure.Response{}, fmt.Errorf("decoding worker response: %w", err)
	}
	return sample, nil
}

// decodeFailure recovers the structured error a worker puts in failure
// bodies, falling back to the raw text for anything else.
func decodeFailure(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("worker returned status %d", resp.StatusCode)
	}

	var wireErr measure.Error
	if err := json.Unmarshal(raw, &wireErr); err == nil && wireErr.Code != "" {
		return &wireErr
	}
	return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
}

func endpoint(worker, path string) string {
	return strings.TrimSuffix(worker, "/") + path
}
