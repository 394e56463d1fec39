package collect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleek-network/latency-measure/internal/measure"
)

func newCollector(opts Options) *Collector {
	return NewCollector(NewClient(), opts)
}

// ttfbWorker fakes a worker whose phase probe answers with fn(target, call#).
func ttfbWorker(t *testing.T, fn func(target string, call int) measure.Response) *httptest.Server {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req measure.MeasureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn(req.Target, int(calls.Add(1)))); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunValidatesBeforeAnyCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := newCollector(Options{Times: 3})
	spec := measure.RequestSpec{URL: "https://example.com", Method: "PUT", Body: "data"}
	if _, err := c.Run(context.Background(), spec, "", []string{srv.URL}); err == nil {
		t.Fatal("expected a validation error")
	}
	if calls.Load() != 0 {
		t.Errorf("worker was called %d times despite the invalid spec", calls.Load())
	}
}

func TestRunSequentialSeriesOrder(t *testing.T) {
	srv := ttfbWorker(t, func(_ string, call int) measure.Response {
		return measure.Response{IP: "127.0.0.1", TTFB: time.Duration(call) * 10 * time.Millisecond}
	})

	c := newCollector(Options{Times: 3})
	run, err := c.Run(context.Background(), measure.RequestSpec{URL: "https://example.com"}, "", []string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	if run.ID == "" {
		t.Error("run ID is empty")
	}
	if run.Finished.Before(run.Started) {
		t.Error("run finished before it started")
	}
	if len(run.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(run.Results))
	}

	res := run.Results[0]
	if res.Err != nil {
		t.Fatalf("worker error: %v", res.Err)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if len(res.Target) != len(want) {
		t.Fatalf("series length = %d, want %d", len(res.Target), len(want))
	}
	for i, w := range want {
		if res.Target[i].TTFB != w {
			t.Errorf("sample %d ttfb = %v, want %v", i, res.Target[i].TTFB, w)
		}
	}
}

func TestRunComparisonSeries(t *testing.T) {
	const (
		targetURL = "https://target.example.com"
		compURL   = "https://baseline.example.com"
	)
	srv := ttfbWorker(t, func(target string, _ int) measure.Response {
		if target == compURL {
			return measure.Response{TTFB: 50 * time.Millisecond}
		}
		return measure.Response{TTFB: 10 * time.Millisecond}
	})

	c := newCollector(Options{Times: 2})
	run, err := c.Run(context.Background(), measure.RequestSpec{URL: targetURL}, compURL, []string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if run.Comparison == nil || run.Comparison.URL != compURL {
		t.Fatalf("comparison spec = %+v", run.Comparison)
	}

	res := run.Results[0]
	if len(res.Target) != 2 || len(res.Comparison) != 2 {
		t.Fatalf("series lengths = %d/%d, want 2/2", len(res.Target), len(res.Comparison))
	}
	for _, s := range res.Target {
		if s.TTFB != 10*time.Millisecond {
			t.Errorf("target ttfb = %v", s.TTFB)
		}
	}
	for _, s := range res.Comparison {
		if s.TTFB != 50*time.Millisecond {
			t.Errorf("comparison ttfb = %v", s.TTFB)
		}
	}
}

func TestRunIsolatesWorkerFailure(t *testing.T) {
	srv := ttfbWorker(t, func(_ string, _ int) measure.Response {
		return measure.Response{TTFB: time.Millisecond}
	})

	// Closing the listener first gives a reliably unreachable address.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadAddr := dead.URL
	dead.Close()

	c := newCollector(Options{Times: 2})
	run, err := c.Run(context.Background(), measure.RequestSpec{URL: "https://example.com"}, "", []string{deadAddr, srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(run.Results))
	}

	if run.Results[0].Err == nil {
		t.Error("dead worker should carry an error")
	}
	if len(run.Results[0].Target) != 0 {
		t.Errorf("dead worker series has %d samples", len(run.Results[0].Target))
	}
	if run.Results[1].Err != nil {
		t.Errorf("healthy worker failed: %v", run.Results[1].Err)
	}
	if len(run.Results[1].Target) != 2 {
		t.Errorf("healthy worker series = %d samples, want 2", len(run.Results[1].Target))
	}
}

func TestRunSurfacesWireErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(measure.NewHTTPStatusError(http.StatusNotFound))
	}))
	t.Cleanup(srv.Close)

	c := newCollector(Options{Times: 1})
	run, err := c.Run(context.Background(), measure.RequestSpec{URL: "https://example.com"}, "", []string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	resErr := run.Results[0].Err
	if !measure.IsCode(resErr, measure.CodeHTTPStatus) {
		t.Fatalf("err = %v, want an http status error", resErr)
	}
	var wireErr *measure.Error
	if !errors.As(resErr, &wireErr) || wireErr.Status != http.StatusNotFound {
		t.Errorf("wire error = %+v, want status 404", wireErr)
	}
}

func TestRunFloodCollectsEverySample(t *testing.T) {
	srv := ttfbWorker(t, func(_ string, call int) measure.Response {
		return measure.Response{TTFB: time.Duration(call) * 10 * time.Millisecond}
	})

	c := newCollector(Options{Times: 3, Flood: true})
	run, err := c.Run(context.Background(), measure.RequestSpec{URL: "https://example.com"}, "", []string{srv.URL, srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	// Arrival order is racy under flood, so check the multiset of values
	// rather than their positions.
	seen := map[time.Duration]int{}
	for _, res := range run.Results {
		if res.Err != nil {
			t.Fatalf("worker %s failed: %v", res.Worker, res.Err)
		}
		if len(res.Target) != 3 {
			t.Fatalf("series length = %d, want 3", len(res.Target))
		}
		for _, s := range res.Target {
			seen[s.TTFB]++
		}
	}
	for call := 1; call <= 6; call++ {
		d := time.Duration(call) * 10 * time.Millisecond
		if seen[d] != 1 {
			t.Errorf("sample %v recorded %d times, want once", d, seen[d])
		}
	}
}

func TestRunSequentialDelaySpacing(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(measure.Response{TTFB: time.Millisecond})
	}))
	t.Cleanup(srv.Close)

	c := newCollector(Options{Times: 2, Delay: 50 * time.Millisecond})
	if _, err := c.Run(context.Background(), measure.RequestSpec{URL: "https://example.com"}, "", []string{srv.URL}); err != nil {
		t.Fatal(err)
	}

	if len(arrivals) != 2 {
		t.Fatalf("arrivals = %d, want 2", len(arrivals))
	}
	if gap := arrivals[1].Sub(arrivals[0]); gap < 40*time.Millisecond {
		t.Errorf("gap between calls = %v, want at least the configured delay", gap)
	}
}

func TestMeasureRoutesByMethod(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(measure.Response{})
	}))
	t.Cleanup(srv.Close)

	client := NewClient()
	cases := []struct {
		method string
		want   string
	}{
		{"", "/ttfb"},
		{"GET", "/ttfb"},
		{"POST", "/duration"},
		{"DELETE", "/duration"},
	}
	for _, c := range cases {
		spec := measure.RequestSpec{URL: "https://example.com", Method: c.method}
		if _, err := client.Measure(context.Background(), srv.URL, spec); err != nil {
			t.Fatalf("method %q: %v", c.method, err)
		}
	}
	for i, c := range cases {
		if paths[i] != c.want {
			t.Errorf("method %q hit %s, want %s", c.method, paths[i], c.want)
		}
	}
}

func TestProgressReporting(t *testing.T) {
	srv := ttfbWorker(t, func(_ string, _ int) measure.Response {
		return measure.Response{TTFB: time.Millisecond}
	})

	var calls [][2]int
	c := newCollector(Options{Times: 2, Progress: func(done, total int) {
		calls = append(calls, [2]int{done, total})
	}})
	if _, err := c.Run(context.Background(), measure.RequestSpec{URL: "https://example.com"}, "", []string{srv.URL}); err != nil {
		t.Fatal(err)
	}

	want := [][2]int{{1, 2}, {2, 2}}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("progress calls = %v, want %v", calls, want)
	}
}
