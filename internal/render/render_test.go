package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fleek-network/latency-measure/internal/aggregate"
	"github.com/fleek-network/latency-measure/internal/collect"
	"github.com/fleek-network/latency-measure/internal/measure"
)

func testRun() *collect.Run {
	comp := measure.RequestSpec{URL: "https://baseline.example.com"}
	return &collect.Run{
		Target:     measure.RequestSpec{URL: "https://target.example.com"},
		Comparison: &comp,
		Times:      3,
		Results: []collect.WorkerResult{
			{
				Worker: "http://10.0.0.1:3000",
				Target: []measure.Response{
					{TTFB: 10 * time.Millisecond},
					{TTFB: 20 * time.Millisecond},
					{TTFB: 30 * time.Millisecond},
				},
				Comparison: []measure.Response{
					{TTFB: 40 * time.Millisecond},
					{TTFB: 50 * time.Millisecond},
					{TTFB: 60 * time.Millisecond},
				},
			},
		},
	}
}

func TestResultsTable(t *testing.T) {
	var buf bytes.Buffer
	Results(&buf, testRun())
	out := buf.String()

	for _, want := range []string{
		"http://10.0.0.1:3000",
		"https://target.example.com",
		"https://baseline.example.com",
		"10ms", "20ms", "30ms",
		"40ms", "50ms", "60ms",
		"1", "2", "3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestResultsPartialSeries(t *testing.T) {
	run := testRun()
	run.Comparison = nil
	run.Results[0].Comparison = nil
	run.Results[0].Target = run.Results[0].Target[:2]
	run.Results[0].Err = errors.New("target series: connection refused")

	var buf bytes.Buffer
	Results(&buf, run)
	out := buf.String()

	if !strings.Contains(out, "connection refused") {
		t.Errorf("output is missing the worker error:\n%s", out)
	}
	if !strings.Contains(out, "2/3 samples") {
		t.Errorf("output is missing the partial sample count:\n%s", out)
	}
	// The missing third sample shows as a dash.
	if !strings.Contains(out, "-") {
		t.Errorf("output is missing the placeholder cell:\n%s", out)
	}
}

func TestResultsFailedWorkerWithoutSamples(t *testing.T) {
	run := testRun()
	run.Comparison = nil
	run.Results[0].Target = nil
	run.Results[0].Comparison = nil
	run.Results[0].Err = errors.New("dial tcp: connection refused")

	var buf bytes.Buffer
	Results(&buf, run)
	out := buf.String()

	if !strings.Contains(out, "dial tcp") {
		t.Errorf("output is missing the error:\n%s", out)
	}
	if strings.Contains(out, "ms") {
		t.Errorf("no table cells expected without samples:\n%s", out)
	}
}

func TestAverage(t *testing.T) {
	var buf bytes.Buffer
	Average(&buf, "https://target.example.com", measure.Response{TTFB: 20 * time.Millisecond})

	want := "URL: https://target.example.com\nAverage: 20ms\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestAveragePrefersOverall(t *testing.T) {
	overall := 130 * time.Millisecond
	var buf bytes.Buffer
	Average(&buf, "https://target.example.com", measure.Response{TTFB: 0, Overall: &overall})

	if !strings.Contains(buf.String(), "130ms") {
		t.Errorf("output = %q, want the overall duration", buf.String())
	}
}

func TestDistribution(t *testing.T) {
	sum := aggregate.Summary{
		Count: 10,
		Min:   time.Millisecond,
		Mean:  1500 * time.Microsecond,
		P50:   time.Millisecond,
		P90:   2 * time.Millisecond,
		P95:   2 * time.Millisecond,
		P99:   3 * time.Millisecond,
		Max:   3 * time.Millisecond,
	}

	var buf bytes.Buffer
	Distribution(&buf, "https://target.example.com", sum)
	out := buf.String()

	for _, want := range []string{"10 samples", "p99", "1.50ms", "3.00ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestDistributionEmpty(t *testing.T) {
	var buf bytes.Buffer
	Distribution(&buf, "x", aggregate.Summary{})
	if buf.Len() != 0 {
		t.Errorf("empty summary printed %q", buf.String())
	}
}

func TestProgressLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	p.Update(3, 10)
	p.Finish()

	out := buf.String()
	if !strings.Contains(out, "3/10 samples") {
		t.Errorf("output = %q", out)
	}
	if !strings.HasPrefix(out, "\r") {
		t.Errorf("update should rewrite the line, got %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("finish should clear the line, got %q", out)
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(1499 * time.Millisecond); got != "1499ms" {
		t.Errorf("Millis = %q", got)
	}
	if got := Millis(1500 * time.Microsecond); got != "1ms" {
		t.Errorf("Millis = %q", got)
	}
}
