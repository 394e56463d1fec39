// Package aggregate reduces repeated latency samples into summary values.
package aggregate

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/fleek-network/latency-measure/internal/measure"
)

// Average returns the componentwise mean of a series of samples.
//
// Durations present on every sample are divided by the series length.
// Optional phases (DNS lookup, TLS handshake, overall duration) are
// averaged over the samples that carry them and omitted from the result
// when none do. The reported IP is taken from the first sample that has
// one. An empty series yields the zero value.
func Average(series []measure.Response) measure.Response {
	if len(series) == 0 {
		return measure.Response{}
	}

	var out measure.Response
	var dnsSum, tlsSum, overallSum time.Duration
	var dnsN, tlsN, overallN int

	for _, s := range series {
		if out.IP == "" {
			out.IP = s.IP
		}
		out.TCPConnect += s.TCPConnect
		out.HTTPSend += s.HTTPSend
		out.TTFB += s.TTFB

		if s.DNSLookup != nil {
			dnsSum += *s.DNSLookup
			dnsN++
		}
		if s.TLSHandshake != nil {
			tlsSum += *s.TLSHandshake
			tlsN++
		}
		if s.Overall != nil {
			overallSum += *s.Overall
			overallN++
		}
	}

	n := time.Duration(len(series))
	out.TCPConnect /= n
	out.HTTPSend /= n
	out.TTFB /= n

	if dnsN > 0 {
		d := dnsSum / time.Duration(dnsN)
		out.DNSLookup = &d
	}
	if tlsN > 0 {
		d := tlsSum / time.Duration(tlsN)
		out.TLSHandshake = &d
	}
	if overallN > 0 {
		d := overallSum / time.Duration(overallN)
		out.Overall = &d
	}
	return out
}

// Summary describes the spread of primary latencies across a series.
type Summary struct {
	Count int64
	Min   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Distribution summarizes the primary latency of each sample in the
// series. Values are tracked between 1us and 10min at three significant
// figures; samples beyond that range are dropped.
func Distribution(series []measure.Response) Summary {
	hist := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	for _, s := range series {
		_ = hist.RecordValue(int64(s.PrimaryLatency() / time.Microsecond))
	}
	if hist.TotalCount() == 0 {
		return Summary{}
	}

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Summary{
		Count: hist.TotalCount(),
		Min:   us(hist.Min()),
		Mean:  time.Duration(hist.Mean() * float64(time.Microsecond)),
		P50:   us(hist.ValueAtQuantile(50)),
		P90:   us(hist.ValueAtQuantile(90)),
		P95:   us(hist.ValueAtQuantile(95)),
		P99:   us(hist.ValueAtQuantile(99)),
		Max:   us(hist.Max()),
	}
}
