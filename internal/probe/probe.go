// Package probe performs the phase-timed HTTP measurement a worker exposes
// over the wire. A probe always dials a fresh connection so every phase
// (DNS, TCP connect, TLS handshake, request send, first byte) is actually
// observable; reported durations are relative to the end of the preceding
// phase, not cumulative from probe start.
package probe

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/fleek-network/latency-measure/internal/measure"
)

type traceTimings struct {
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	gotConn      time.Time
	wroteRequest time.Time
	firstByte    time.Time
	remoteAddr   string
}

// Options configure probe execution. TLSConfig is mainly for lab and test
// targets with self-signed certificates.
type Options struct {
	TLSConfig *tls.Config
}

// Run measures a single GET-style probe against target and reports the
// relative duration of each connection phase. DNS is absent when no lookup
// occurred (literal IP), TLS is absent for plain http targets. The response
// status is not inspected; timing is the only concern of this probe.
func Run(ctx context.Context, target string, opts Options) (measure.Response, error) {
	var timings traceTimings

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			timings.dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			timings.dnsDone = time.Now()
		},
		ConnectStart: func(network, addr string) {
			timings.connectStart = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			timings.connectDone = time.Now()
		},
		TLSHandshakeStart: func() {
			timings.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			timings.tlsDone = time.Now()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			timings.gotConn = time.Now()
			timings.remoteAddr = info.Conn.RemoteAddr().String()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			timings.wroteRequest = time.Now()
		},
		GotFirstResponseByte: func() {
			timings.firstByte = time.Now()
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, normalizeTarget(target), nil)
	if err != nil {
		return measure.Response{}, measure.NewNetworkError(err)
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		TLSClientConfig:   opts.TLSConfig,
	}
	defer transport.CloseIdleConnections()

	// Redirects would dial a second connection and corrupt the phase
	// decomposition; the redirect response itself carries the first byte.
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return measure.Response{}, measure.NewNetworkError(err)
	}
	resp.Body.Close()

	sample := measure.Response{
		IP:         hostOnly(timings.remoteAddr),
		TCPConnect: relative(timings.connectStart, timings.connectDone),
		HTTPSend:   relative(timings.gotConn, timings.wroteRequest),
		TTFB:       relative(timings.wroteRequest, timings.firstByte),
	}
	if !timings.dnsDone.IsZero() {
		d := relative(timings.dnsStart, timings.dnsDone)
		sample.DNSLookup = &d
	}
	if !timings.tlsDone.IsZero() {
		d := relative(timings.tlsStart, timings.tlsDone)
		sample.TLSHandshake = &d
	}

	return sample, nil
}

// normalizeTarget prepends a scheme when the target has none, matching the
// lenient targets accepted over the wire.
func normalizeTarget(target string) string {
	if !strings.Contains(target, "://") {
		return "http://" + target
	}
	return target
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func relative(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	if d := to.Sub(from); d > 0 {
		return d
	}
	return 0
}
