package measure

import (
	"strings"
	"time"
)

// MeasureRequest is the body of a phase-timed probe call.
type MeasureRequest struct {
	Target string `json:"target"`
}

// DurationRequest is the body of a whole-round-trip probe call.
type DurationRequest struct {
	Target  string            `json:"target"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Response is one measurement sample as it travels over the wire.
// Durations serialize as integer nanoseconds. A phase-timed probe fills
// everything except Overall; a duration probe fills only Overall and leaves
// IP empty.
type Response struct {
	IP           string         `json:"ip"`
	DNSLookup    *time.Duration `json:"dnsLookupDuration,omitempty"`
	TCPConnect   time.Duration  `json:"tcpConnectDuration"`
	HTTPSend     time.Duration  `json:"httpSendDuration"`
	TTFB         time.Duration  `json:"ttfbDuration"`
	TLSHandshake *time.Duration `json:"tlsHandshakeDuration,omitempty"`
	Overall      *time.Duration `json:"overallDuration,omitempty"`
}

// PrimaryLatency is the figure a sample is judged by: the overall round trip
// for duration probes, the time to first byte otherwise.
func (r Response) PrimaryLatency() time.Duration {
	if r.Overall != nil {
		return *r.Overall
	}
	return r.TTFB
}

// RequestSpec describes the request under test. It is resolved once per run
// and immutable afterwards.
type RequestSpec struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// Validate rejects a request body combined with any method other than the
// exact string "POST". The check is on the raw method; lowercase variants
// fail here even though request building later normalizes them.
func (s RequestSpec) Validate() error {
	if s.Body != "" && s.Method != "POST" {
		return ErrBodyRequiresPost
	}
	return nil
}

// NormalizeMethod maps a method string to the supported set. Unrecognized
// methods fall back to GET; existing callers depend on that.
func NormalizeMethod(method string) string {
	switch strings.ToUpper(method) {
	case "GET":
		return "GET"
	case "POST":
		return "POST"
	case "PUT":
		return "PUT"
	case "DELETE":
		return "DELETE"
	default:
		return "GET"
	}
}
