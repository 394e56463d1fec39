// Package database exports finished runs to InfluxDB. Export is
// optional; the JSON snapshot stays the primary sink.
package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/fleek-network/latency-measure/internal/collect"
	"github.com/fleek-network/latency-measure/internal/config"
	"github.com/fleek-network/latency-measure/internal/logging"
	"github.com/fleek-network/latency-measure/internal/measure"
)

type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewClient(cfg config.DatabaseConfig) (*Client, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// WriteRun stores every gathered sample plus one metadata point
// describing the run itself.
func (c *Client) WriteRun(ctx context.Context, run *collect.Run) error {
	var points []*write.Point

	for _, res := range run.Results {
		for i, s := range res.Target {
			points = append(points, samplePoint(run, res.Worker, "target", run.Target.URL, i, s))
		}
		if run.Comparison != nil {
			for i, s := range res.Comparison {
				points = append(points, samplePoint(run, res.Worker, "comparison", run.Comparison.URL, i, s))
			}
		}
	}
	points = append(points, runPoint(run))

	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write run points: %w", err)
	}
	return nil
}

// samplePoint tags each sample with its index so repeated samples of one
// run stay distinct points.
func samplePoint(run *collect.Run, worker, kind, url string, index int, s measure.Response) *write.Point {
	tags := map[string]string{
		"run_id": run.ID,
		"worker": worker,
		"kind":   kind,
		"url":    url,
		"index":  strconv.Itoa(index),
	}

	fields := map[string]interface{}{
		"tcp_connect_ms": ms(s.TCPConnect),
		"http_send_ms":   ms(s.HTTPSend),
		"ttfb_ms":        ms(s.TTFB),
		"primary_ms":     ms(s.PrimaryLatency()),
	}
	if s.IP != "" {
		fields["ip"] = s.IP
	}
	if s.DNSLookup != nil {
		fields["dns_lookup_ms"] = ms(*s.DNSLookup)
	}
	if s.TLSHandshake != nil {
		fields["tls_handshake_ms"] = ms(*s.TLSHandshake)
	}
	if s.Overall != nil {
		fields["overall_ms"] = ms(*s.Overall)
	}

	return influxdb2.NewPoint("latency_sample", tags, fields, run.Finished)
}

func runPoint(run *collect.Run) *write.Point {
	failed := 0
	for _, res := range run.Results {
		if res.Err != nil {
			failed++
		}
	}

	fields := map[string]interface{}{
		"target_url":       run.Target.URL,
		"workers":          len(run.Results),
		"failed_workers":   failed,
		"times":            run.Times,
		"flood":            run.Flood,
		"duration_seconds": run.Finished.Sub(run.Started).Seconds(),
		"started":          run.Started.Format(time.RFC3339),
		"finished":         run.Finished.Format(time.RFC3339),
	}
	if run.Comparison != nil {
		fields["comparison_url"] = run.Comparison.URL
	}

	return influxdb2.NewPoint("latency_run",
		map[string]string{"run_id": run.ID},
		fields,
		run.Finished)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
