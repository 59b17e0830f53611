package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// RemoteWriteConfig points the push loop at a Prometheus remote write
// endpoint such as Mimir. An empty URL disables the loop.
type RemoteWriteConfig struct {
	URL      string
	Tenant   string
	Interval time.Duration
}

// RemoteWriter periodically pushes the process registry, for deployments
// where the scheduler and worker pods are not scrapeable.
type RemoteWriter struct {
	cfg    RemoteWriteConfig
	client *http.Client
	logger *zap.Logger
}

func NewRemoteWriter(cfg RemoteWriteConfig, logger *zap.Logger) *RemoteWriter {
	return &RemoteWriter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (w *RemoteWriter) Start(ctx context.Context) {
	if w.cfg.URL == "" {
		return
	}

	interval := w.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.flush(ctx); err != nil {
				w.logger.Warn("Remote write flush failed", zap.Error(err))
			}
		}
	}
}

func (w *RemoteWriter) flush(ctx context.Context) error {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	series := seriesFromFamilies(mfs, time.Now())
	if len(series) == 0 {
		return nil
	}
	return w.send(ctx, series)
}

// seriesFromFamilies flattens gathered families into remote write series.
// Histograms expand into their buckets plus _sum and _count.
func seriesFromFamilies(mfs []*dto.MetricFamily, now time.Time) []prompb.TimeSeries {
	ts := now.UnixNano() / int64(time.Millisecond)
	var series []prompb.TimeSeries

	add := func(name string, base, extra []prompb.Label, value float64) {
		labels := make([]prompb.Label, 0, len(base)+len(extra)+1)
		labels = append(labels, prompb.Label{Name: "__name__", Value: name})
		labels = append(labels, base...)
		labels = append(labels, extra...)
		series = append(series, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
		})
	}

	for _, mf := range mfs {
		name := mf.GetName()
		for _, m := range mf.Metric {
			base := make([]prompb.Label, 0, len(m.Label))
			for _, l := range m.Label {
				base = append(base, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(name, base, nil, m.Counter.GetValue())
			case dto.MetricType_GAUGE:
				add(name, base, nil, m.Gauge.GetValue())
			case dto.MetricType_HISTOGRAM:
				hist := m.Histogram
				for _, bucket := range hist.Bucket {
					le := []prompb.Label{{Name: "le", Value: fmt.Sprintf("%g", bucket.GetUpperBound())}}
					add(name+"_bucket", base, le, float64(bucket.GetCumulativeCount()))
				}
				add(name+"_sum", base, nil, hist.GetSampleSum())
				add(name+"_count", base, nil, float64(hist.GetSampleCount()))
			}
		}
	}
	return series
}

func (w *RemoteWriter) send(ctx context.Context, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL+"/api/v1/push", bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if w.cfg.Tenant != "" {
		httpReq.Header.Set("X-Scope-OrgID", w.cfg.Tenant)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remote write failed with status %d", resp.StatusCode)
	}
	return nil
}
