package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

type Collector struct {
	// Ingest
	ingestTotal   *prometheus.CounterVec
	ingestSamples *prometheus.CounterVec

	// HTTP probes
	probeDuration     *prometheus.HistogramVec
	probeUp           *prometheus.GaugeVec
	probesTotal       *prometheus.CounterVec
	probeResponseCode *prometheus.GaugeVec

	// Evaluation
	evaluationsTotal *prometheus.CounterVec

	// Incidents
	incidentsTotal  *prometheus.CounterVec
	incidentsActive *prometheus.GaugeVec

	// Notifications
	notificationsSent   *prometheus.CounterVec
	notificationLatency *prometheus.HistogramVec

	// Outbox
	outboxEventsTotal *prometheus.CounterVec

	// Runtime
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	queueSize   *prometheus.GaugeVec

	// Fleet
	machinesByStatus *prometheus.GaugeVec
}

func NewCollector() *Collector {
	return &Collector{
		ingestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_ingest_total",
				Help: "Total number of ingest requests accepted",
			},
			[]string{"client_id", "duplicate"},
		),

		ingestSamples: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_ingest_samples_total",
				Help: "Total number of samples written",
			},
			[]string{"client_id"},
		),

		probeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetwatch_probe_duration_seconds",
				Help:    "Duration of HTTP probes in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"client_id", "target_id", "target_name"},
		),

		probeUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetwatch_probe_up",
				Help: "Whether the last probe of the target succeeded (1) or not (0)",
			},
			[]string{"client_id", "target_id", "target_name"},
		),

		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_probes_total",
				Help: "Total number of HTTP probes performed",
			},
			[]string{"client_id", "target_id", "target_name", "result"},
		),

		probeResponseCode: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetwatch_probe_response_code",
				Help: "HTTP response code of the last probe, 0 on transport failure",
			},
			[]string{"client_id", "target_id", "target_name"},
		),

		evaluationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_evaluations_total",
				Help: "Total number of threshold evaluations by resulting state",
			},
			[]string{"subject", "state"},
		),

		incidentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_incidents_total",
				Help: "Total number of incidents opened",
			},
			[]string{"client_id", "subject", "severity"},
		),

		incidentsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetwatch_incidents_active",
				Help: "Number of currently open incidents",
			},
			[]string{"client_id", "subject"},
		),

		notificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_notifications_sent_total",
				Help: "Total number of notification deliveries by outcome",
			},
			[]string{"client_id", "provider", "kind", "status"},
		),

		notificationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetwatch_notification_latency_seconds",
				Help:    "Notification delivery latency",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		outboxEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_outbox_events_total",
				Help: "Outbox dispatch outcomes",
			},
			[]string{"outcome"},
		),

		jobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetwatch_jobs_total",
				Help: "Total number of queue jobs processed",
			},
			[]string{"queue", "kind", "status"},
		),

		jobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetwatch_job_duration_seconds",
				Help:    "Duration of queue job processing",
				Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"queue", "kind"},
		),

		queueSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetwatch_queue_size",
				Help: "Current number of jobs waiting per queue",
			},
			[]string{"queue"},
		),

		machinesByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetwatch_machines_by_status",
				Help: "Number of machines per liveness status",
			},
			[]string{"client_id", "status"},
		),
	}
}

func (c *Collector) RecordIngest(clientID string, duplicate bool, samples int) {
	dup := "false"
	if duplicate {
		dup = "true"
	}
	c.ingestTotal.With(prometheus.Labels{
		"client_id": clientID,
		"duplicate": dup,
	}).Inc()

	if samples > 0 {
		c.ingestSamples.With(prometheus.Labels{
			"client_id": clientID,
		}).Add(float64(samples))
	}
}

func (c *Collector) RecordProbe(clientID, targetID, targetName string, ok bool, statusCode int, latencySeconds float64) {
	labels := prometheus.Labels{
		"client_id":   clientID,
		"target_id":   targetID,
		"target_name": targetName,
	}

	c.probeDuration.With(labels).Observe(latencySeconds)
	c.probeResponseCode.With(labels).Set(float64(statusCode))

	upValue := 0.0
	result := "fail"
	if ok {
		upValue = 1.0
		result = "ok"
	}
	c.probeUp.With(labels).Set(upValue)

	c.probesTotal.With(prometheus.Labels{
		"client_id":   clientID,
		"target_id":   targetID,
		"target_name": targetName,
		"result":      result,
	}).Inc()
}

func (c *Collector) RecordEvaluation(subject string, state db.SubjectState) {
	c.evaluationsTotal.With(prometheus.Labels{
		"subject": subject,
		"state":   string(state),
	}).Inc()
}

func (c *Collector) RecordIncidentOpened(inc *db.Incident) {
	subject := subjectLabel(inc)
	c.incidentsTotal.With(prometheus.Labels{
		"client_id": inc.ClientID,
		"subject":   subject,
		"severity":  string(inc.Severity),
	}).Inc()

	c.incidentsActive.With(prometheus.Labels{
		"client_id": inc.ClientID,
		"subject":   subject,
	}).Inc()
}

func (c *Collector) RecordIncidentResolved(inc *db.Incident) {
	c.incidentsActive.With(prometheus.Labels{
		"client_id": inc.ClientID,
		"subject":   subjectLabel(inc),
	}).Dec()
}

func (c *Collector) RecordNotificationSent(clientID, provider string, kind db.NotifyKind, success bool, latencySeconds float64) {
	status := "success"
	if !success {
		status = "failed"
	}

	c.notificationsSent.With(prometheus.Labels{
		"client_id": clientID,
		"provider":  provider,
		"kind":      string(kind),
		"status":    status,
	}).Inc()

	c.notificationLatency.With(prometheus.Labels{
		"provider": provider,
	}).Observe(latencySeconds)
}

func (c *Collector) RecordOutbox(outcome string) {
	c.outboxEventsTotal.With(prometheus.Labels{
		"outcome": outcome,
	}).Inc()
}

func (c *Collector) RecordJob(queue, kind, status string, durationSeconds float64) {
	c.jobsTotal.With(prometheus.Labels{
		"queue":  queue,
		"kind":   kind,
		"status": status,
	}).Inc()

	c.jobDuration.With(prometheus.Labels{
		"queue": queue,
		"kind":  kind,
	}).Observe(durationSeconds)
}

func (c *Collector) RecordQueueSize(queue string, size int64) {
	c.queueSize.With(prometheus.Labels{
		"queue": queue,
	}).Set(float64(size))
}

func (c *Collector) RecordMachineStatusCounts(clientID string, counts map[db.MachineStatus]int) {
	for status, count := range counts {
		c.machinesByStatus.With(prometheus.Labels{
			"client_id": clientID,
			"status":    string(status),
		}).Set(float64(count))
	}
}

func subjectLabel(inc *db.Incident) string {
	if inc.HTTPTargetID != nil {
		return "http"
	}
	return "metric"
}
