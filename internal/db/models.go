package db

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

type ValueType string

const (
	ValueTypeNumber ValueType = "number"
	ValueTypeBool   ValueType = "bool"
	ValueTypeString ValueType = "string"
)

type Comparison string

const (
	ComparisonGT       Comparison = "gt"
	ComparisonLT       Comparison = "lt"
	ComparisonGE       Comparison = "ge"
	ComparisonLE       Comparison = "le"
	ComparisonEQ       Comparison = "eq"
	ComparisonNE       Comparison = "ne"
	ComparisonContains Comparison = "contains"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type SubjectState string

const (
	StateUnknown  SubjectState = "UNKNOWN"
	StateNormal   SubjectState = "NORMAL"
	StateCritical SubjectState = "CRITICAL"
)

type MachineStatus string

const (
	MachineNoData MachineStatus = "NO_DATA"
	MachineUp     MachineStatus = "UP"
	MachineStale  MachineStatus = "STALE"
	MachineDown   MachineStatus = "DOWN"
)

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

type AlertStatus string

const (
	AlertFiring   AlertStatus = "FIRING"
	AlertResolved AlertStatus = "RESOLVED"
)

type NotifyKind string

const (
	NotifyOpen     NotifyKind = "open"
	NotifyReminder NotifyKind = "reminder"
	NotifyResolve  NotifyKind = "resolve"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSuccess NotificationStatus = "success"
	NotificationFailed  NotificationStatus = "failed"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxDelivering OutboxStatus = "DELIVERING"
	OutboxDelivered  OutboxStatus = "DELIVERED"
	OutboxFailed     OutboxStatus = "FAILED"
)

type Client struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type APIKey struct {
	ID         string     `json:"id" db:"id"`
	ClientID   string     `json:"-" db:"client_id"`
	Key        string     `json:"-" db:"key"`
	Name       string     `json:"name" db:"name"`
	MachineID  *string    `json:"machine_id,omitempty" db:"machine_id"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type Machine struct {
	ID           string        `json:"id" db:"id"`
	ClientID     string        `json:"-" db:"client_id"`
	Hostname     string        `json:"hostname" db:"hostname"`
	OS           string        `json:"os" db:"os"`
	Fingerprint  string        `json:"fingerprint" db:"fingerprint"`
	IsActive     bool          `json:"is_active" db:"is_active"`
	Status       MachineStatus `json:"status" db:"status"`
	RegisteredAt time.Time     `json:"registered_at" db:"registered_at"`
	LastSeen     *time.Time    `json:"last_seen,omitempty" db:"last_seen"`
}

type MetricDefinition struct {
	ID                string      `json:"id" db:"id"`
	ClientID          string      `json:"-" db:"client_id"`
	Name              string      `json:"name" db:"name"`
	ValueType         ValueType   `json:"value_type" db:"value_type"`
	Unit              *string     `json:"unit,omitempty" db:"unit"`
	Suggested         bool        `json:"suggested" db:"suggested"`
	DefaultComparison *Comparison `json:"default_comparison,omitempty" db:"default_comparison"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

type MetricInstance struct {
	ID            string       `json:"id" db:"id"`
	MachineID     string       `json:"machine_id" db:"machine_id"`
	DefinitionID  string       `json:"definition_id" db:"definition_id"`
	AlertEnabled  bool         `json:"alert_enabled" db:"alert_enabled"`
	Paused        bool         `json:"paused" db:"paused"`
	LastValue     *string      `json:"last_value,omitempty" db:"last_value"`
	LastValueAt   *time.Time   `json:"last_value_at,omitempty" db:"last_value_at"`
	State         SubjectState `json:"state" db:"state"`
	CriticalSince *time.Time   `json:"-" db:"critical_since"`
	BreachCount   int          `json:"-" db:"breach_count"`
	BaselineValue *string      `json:"baseline_value,omitempty" db:"baseline_value"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// MachineMetric is the instance joined with its definition for list endpoints.
type MachineMetric struct {
	MetricInstance
	MetricName string    `json:"metric_name" db:"metric_name"`
	ValueType  ValueType `json:"value_type" db:"value_type"`
	Unit       *string   `json:"unit,omitempty" db:"unit"`
}

type Sample struct {
	ID               int64      `json:"id" db:"id"`
	MetricInstanceID string     `json:"metric_instance_id" db:"metric_instance_id"`
	TS               time.Time  `json:"ts" db:"ts"`
	SentAt           *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ValueType        ValueType  `json:"value_type" db:"value_type"`
	NumValue         *float64   `json:"num_value,omitempty" db:"num_value"`
	BoolValue        *bool      `json:"bool_value,omitempty" db:"bool_value"`
	StrValue         *string    `json:"str_value,omitempty" db:"str_value"`
}

type Threshold struct {
	ID               string     `json:"id" db:"id"`
	MetricInstanceID string     `json:"metric_instance_id" db:"metric_instance_id"`
	Name             string     `json:"name" db:"name"`
	Comparison       Comparison `json:"comparison" db:"comparison"`
	ValueNum         *float64   `json:"value_num,omitempty" db:"value_num"`
	ValueBool        *bool      `json:"value_bool,omitempty" db:"value_bool"`
	ValueStr         *string    `json:"value_str,omitempty" db:"value_str"`
	Severity         Severity   `json:"severity" db:"severity"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

type HTTPTarget struct {
	ID                   string       `json:"id" db:"id"`
	ClientID             string       `json:"-" db:"client_id"`
	Name                 string       `json:"name" db:"name"`
	URL                  string       `json:"url" db:"url"`
	Method               string       `json:"method" db:"method"`
	AcceptedStatusCodes  StatusCodes  `json:"accepted_status_codes" db:"accepted_status_codes"`
	TimeoutSeconds       int          `json:"timeout_seconds" db:"timeout_seconds"`
	CheckIntervalSeconds int          `json:"check_interval_seconds" db:"check_interval_seconds"`
	IsActive             bool         `json:"is_active" db:"is_active"`
	State                SubjectState `json:"state" db:"state"`
	CriticalSince        *time.Time   `json:"-" db:"critical_since"`
	FailCount            int          `json:"-" db:"fail_count"`
	LastCheckAt          *time.Time   `json:"last_check_at,omitempty" db:"last_check_at"`
	LastStatus           *int         `json:"last_status,omitempty" db:"last_status"`
	LastLatencyMs        *int         `json:"last_latency_ms,omitempty" db:"last_latency_ms"`
	LastError            *string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
}

type Incident struct {
	ID               string         `json:"id" db:"id"`
	ClientID         string         `json:"-" db:"client_id"`
	HTTPTargetID     *string        `json:"http_target_id,omitempty" db:"http_target_id"`
	MetricInstanceID *string        `json:"metric_instance_id,omitempty" db:"metric_instance_id"`
	MachineID        *string        `json:"machine_id,omitempty" db:"machine_id"`
	Title            string         `json:"title" db:"title"`
	Severity         Severity       `json:"severity" db:"severity"`
	Status           IncidentStatus `json:"status" db:"status"`
	OpenedAt         time.Time      `json:"opened_at" db:"opened_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	LastObservedAt   time.Time      `json:"last_observed_at" db:"last_observed_at"`
	LastNotifiedAt   *time.Time     `json:"last_notified_at,omitempty" db:"last_notified_at"`
}

type Alert struct {
	ID               string      `json:"id" db:"id"`
	ClientID         string      `json:"-" db:"client_id"`
	MachineID        *string     `json:"machine_id,omitempty" db:"machine_id"`
	MetricInstanceID string      `json:"metric_instance_id" db:"metric_instance_id"`
	ThresholdID      *string     `json:"threshold_id,omitempty" db:"threshold_id"`
	Severity         Severity    `json:"severity" db:"severity"`
	Status           AlertStatus `json:"status" db:"status"`
	Message          string      `json:"message" db:"message"`
	ValueText        *string     `json:"value_text,omitempty" db:"value_text"`
	StartedAt        time.Time   `json:"started_at" db:"started_at"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
}

type IngestEvent struct {
	ID         string     `json:"id" db:"id"`
	ClientID   string     `json:"-" db:"client_id"`
	IngestID   string     `json:"ingest_id" db:"ingest_id"`
	MachineID  string     `json:"machine_id" db:"machine_id"`
	ReceivedAt time.Time  `json:"received_at" db:"received_at"`
	SentAt     *time.Time `json:"sent_at,omitempty" db:"sent_at"`
}

type NotificationLog struct {
	ID         string             `json:"id" db:"id"`
	ClientID   string             `json:"-" db:"client_id"`
	IncidentID *string            `json:"incident_id,omitempty" db:"incident_id"`
	AlertID    *string            `json:"alert_id,omitempty" db:"alert_id"`
	Provider   string             `json:"provider" db:"provider"`
	Recipient  string             `json:"recipient" db:"recipient"`
	Kind       NotifyKind         `json:"kind" db:"kind"`
	Status     NotificationStatus `json:"status" db:"status"`
	SentAt     *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	Error      *string            `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
}

type ClientSettings struct {
	ClientID                     string     `json:"-" db:"client_id"`
	NotificationEmail            *string    `json:"notification_email,omitempty" db:"notification_email"`
	SlackWebhookURL              *string    `json:"slack_webhook_url,omitempty" db:"slack_webhook_url"`
	SlackChannelName             *string    `json:"slack_channel_name,omitempty" db:"slack_channel_name"`
	GracePeriodSeconds           int        `json:"grace_period_seconds" db:"grace_period_seconds"`
	ReminderNotificationSeconds  int        `json:"reminder_notification_seconds" db:"reminder_notification_seconds"`
	AlertGroupingEnabled         bool       `json:"alert_grouping_enabled" db:"alert_grouping_enabled"`
	AlertGroupingWindowSeconds   int        `json:"alert_grouping_window_seconds" db:"alert_grouping_window_seconds"`
	NotifyOnResolve              bool       `json:"notify_on_resolve" db:"notify_on_resolve"`
	HeartbeatThresholdMinutes    int        `json:"heartbeat_threshold_minutes" db:"heartbeat_threshold_minutes"`
	ConsecutiveFailuresThreshold int        `json:"consecutive_failures_threshold" db:"consecutive_failures_threshold"`
	UpdatedAt                    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

type OutboxEvent struct {
	ID            int64        `json:"id" db:"id"`
	Kind          string       `json:"kind" db:"kind"`
	Payload       []byte       `json:"payload" db:"payload"`
	Status        OutboxStatus `json:"status" db:"status"`
	Attempts      int          `json:"attempts" db:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	DeliveredAt   *time.Time   `json:"delivered_at,omitempty" db:"delivered_at"`
}

type IncidentFilters struct {
	ClientID string
	Status   string // "OPEN", "RESOLVED", or empty
	Severity string
	Limit    int
	Offset   int
}

type DashboardSummary struct {
	Machines      map[string]int `json:"machines"`
	OpenIncidents int            `json:"open_incidents"`
	ActiveTargets int            `json:"active_targets"`
	FiringAlerts  int            `json:"firing_alerts"`
}

// StatusCodes maps an integer[] column onto a plain []int.
type StatusCodes []int

func (s StatusCodes) Value() (driver.Value, error) {
	arr := make(pq.Int64Array, len(s))
	for i, v := range s {
		arr[i] = int64(v)
	}
	return arr.Value()
}

func (s *StatusCodes) Scan(value interface{}) error {
	var arr pq.Int64Array
	if err := arr.Scan(value); err != nil {
		return err
	}
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	*s = out
	return nil
}

func (s StatusCodes) Contains(code int) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}
