package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

type Config struct {
	SlackWebhook           string
	SlackDefaultChannel    string
	StubSlack              bool
	SMTPDSN                string
	EmailFrom              string
	DefaultReminderMinutes int
	MaxAttempts            int
	RatePerMinute          int
	SendTimeout            time.Duration
}

// Notifier consumes notify jobs and fans them out to the client's
// configured channels. Cooldowns, the resolve one-shot, and per-subject
// single-flight all live here; retry scheduling stays with the worker.
type Notifier struct {
	repo    *db.Repository
	queue   *queue.RedisQueue
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     Config
	limiter *rate.Limiter
	email   *EmailProvider

	mu       sync.Mutex
	inflight map[string]db.NotifyKind
}

func NewNotifier(repo *db.Repository, notifyQueue *queue.RedisQueue, collector *metrics.Collector, logger *zap.Logger, cfg Config) *Notifier {
	n := &Notifier{
		repo:     repo,
		queue:    notifyQueue,
		metrics:  collector,
		logger:   logger,
		cfg:      cfg,
		inflight: make(map[string]db.NotifyKind),
	}
	if cfg.RatePerMinute > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute))/60, cfg.RatePerMinute)
	}
	if cfg.SMTPDSN != "" {
		provider, err := NewEmailProvider(cfg.SMTPDSN, cfg.EmailFrom)
		if err != nil {
			logger.Warn("Invalid SMTP DSN, email delivery disabled", zap.Error(err))
		} else {
			n.email = provider
		}
	}
	return n
}

// delivery pairs a provider with the recipient recorded in the log.
type delivery struct {
	provider  Provider
	recipient string
}

// Deliver handles one notify job, single or grouped. Returned transient
// errors make the worker re-enqueue with backoff; ErrBusy means another
// worker holds the subject and the job should come back unchanged.
func (n *Notifier) Deliver(ctx context.Context, job *queue.Job) error {
	kind := db.NotifyKind(job.Notify)
	ids := job.IncidentIDs
	if len(ids) == 0 && job.IncidentID != "" {
		ids = []string{job.IncidentID}
	}
	if len(ids) == 0 {
		return nil
	}

	acquired, blocked := n.acquire(ids, kind)
	if len(acquired) == 0 {
		if blocked && kind == db.NotifyResolve {
			return ErrBusy
		}
		// an in-flight send already covers these subjects
		n.logger.Debug("Coalesced notify job", zap.Strings("incident_ids", ids))
		return nil
	}
	defer n.release(acquired)

	incidents, err := n.loadIncidents(acquired, kind)
	if err != nil {
		return err
	}
	if len(incidents) == 0 {
		return nil
	}

	clientID := incidents[0].ClientID
	settings, err := n.repo.GetClientSettings(clientID)
	if err != nil {
		return fmt.Errorf("failed to load client settings: %w", err)
	}

	deliveries := n.deliveriesFor(settings)
	if len(deliveries) == 0 {
		n.logger.Info("No notification channels configured, suppressing",
			zap.String("client_id", clientID),
			zap.String("kind", string(kind)),
		)
		return nil
	}

	cooldown := CooldownSeconds(settings, n.cfg.DefaultReminderMinutes)

	var transientErr, permanentErr error
	for _, d := range deliveries {
		due, err := n.dueForProvider(incidents, d.provider.Name(), kind, cooldown)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			continue
		}

		msg, err := n.buildMessage(kind, due, job.AlertID)
		if err != nil {
			return err
		}
		msg.Recipient = d.recipient

		logIDs, err := n.insertPending(due, d, kind, job.AlertID)
		if err != nil {
			return err
		}

		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
		start := time.Now()
		sendErr := d.provider.Send(sendCtx, msg)
		cancel()
		latency := time.Since(start).Seconds()

		if sendErr != nil {
			for _, logID := range logIDs {
				if err := n.repo.MarkNotificationFailed(logID, sendErr.Error()); err != nil {
					n.logger.Error("Failed to mark notification failed", zap.Error(err))
				}
			}
			n.metrics.RecordNotificationSent(clientID, d.provider.Name(), kind, false, latency)
			if IsPermanent(sendErr) {
				n.logger.Warn("Permanent notification failure",
					zap.String("provider", d.provider.Name()),
					zap.Error(sendErr),
				)
				permanentErr = sendErr
			} else {
				transientErr = sendErr
			}
			continue
		}

		for i, logID := range logIDs {
			if err := n.repo.MarkNotificationSuccess(logID); err != nil {
				n.logger.Error("Failed to mark notification success", zap.Error(err))
			}
			if err := n.repo.TouchIncidentNotified(due[i].ID); err != nil {
				n.logger.Error("Failed to touch incident", zap.Error(err))
			}
		}
		n.metrics.RecordNotificationSent(clientID, d.provider.Name(), kind, true, latency)
		n.logger.Info("Notification sent",
			zap.String("client_id", clientID),
			zap.String("provider", d.provider.Name()),
			zap.String("kind", string(kind)),
			zap.Int("incidents", len(due)),
		)
	}

	if transientErr != nil {
		return transientErr
	}
	return permanentErr
}

func (n *Notifier) acquire(ids []string, kind db.NotifyKind) (acquired []string, blocked bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		if _, busy := n.inflight[id]; busy {
			blocked = true
			continue
		}
		n.inflight[id] = kind
		acquired = append(acquired, id)
	}
	return acquired, blocked
}

func (n *Notifier) release(ids []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		delete(n.inflight, id)
	}
}

// loadIncidents drops rows that vanished and, for open/reminder kinds,
// rows no longer OPEN. A resolve that landed while the reminder sat in
// the queue wins.
func (n *Notifier) loadIncidents(ids []string, kind db.NotifyKind) ([]*db.Incident, error) {
	incidents := make([]*db.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := n.repo.GetIncident(id)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load incident: %w", err)
		}
		if kind != db.NotifyResolve && inc.Status != db.IncidentOpen {
			continue
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}

func (n *Notifier) deliveriesFor(settings *db.ClientSettings) []delivery {
	var out []delivery

	webhook := n.cfg.SlackWebhook
	if settings.SlackWebhookURL != nil && *settings.SlackWebhookURL != "" {
		webhook = *settings.SlackWebhookURL
	}
	channel := n.cfg.SlackDefaultChannel
	if settings.SlackChannelName != nil && *settings.SlackChannelName != "" {
		channel = *settings.SlackChannelName
	}
	if webhook != "" || n.cfg.StubSlack {
		out = append(out, delivery{
			provider:  NewSlackProvider(webhook, channel, n.cfg.StubSlack, n.logger),
			recipient: channel,
		})
	}

	if n.email != nil && settings.NotificationEmail != nil && *settings.NotificationEmail != "" {
		out = append(out, delivery{provider: n.email, recipient: *settings.NotificationEmail})
	}
	return out
}

// dueForProvider applies the cooldown and the resolve one-shot per
// provider, so a retry never re-sends over a channel that already
// delivered.
func (n *Notifier) dueForProvider(incidents []*db.Incident, provider string, kind db.NotifyKind, cooldown int) ([]*db.Incident, error) {
	due := make([]*db.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if kind == db.NotifyResolve {
			sent, err := n.repo.HasSuccessfulSend(inc.ID, provider, db.NotifyResolve)
			if err != nil {
				return nil, fmt.Errorf("failed to check resolve delivery: %w", err)
			}
			if sent {
				continue
			}
			due = append(due, inc)
			continue
		}

		if cooldown > 0 {
			last, err := n.repo.LastProviderSend(inc.ID, provider)
			if err != nil {
				return nil, fmt.Errorf("failed to check last delivery: %w", err)
			}
			if last != nil && time.Since(*last) < time.Duration(cooldown)*time.Second {
				continue
			}
		}
		due = append(due, inc)
	}
	return due, nil
}

func (n *Notifier) insertPending(incidents []*db.Incident, d delivery, kind db.NotifyKind, alertID string) ([]string, error) {
	logIDs := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		entry := &db.NotificationLog{
			ClientID:   inc.ClientID,
			IncidentID: &inc.ID,
			Provider:   d.provider.Name(),
			Recipient:  d.recipient,
			Kind:       kind,
			Status:     db.NotificationPending,
		}
		if alertID != "" && inc.MetricInstanceID != nil {
			id := alertID
			entry.AlertID = &id
		}
		if err := n.repo.CreateNotificationLog(entry); err != nil {
			return nil, fmt.Errorf("failed to create notification log: %w", err)
		}
		logIDs = append(logIDs, entry.ID)
	}
	return logIDs, nil
}

func (n *Notifier) buildMessage(kind db.NotifyKind, incidents []*db.Incident, alertID string) (Message, error) {
	msg := Message{
		Kind:      kind,
		Severity:  maxSeverity(incidents),
		Timestamp: time.Now(),
	}

	if len(incidents) > 1 {
		hostname := n.lookupHostname(incidents[0])
		msg.Title = fmt.Sprintf("%d incidents still open on %s", len(incidents), hostname)
		var b strings.Builder
		for _, inc := range incidents {
			fmt.Fprintf(&b, "- [%s] %s (open since %s)\n",
				inc.Severity, inc.Title, inc.OpenedAt.Format(time.RFC3339))
		}
		msg.Body = strings.TrimRight(b.String(), "\n")
		msg.Fields = []Field{
			{Title: "Machine", Value: hostname, Short: true},
			{Title: "Incidents", Value: fmt.Sprintf("%d", len(incidents)), Short: true},
		}
		return msg, nil
	}

	inc := incidents[0]
	switch kind {
	case db.NotifyResolve:
		msg.Title = fmt.Sprintf("Resolved: %s", inc.Title)
		downFor := time.Since(inc.OpenedAt)
		if inc.ResolvedAt != nil {
			downFor = inc.ResolvedAt.Sub(inc.OpenedAt)
		}
		msg.Body = fmt.Sprintf("Open for %s.", downFor.Round(time.Second))
	case db.NotifyReminder:
		msg.Title = fmt.Sprintf("Reminder: %s", inc.Title)
		msg.Body = fmt.Sprintf("Still open since %s (%s).",
			inc.OpenedAt.Format(time.RFC3339), time.Since(inc.OpenedAt).Round(time.Second))
	default:
		msg.Title = inc.Title
		msg.Body = fmt.Sprintf("Opened at %s.", inc.OpenedAt.Format(time.RFC3339))
		if alertID != "" {
			if alert, err := n.repo.GetAlert(alertID); err == nil {
				msg.Body = alert.Message
				if alert.ValueText != nil {
					msg.Fields = append(msg.Fields, Field{Title: "Value", Value: *alert.ValueText, Short: true})
				}
			}
		}
	}

	msg.Fields = append(msg.Fields, Field{Title: "Severity", Value: string(inc.Severity), Short: true})
	if hostname := n.lookupHostname(inc); hostname != "" {
		msg.Fields = append(msg.Fields, Field{Title: "Machine", Value: hostname, Short: true})
	}
	return msg, nil
}

func (n *Notifier) lookupHostname(inc *db.Incident) string {
	if inc.MachineID == nil {
		return ""
	}
	machine, err := n.repo.GetMachine(*inc.MachineID, inc.ClientID)
	if err != nil {
		return ""
	}
	return machine.Hostname
}

// CooldownSeconds resolves the effective reminder cooldown for a client.
// Zero or negative means no cooldown at all.
func CooldownSeconds(settings *db.ClientSettings, defaultReminderMinutes int) int {
	if settings.ReminderNotificationSeconds > 0 {
		return settings.ReminderNotificationSeconds
	}
	return defaultReminderMinutes * 60
}

func maxSeverity(incidents []*db.Incident) db.Severity {
	best := db.SeverityInfo
	for _, inc := range incidents {
		if severityRank(inc.Severity) > severityRank(best) {
			best = inc.Severity
		}
	}
	return best
}

func severityRank(s db.Severity) int {
	switch s {
	case db.SeverityCritical:
		return 3
	case db.SeverityError:
		return 2
	case db.SeverityWarning:
		return 1
	}
	return 0
}
