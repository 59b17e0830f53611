package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

type slackMessage struct {
	Text        string            `json:"text"`
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackProvider posts to an incoming webhook. With stub mode on, sends
// short-circuit to success so staging runs without a real workspace.
type SlackProvider struct {
	webhookURL string
	channel    string
	stub       bool
	client     *http.Client
	logger     *zap.Logger
}

func NewSlackProvider(webhookURL, channel string, stub bool, logger *zap.Logger) *SlackProvider {
	return &SlackProvider{
		webhookURL: webhookURL,
		channel:    channel,
		stub:       stub,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

func (p *SlackProvider) Name() string { return "slack" }

func (p *SlackProvider) Send(ctx context.Context, msg Message) error {
	if p.stub {
		p.logger.Info("Stubbed Slack notification",
			zap.String("kind", string(msg.Kind)),
			zap.String("title", msg.Title),
		)
		return nil
	}

	fields := make([]slackField, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, slackField{Title: f.Title, Value: f.Value, Short: f.Short})
	}

	payload := slackMessage{
		Text:    msg.Title,
		Channel: p.channel,
		Attachments: []slackAttachment{
			{
				Color:  colorFor(msg.Kind, msg.Severity),
				Text:   msg.Body,
				Fields: fields,
				Footer: "FleetWatch",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &SendError{Provider: "slack", Msg: err.Error(), Transient: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &SendError{Provider: "slack", Msg: err.Error(), Transient: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendError{Provider: "slack", Msg: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &SendError{
		Provider:  "slack",
		Status:    resp.StatusCode,
		Msg:       string(respBody),
		Transient: transient,
	}
}

func colorFor(kind db.NotifyKind, severity db.Severity) string {
	if kind == db.NotifyResolve {
		return "#36a64f"
	}
	switch severity {
	case db.SeverityCritical, db.SeverityError:
		return "#dc3545"
	case db.SeverityWarning:
		return "#ffc107"
	}
	return "#6c757d"
}
