package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/metrics"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

// MaxIngestIDLen caps both client-supplied and derived ingest ids.
const MaxIngestIDLen = 64

type Service struct {
	repo          *db.Repository
	evaluateQueue *queue.RedisQueue
	metrics       *metrics.Collector
	logger        *zap.Logger
}

func NewService(repo *db.Repository, evaluateQueue *queue.RedisQueue, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		evaluateQueue: evaluateQueue,
		metrics:       collector,
		logger:        logger,
	}
}

// Outcome is what the handler needs for the 202 body.
type Outcome struct {
	Duplicate bool
	IngestID  string
	MachineID string
}

// Process records one agent batch and fans out evaluation. The batch
// commits in a single transaction; a duplicate ingest id commits only the
// machine touch. Evaluate jobs go out after commit, one per affected
// instance.
func (s *Service) Process(ctx context.Context, batch db.IngestBatch) (*Outcome, error) {
	if len(batch.IngestID) > MaxIngestIDLen {
		return nil, &db.ValidationError{Message: fmt.Sprintf("ingest id exceeds %d characters", MaxIngestIDLen)}
	}
	if len(batch.Metrics) == 0 {
		return nil, &db.ValidationError{Message: "metrics must not be empty"}
	}
	if batch.IngestID == "" {
		batch.IngestID = deriveIngestID(batch)
	}

	result, err := s.repo.RecordIngest(batch)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordIngest(batch.ClientID, result.Duplicate, len(batch.Metrics))

	outcome := &Outcome{
		Duplicate: result.Duplicate,
		IngestID:  batch.IngestID,
		MachineID: result.MachineID,
	}
	if result.Duplicate {
		s.logger.Debug("Duplicate ingest",
			zap.String("client_id", batch.ClientID),
			zap.String("ingest_id", batch.IngestID),
		)
		return outcome, nil
	}

	for _, instanceID := range result.InstanceIDs {
		job := &queue.Job{
			Kind:             queue.KindEvaluateInstance,
			ClientID:         batch.ClientID,
			MachineID:        result.MachineID,
			MetricInstanceID: instanceID,
		}
		if err := s.evaluateQueue.Push(ctx, job); err != nil {
			// samples are committed, the next evaluate sweep catches up
			s.logger.Error("Failed to enqueue evaluate job",
				zap.String("metric_instance_id", instanceID),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("Ingested batch",
		zap.String("client_id", batch.ClientID),
		zap.String("machine_id", result.MachineID),
		zap.Int("metrics", len(batch.Metrics)),
	)
	return outcome, nil
}

// BuildMetric converts one wire metric into its typed row form. The value
// must match the declared type exactly; JSON numbers arrive as float64.
func BuildMetric(name, valueType string, value interface{}, unit *string) (db.IngestMetric, error) {
	m := db.IngestMetric{Name: name, Type: db.ValueType(valueType), Unit: unit}

	switch m.Type {
	case db.ValueTypeNumber:
		n, ok := value.(float64)
		if !ok {
			return m, &db.ValidationError{Message: fmt.Sprintf("metric %s: value is not a number", name)}
		}
		m.NumValue = &n
		m.ValueText = strconv.FormatFloat(n, 'f', -1, 64)
	case db.ValueTypeBool:
		b, ok := value.(bool)
		if !ok {
			return m, &db.ValidationError{Message: fmt.Sprintf("metric %s: value is not a bool", name)}
		}
		m.BoolValue = &b
		m.ValueText = strconv.FormatBool(b)
	case db.ValueTypeString:
		str, ok := value.(string)
		if !ok {
			return m, &db.ValidationError{Message: fmt.Sprintf("metric %s: value is not a string", name)}
		}
		m.StrValue = &str
		m.ValueText = str
	default:
		return m, &db.ValidationError{Message: fmt.Sprintf("metric %s: unknown type %q", name, valueType)}
	}
	return m, nil
}

// deriveIngestID makes retransmits of the same batch dedupe even when the
// agent never set an ingest id.
func deriveIngestID(b db.IngestBatch) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", b.ClientID, b.Fingerprint)
	if b.SentAt != nil {
		fmt.Fprintf(h, "%d", b.SentAt.UnixNano())
	}
	for _, m := range b.Metrics {
		fmt.Fprintf(h, "|%s=%s", m.Name, m.ValueText)
	}

	id := "auto-" + hex.EncodeToString(h.Sum(nil))
	if len(id) > MaxIngestIDLen {
		id = id[:MaxIngestIDLen]
	}
	return id
}
