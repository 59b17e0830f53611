package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

// ErrBusy means another worker is mid-send for the same subject. The job
// comes back shortly without burning an attempt.
var ErrBusy = errors.New("notification in flight for subject")

// Provider is one delivery backend.
type Provider interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Message is one rendered notification.
type Message struct {
	Kind      db.NotifyKind
	Severity  db.Severity
	Title     string
	Body      string
	Recipient string
	Fields    []Field
	Timestamp time.Time
}

type Field struct {
	Title string
	Value string
	Short bool
}

// SendError classifies a provider failure. Transient failures retry with
// backoff; permanent ones burn the attempt and stop.
type SendError struct {
	Provider  string
	Status    int
	Msg       string
	Transient bool
}

func (e *SendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

// IsPermanent reports whether the failure should not be retried. Unknown
// errors count as transient so infrastructure blips get another shot.
func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && !se.Transient
}
