package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fleetwatch/fleetwatch/internal/db"
	"github.com/fleetwatch/fleetwatch/internal/queue"
)

// Reminders finds OPEN incidents due another notification and enqueues
// notify jobs, bundling per machine when the client opted into grouping.
// Delivery re-checks the cooldown, so racing the outbox path is safe.
func (n *Notifier) Reminders(ctx context.Context) error {
	candidates, err := n.repo.ListReminderCandidates(n.cfg.DefaultReminderMinutes * 60)
	if err != nil {
		return fmt.Errorf("failed to list reminder candidates: %w", err)
	}

	now := time.Now()
	var singles []*db.ReminderCandidate
	groups := make(map[string][]*db.ReminderCandidate)

	for _, c := range candidates {
		if !ReminderDue(c.LastSuccessAt, c.CooldownSeconds, now) {
			continue
		}
		if c.GroupingEnabled && c.MachineID != nil {
			groups[*c.MachineID] = append(groups[*c.MachineID], c)
			continue
		}
		singles = append(singles, c)
	}

	pushed := 0
	for _, c := range singles {
		job := &queue.Job{
			Kind:       queue.KindNotify,
			Notify:     string(db.NotifyReminder),
			ClientID:   c.ClientID,
			IncidentID: c.ID,
		}
		if err := n.queue.Push(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue reminder: %w", err)
		}
		pushed++
	}

	for machineID, members := range groups {
		bundle, rest := bundleByWindow(members)

		if len(bundle) == 1 {
			rest = append(rest, bundle[0])
			bundle = nil
		}
		if len(bundle) > 0 {
			ids := make([]string, len(bundle))
			for i, c := range bundle {
				ids[i] = c.ID
			}
			job := &queue.Job{
				Kind:        queue.KindNotify,
				Notify:      string(db.NotifyReminder),
				ClientID:    bundle[0].ClientID,
				MachineID:   machineID,
				IncidentIDs: ids,
			}
			if err := n.queue.Push(ctx, job); err != nil {
				return fmt.Errorf("failed to enqueue grouped reminder: %w", err)
			}
			pushed++
		}

		for _, c := range rest {
			job := &queue.Job{
				Kind:       queue.KindNotify,
				Notify:     string(db.NotifyReminder),
				ClientID:   c.ClientID,
				MachineID:  machineID,
				IncidentID: c.ID,
			}
			if err := n.queue.Push(ctx, job); err != nil {
				return fmt.Errorf("failed to enqueue reminder: %w", err)
			}
			pushed++
		}
	}

	if pushed > 0 {
		n.logger.Debug("Enqueued reminder jobs", zap.Int("count", pushed))
	}
	return nil
}

// ReminderDue is the cooldown law: never-notified incidents are always
// due, cooldown zero means every sweep is due.
func ReminderDue(lastSuccess *time.Time, cooldownSeconds int, now time.Time) bool {
	if cooldownSeconds <= 0 || lastSuccess == nil {
		return true
	}
	return now.Sub(*lastSuccess) >= time.Duration(cooldownSeconds)*time.Second
}

// bundleByWindow keeps the incidents whose due times fall inside the
// grouping window of the earliest one; stragglers go out individually.
func bundleByWindow(members []*db.ReminderCandidate) (bundle, rest []*db.ReminderCandidate) {
	sort.Slice(members, func(i, j int) bool {
		return dueAt(members[i]).Before(dueAt(members[j]))
	})

	earliest := dueAt(members[0])
	window := time.Duration(members[0].GroupingWindowSeconds) * time.Second
	for _, c := range members {
		if dueAt(c).Sub(earliest) <= window {
			bundle = append(bundle, c)
		} else {
			rest = append(rest, c)
		}
	}
	return bundle, rest
}

// dueAt is when the candidate became (or becomes) due: opening time when
// never notified, last success plus cooldown otherwise.
func dueAt(c *db.ReminderCandidate) time.Time {
	if c.LastSuccessAt == nil {
		return c.OpenedAt
	}
	return c.LastSuccessAt.Add(time.Duration(c.CooldownSeconds) * time.Second)
}
