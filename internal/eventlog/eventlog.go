package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipnet-mesh/meshbot/internal/meshid"
	"github.com/ipnet-mesh/meshbot/internal/models"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

// Log is the bounded network event journal. Advertisements are dual-writes:
// the node registry is updated first, then the event itself is appended.
// The event goes in even when the registry write fails, flagged so readers
// can tell the two stores may disagree.
type Log struct {
	store    store.RecordStore
	registry *registry.Registry
	log      zerolog.Logger
	maxSize  int

	// now is swappable for tests.
	now func() float64
}

// New creates an event log retaining at most maxSize entries.
func New(s store.RecordStore, r *registry.Registry, log zerolog.Logger, maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Log{
		store:    s,
		registry: r,
		log:      log.With().Str("component", "eventlog").Logger(),
		maxSize:  maxSize,
		now:      func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Record journals one network event. For advertisement events the node
// registry is updated first (upsert plus advert counters); the event is
// appended regardless, marked inconsistent when the registry write failed.
// After the append the log is trimmed back to its retention bound.
func (l *Log) Record(ctx context.Context, evt *models.EventRecord) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = l.now()
	}

	if evt.EventType == models.EventAdvertisement && evt.NodeID != "" {
		_, err := l.registry.RecordAdvert(ctx, registry.Observation{
			Identity: evt.NodeID,
			Name:     evt.NodeName,
			SeenAt:   evt.Timestamp,
		})
		if err != nil {
			evt.Inconsistent = true
			l.log.Warn().Err(err).
				Str("node", meshid.Prefix(evt.NodeID)).
				Msg("registry update failed, journaling advert as inconsistent")
		}
	}

	if err := l.store.AppendEvent(ctx, evt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if err := l.store.TrimEvents(ctx, l.maxSize); err != nil {
		// Retention failure is not fatal; the next append retries it.
		l.log.Warn().Err(err).Msg("event log trim failed")
	}
	return nil
}

// Recent returns the newest events, most recent first, each annotated with
// a relative age computed at read time.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.EventRecord, error) {
	events, err := l.store.RecentEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	l.annotate(events)
	return events, nil
}

// ByNode returns events whose node id contains the given fragment,
// newest first, age-annotated.
func (l *Log) ByNode(ctx context.Context, nodeID string, since float64, limit int) ([]models.EventRecord, error) {
	events, err := l.store.EventsByNode(ctx, nodeID, since, limit)
	if err != nil {
		return nil, err
	}
	l.annotate(events)
	return events, nil
}

func (l *Log) annotate(events []models.EventRecord) {
	now := l.now()
	for i := range events {
		events[i].Age = formatAge(now - events[i].Timestamp)
	}
}

// formatAge renders a duration in seconds as a human-readable "X ago"
// string.
func formatAge(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		mins := int(seconds / 60)
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case seconds < 86400:
		hours := int(seconds / 3600)
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(seconds / 86400)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
