package events

import (
	"context"
	"fmt"
	"time"
)

// ChangeWriter is the subset of *influxdb.Client used by InfluxSink.
type ChangeWriter interface {
	WriteGroupChange(groupID int64, event string, fields map[string]any, at time.Time) error
}

// InfluxSink records group events as InfluxDB points.
// Writes are non-blocking. Publish only fails when the client is closed;
// server-side rejections surface through the client's error callback.
type InfluxSink struct {
	writer ChangeWriter
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w ChangeWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// Publish writes one point per event.
func (s *InfluxSink) Publish(_ context.Context, event GroupEvent) error {
	fields := map[string]any{
		"version":  event.Version,
		"devices":  len(event.Devices),
		"packages": len(event.Packages),
		"added":    len(event.Added),
		"removed":  len(event.Removed),
	}
	if event.Policy != "" {
		fields["policy"] = event.Policy
	}

	if err := s.writer.WriteGroupChange(event.GroupID, string(event.Type), fields, event.Timestamp); err != nil {
		return fmt.Errorf("recording group %d change: %w", event.GroupID, err)
	}
	return nil
}
