package events

import (
	"context"
	"errors"
	"time"
)

// Type names what happened to a group.
type Type string

// Group event types. The value is also the last MQTT topic segment.
const (
	GroupCreated      Type = "created"
	GroupDeleted      Type = "deleted"
	MembershipChanged Type = "devices"
	PackagesChanged   Type = "packages"
	PolicyChanged     Type = "policy"
)

// GroupEvent describes one committed group mutation.
type GroupEvent struct {
	Type    Type  `json:"type"`
	GroupID int64 `json:"group_id"`

	// Version is the group version after the change. Zero for GroupDeleted.
	Version int64 `json:"version"`

	// State after the change. Empty for GroupDeleted.
	Policy   string  `json:"policy,omitempty"`
	Packages []int64 `json:"packages"`
	Devices  []int64 `json:"devices"`

	// Added and Removed are set for MembershipChanged.
	Added   []int64 `json:"added,omitempty"`
	Removed []int64 `json:"removed,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Sink consumes group events.
type Sink interface {
	Publish(ctx context.Context, event GroupEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event GroupEvent) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, event GroupEvent) error {
	return f(ctx, event)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, GroupEvent) error { return nil })

// Fanout publishes each event to every sink, continuing past failures.
type Fanout []Sink

// Publish delivers event to all sinks and joins their errors.
func (f Fanout) Publish(ctx context.Context, event GroupEvent) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
