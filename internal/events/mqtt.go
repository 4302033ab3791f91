package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/ota-core/internal/infrastructure/mqtt"
)

// Publisher is the subset of *mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes group events to the broker.
//
// Each event goes to ota/core/group/{id}/{type}. The group's current policy
// and package set are also kept as a retained message on
// ota/core/group/{id}/state so agents that connect later see it at once;
// deleting a group clears that retained message.
type MQTTSink struct {
	client Publisher
	qos    byte
	topics mqtt.Topics
}

// NewMQTTSink creates a sink publishing with the given QoS.
func NewMQTTSink(client Publisher, qos byte) *MQTTSink {
	return &MQTTSink{client: client, qos: qos}
}

// groupState is the retained payload on the state topic.
type groupState struct {
	GroupID  int64   `json:"group_id"`
	Version  int64   `json:"version"`
	Policy   string  `json:"policy"`
	Packages []int64 `json:"packages"`
	Devices  []int64 `json:"devices"`
}

// Publish sends the event and refreshes the retained state.
func (s *MQTTSink) Publish(_ context.Context, event GroupEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling group event: %w", err)
	}
	if err := s.client.Publish(s.topics.GroupEvent(event.GroupID, string(event.Type)), payload, s.qos, false); err != nil {
		return fmt.Errorf("publishing group event: %w", err)
	}

	stateTopic := s.topics.GroupState(event.GroupID)
	if event.Type == GroupDeleted {
		// An empty retained payload removes the retained message.
		if err := s.client.Publish(stateTopic, nil, s.qos, true); err != nil {
			return fmt.Errorf("clearing group state: %w", err)
		}
		return nil
	}

	state, err := json.Marshal(groupState{
		GroupID:  event.GroupID,
		Version:  event.Version,
		Policy:   event.Policy,
		Packages: event.Packages,
		Devices:  event.Devices,
	})
	if err != nil {
		return fmt.Errorf("marshalling group state: %w", err)
	}
	if err := s.client.Publish(stateTopic, state, s.qos, true); err != nil {
		return fmt.Errorf("publishing group state: %w", err)
	}
	return nil
}
