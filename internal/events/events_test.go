package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic, payload, qos, retained})
	return nil
}

type change struct {
	groupID int64
	event   string
	fields  map[string]any
	at      time.Time
}

type fakeWriter struct {
	changes []change
	err     error
}

func (w *fakeWriter) WriteGroupChange(groupID int64, event string, fields map[string]any, at time.Time) error {
	if w.err != nil {
		return w.err
	}
	w.changes = append(w.changes, change{groupID, event, fields, at})
	return nil
}

func policyEvent() GroupEvent {
	return GroupEvent{
		Type:      PolicyChanged,
		GroupID:   7,
		Version:   3,
		Policy:    "exact_match,1.2.0",
		Packages:  []int64{4, 2},
		Devices:   []int64{1},
		Timestamp: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
}

func TestMQTTSinkPublishesEventAndState(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, 1)

	if err := sink.Publish(context.Background(), policyEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}

	event := pub.messages[0]
	if event.topic != "ota/core/group/7/policy" || event.retained || event.qos != 1 {
		t.Errorf("event message = %+v", event)
	}
	var decoded GroupEvent
	if err := json.Unmarshal(event.payload, &decoded); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if decoded.Policy != "exact_match,1.2.0" || decoded.Version != 3 {
		t.Errorf("decoded event = %+v", decoded)
	}

	state := pub.messages[1]
	if state.topic != "ota/core/group/7/state" || !state.retained {
		t.Errorf("state message = %+v", state)
	}
	var st groupState
	if err := json.Unmarshal(state.payload, &st); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if st.Policy != "exact_match,1.2.0" || len(st.Packages) != 2 || st.Packages[0] != 4 {
		t.Errorf("state = %+v", st)
	}
}

func TestMQTTSinkDeleteClearsState(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, 0)

	err := sink.Publish(context.Background(), GroupEvent{Type: GroupDeleted, GroupID: 9})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	cleared := pub.messages[1]
	if cleared.topic != "ota/core/group/9/state" || !cleared.retained || len(cleared.payload) != 0 {
		t.Errorf("clear message = %+v", cleared)
	}
}

func TestMQTTSinkPublishError(t *testing.T) {
	cause := errors.New("not connected")
	sink := NewMQTTSink(&fakePublisher{err: cause}, 1)

	if err := sink.Publish(context.Background(), policyEvent()); !errors.Is(err, cause) {
		t.Errorf("Publish() error = %v, want wrapping %v", err, cause)
	}
}

func TestInfluxSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w)

	event := GroupEvent{
		Type:      MembershipChanged,
		GroupID:   3,
		Version:   2,
		Devices:   []int64{1, 2, 3},
		Added:     []int64{3},
		Removed:   []int64{4, 5},
		Timestamp: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.changes) != 1 {
		t.Fatalf("got %d writes, want 1", len(w.changes))
	}

	got := w.changes[0]
	if got.groupID != 3 || got.event != "devices" || !got.at.Equal(event.Timestamp) {
		t.Errorf("write = %+v", got)
	}
	if got.fields["devices"] != 3 || got.fields["added"] != 1 || got.fields["removed"] != 2 {
		t.Errorf("fields = %v", got.fields)
	}
	if _, ok := got.fields["policy"]; ok {
		t.Error("policy field should be omitted when empty")
	}
}

func TestInfluxSink_ClosedWriter(t *testing.T) {
	errClosed := errors.New("closed")
	sink := NewInfluxSink(&fakeWriter{err: errClosed})

	err := sink.Publish(context.Background(), policyEvent())
	if !errors.Is(err, errClosed) {
		t.Errorf("Publish() error = %v, want wrapped writer error", err)
	}
}

func TestFanout(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, GroupEvent) error {
		calls++
		return nil
	})
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	failA := SinkFunc(func(context.Context, GroupEvent) error { return errA })
	failB := SinkFunc(func(context.Context, GroupEvent) error { return errB })

	err := Fanout{failA, nil, ok, failB, ok}.Publish(context.Background(), policyEvent())

	if calls != 2 {
		t.Errorf("ok sink called %d times, want 2", calls)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Publish() error = %v, want both failures", err)
	}
	if err := (Fanout{ok}).Publish(context.Background(), policyEvent()); err != nil {
		t.Errorf("Publish() error = %v, want nil", err)
	}
	if err := Discard.Publish(context.Background(), policyEvent()); err != nil {
		t.Errorf("Discard.Publish() error = %v", err)
	}
}
