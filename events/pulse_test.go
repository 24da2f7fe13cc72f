package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakePulseStream struct {
	added []string
}

func (s *fakePulseStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.added = append(s.added, event)
	return "1-0", nil
}

func TestPulseBusPublishAddsToStream(t *testing.T) {
	stream := &fakePulseStream{}
	streamer := func(name string) (pulseStream, error) {
		if name != "agentmesh.events" {
			t.Fatalf("unexpected stream name %q", name)
		}
		return stream, nil
	}

	bus, err := NewPulseBus(streamer)
	if err != nil {
		t.Fatalf("NewPulseBus() error = %v", err)
	}

	evt := Event{Type: ScalingEvent, AgentID: "a1", At: time.Now(), Payload: ScalingPayload("scaleUp", 1, 2, "loadRatio")}
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(stream.added) != 1 || stream.added[0] != string(ScalingEvent) {
		t.Fatalf("expected one Add call for %q, got %v", ScalingEvent, stream.added)
	}
}

func TestNewPulseBusPropagatesStreamerError(t *testing.T) {
	streamer := func(name string) (pulseStream, error) { return nil, errors.New("stream open failed") }
	if _, err := NewPulseBus(streamer); err == nil {
		t.Fatal("expected NewPulseBus to propagate the streamer error")
	}
}

func TestPulseBusPublishMarshalsEventEnvelope(t *testing.T) {
	var captured []byte
	stream := &capturingPulseStream{capture: &captured}
	bus, err := NewPulseBus(func(string) (pulseStream, error) { return stream, nil })
	if err != nil {
		t.Fatalf("NewPulseBus() error = %v", err)
	}

	evt := Event{Type: InstanceCreated, InstanceID: "i1", At: time.Now()}
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(captured, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Type != InstanceCreated || decoded.InstanceID != "i1" {
		t.Fatalf("decoded event = %+v, want Type=%s InstanceID=i1", decoded, InstanceCreated)
	}
}

type capturingPulseStream struct {
	capture *[]byte
}

func (s *capturingPulseStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	*s.capture = payload
	return "1-0", nil
}
