package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"camguard/internal/domain"
	"camguard/internal/eventbus"
	"camguard/pkg/logx"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestConsumerKeepsPerKeyOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Lanes: 4, LaneBuffer: 4})
	c := NewConsumer(h.svc, h.bus, logx.Nop())
	defer c.Close()

	states, unsub := h.bus.Subscribe(256, TopicVehicleStateUpdated)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	const vehicles = 20
	for i := 0; i < vehicles; i++ {
		id := fmt.Sprintf("v%02d", i)
		if err := h.bus.Deliver(ctx, eventbus.Event{Topic: TopicVehicleObserved, Key: id, Data: raw(t, sighting(id))}); err != nil {
			t.Fatalf("Deliver observed: %v", err)
		}
		if err := h.bus.Deliver(ctx, eventbus.Event{Topic: TopicVehicleUpdated, Key: id, Data: raw(t, map[string]string{"id": id})}); err != nil {
			t.Fatalf("Deliver updated: %v", err)
		}
	}

	seen := map[string]bool{}
	timeout := time.After(3 * time.Second)
	for len(seen) < vehicles {
		select {
		case e := <-states:
			seen[e.Key] = true
		case <-timeout:
			t.Fatalf("state updates for %d vehicles, want %d (an update overtook its sighting?)", len(seen), vehicles)
		}
	}
}

func TestConsumerDrainsAcceptedEventsOnShutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Lanes: 2, LaneBuffer: 4})
	c := NewConsumer(h.svc, h.bus, logx.Nop())
	defer c.Close()

	// Deliver returns once the subscription holds the event, which is when
	// the HTTP ingest answers 202.
	const n = 6
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("v%02d", i)
		if err := h.bus.Deliver(context.Background(), eventbus.Event{Topic: TopicVehicleObserved, Key: id, Data: raw(t, sighting(id))}); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("v%02d", i)
		if _, err := h.store.GetVehicle(context.Background(), id); err != nil {
			t.Fatalf("vehicle %s lost on shutdown: %v", id, err)
		}
	}
}

func TestHandleClassifiesResults(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	c := NewConsumer(h.svc, h.bus, logx.Nop())
	defer c.Close()
	ctx := context.Background()

	if err := c.Handle(ctx, eventbus.Event{Topic: TopicVehicleObserved, Data: json.RawMessage(`{"id":`)}); classify(err) != resultDecodeError {
		t.Fatalf("bad json classified as %q (%v)", classify(err), err)
	}
	if err := c.Handle(ctx, eventbus.Event{Topic: TopicVehicleUpdated, Key: "ghost", Data: json.RawMessage(`{}`)}); classify(err) != resultNotFound {
		t.Fatalf("unknown vehicle classified as %q (%v)", classify(err), err)
	}
	if err := c.Handle(ctx, eventbus.Event{Topic: TopicAlertCreated, Data: json.RawMessage(`{"cameraId":"cam-1"}`)}); classify(err) != resultInvalid {
		t.Fatalf("invalid alert classified as %q (%v)", classify(err), err)
	}
	a := domain.AlertCandidate{CameraID: "cam-1", Type: "parking", Severity: "high", Description: "d", VehicleID: "v1"}
	if err := c.Handle(ctx, eventbus.Event{Topic: TopicAlertCreated, Key: "cam-1", Data: raw(t, a)}); err != nil {
		t.Fatalf("valid alert: %v", err)
	}
	if err := c.Handle(ctx, eventbus.Event{Topic: "unrelated"}); err != nil {
		t.Fatalf("unrelated topic: %v", err)
	}
}

func TestLaneForIsStable(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"", "v1", "cam-7"} {
		a, b := laneFor(k, 8), laneFor(k, 8)
		if a != b || a < 0 || a >= 8 {
			t.Fatalf("laneFor(%q) = %d, %d", k, a, b)
		}
	}
}
