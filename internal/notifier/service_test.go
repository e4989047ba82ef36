package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camguard/internal/eventbus"
	"camguard/internal/storage"
	logx "camguard/pkg/logx"
)

type fakeChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Message
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func startService(t *testing.T, cfg Config, chans ...Channel) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, chans, logx.Nop(), bus, storage.NewMemory())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvents(t *testing.T, ch <-chan eventbus.Event, n int) []eventbus.Event {
	t.Helper()
	var out []eventbus.Event
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-deadline:
			t.Fatalf("got %d events, want %d", len(out), n)
		}
	}
	return out
}

func TestNotifyFansOutToEveryChannel(t *testing.T) {
	t.Parallel()
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	s, bus := startService(t, Config{Enabled: true, RatePerSec: 100}, a, b)
	sent, unsub := bus.Subscribe(8, TopicSent)
	defer unsub()

	if err := s.Notify(context.Background(), Message{Subject: "alert", Text: "vehicle parked", Priority: 9}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitEvents(t, sent, 2)
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("sent a=%d b=%d, want 1 each", a.count(), b.count())
	}
	a.mu.Lock()
	subject := a.sent[0].Subject
	a.mu.Unlock()
	if subject != "[CRITICAL] alert" {
		t.Fatalf("subject = %q", subject)
	}
	if h := s.Snapshot(); len(h) != 2 {
		t.Fatalf("history = %d, want 2", len(h))
	}
}

func TestNotifyFailureIsPublished(t *testing.T) {
	t.Parallel()
	bad := &fakeChannel{name: "bad", err: errors.New("smtp down")}
	good := &fakeChannel{name: "good"}
	s, bus := startService(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, bad, good)
	events, unsub := bus.Subscribe(8, TopicFailed, TopicSent)
	defer unsub()

	if err := s.Notify(context.Background(), Message{Key: "k1", Subject: "s", Text: "t"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	got := waitEvents(t, events, 2)
	topics := map[string]string{}
	for _, e := range got {
		var ev NotificationEvent
		if err := eventbus.Decode(e, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		topics[ev.Channel] = e.Topic
		if e.Topic == TopicFailed && ev.Error == "" {
			t.Fatal("failed event must carry the error")
		}
	}
	if topics["bad"] != TopicFailed || topics["good"] != TopicSent {
		t.Fatalf("topics = %v", topics)
	}
	if bad.count() != 2 {
		t.Fatalf("bad attempts = %d, want 2", bad.count())
	}
}

func TestNotifyDedupWindow(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{name: "a"}
	s, bus := startService(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, ch)
	events, unsub := bus.Subscribe(8, TopicSent, TopicDeduped)
	defer unsub()

	m := Message{Key: "alert:1", Subject: "s", Text: "t"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), m); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	got := waitEvents(t, events, 3)
	sent := 0
	for _, e := range got {
		if e.Topic == TopicSent {
			sent++
		}
	}
	if sent != 1 || ch.count() != 1 {
		t.Fatalf("sent events = %d, deliveries = %d, want 1", sent, ch.count())
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	key := dedupKey(Message{Key: "alert:7"})
	if err := store.PutDedup(context.Background(), key, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	ch := &fakeChannel{name: "a"}
	bus := eventbus.New()
	s := New(Config{Enabled: true, DedupWindow: time.Minute, PersistDedup: true}, []Channel{ch}, logx.Nop(), bus, store)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	events, unsub := bus.Subscribe(4, TopicDeduped)
	defer unsub()
	if err := s.Notify(context.Background(), Message{Key: "alert:7", Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitEvents(t, events, 1)
	if ch.count() != 0 {
		t.Fatal("persisted suppression window must be honored")
	}
}

func TestNotifyIntakeErrors(t *testing.T) {
	t.Parallel()
	disabled := New(Config{}, nil, logx.Nop(), nil, nil)
	if err := disabled.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}

	notStarted := New(Config{Enabled: true}, nil, logx.Nop(), nil, nil)
	if err := notStarted.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}

	s := New(Config{Enabled: true}, []Channel{&fakeChannel{name: "a"}}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err = %v", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retryDelay(%d) = %v out of bounds", attempt, d)
		}
	}
}

func TestDedupKey(t *testing.T) {
	t.Parallel()
	if dedupKey(Message{}) != "" {
		t.Fatal("empty message must not dedup")
	}
	if dedupKey(Message{Key: "a", Text: "x"}) != dedupKey(Message{Key: "a", Text: "y"}) {
		t.Fatal("explicit key must win over content")
	}
	if dedupKey(Message{Text: "x"}) == dedupKey(Message{Text: "y"}) {
		t.Fatal("content keys must differ")
	}
}
