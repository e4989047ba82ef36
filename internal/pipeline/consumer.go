package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"camguard/internal/domain"
	"camguard/internal/eventbus"
	"camguard/internal/observability/metrics"
	"camguard/pkg/logx"
)

const defaultDrainTimeout = 3 * time.Second

const (
	resultOK          = "ok"
	resultInvalid     = "invalid"
	resultNotFound    = "not_found"
	resultDecodeError = "decode_error"
	resultError       = "error"
)

// Consumer reads ingest topics from the bus and applies them to a Service.
// Events with the same key are handled in publish order; different keys run
// concurrently on separate lanes.
type Consumer struct {
	svc   *Service
	log   logx.Logger
	in    <-chan eventbus.Event
	unsub func()

	lanes        int
	laneBuffer   int
	drainTimeout time.Duration
}

// NewConsumer subscribes immediately so events delivered before Run are
// buffered, not lost. Close releases the subscription.
func NewConsumer(svc *Service, bus eventbus.Bus, log logx.Logger) *Consumer {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg := svc.config()
	in, unsub := bus.Subscribe(cfg.LaneBuffer*cfg.Lanes, IngestTopics...)
	return &Consumer{
		svc:          svc,
		log:          log.With(logx.String("comp", "pipeline.consumer")),
		in:           in,
		unsub:        unsub,
		lanes:        cfg.Lanes,
		laneBuffer:   cfg.LaneBuffer,
		drainTimeout: defaultDrainTimeout,
	}
}

func (c *Consumer) Close() { c.unsub() }

// Run dispatches until ctx is done. Events already accepted from producers
// are still handed to the lanes and handled under a context that outlives
// ctx by at most drainTimeout.
func (c *Consumer) Run(ctx context.Context) error {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopDeadline := context.AfterFunc(ctx, func() { time.AfterFunc(c.drainTimeout, cancel) })
	defer stopDeadline()

	lanes := make([]chan eventbus.Event, c.lanes)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan eventbus.Event, c.laneBuffer)
		wg.Add(1)
		go func(ch <-chan eventbus.Event) {
			defer wg.Done()
			for e := range ch {
				_ = c.Handle(hctx, e)
			}
		}(lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	c.log.Info("pipeline consumer started", logx.Int("lanes", c.lanes), logx.Int("lane_buffer", c.laneBuffer))
	for {
		select {
		case <-ctx.Done():
			c.drain(hctx, lanes, nil)
			return nil
		case e := <-c.in:
			select {
			case lanes[laneFor(e.Key, len(lanes))] <- e:
			case <-ctx.Done():
				c.drain(hctx, lanes, &e)
				return nil
			}
		}
	}
}

// drain moves buffered events into the lanes until the subscription is
// empty or hctx expires. Whatever is left then is counted as lost.
func (c *Consumer) drain(hctx context.Context, lanes []chan eventbus.Event, first *eventbus.Event) {
	n := 0
	dispatch := func(e eventbus.Event) bool {
		select {
		case lanes[laneFor(e.Key, len(lanes))] <- e:
			n++
			return true
		case <-hctx.Done():
			return false
		}
	}
	if first != nil && !dispatch(*first) {
		c.log.Warn("pipeline drain deadline reached", logx.Int("drained", n), logx.Int("lost", 1+len(c.in)))
		return
	}
	for {
		select {
		case e := <-c.in:
			if !dispatch(e) {
				c.log.Warn("pipeline drain deadline reached", logx.Int("drained", n), logx.Int("lost", 1+len(c.in)))
				return
			}
		default:
			if n > 0 {
				c.log.Info("pipeline drained on shutdown", logx.Int("events", n))
			}
			return
		}
	}
}

func laneFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Handle applies one event. Errors are logged and counted; the returned
// error is only informational.
func (c *Consumer) Handle(ctx context.Context, e eventbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			c.log.Error("pipeline handler panicked", logx.String("topic", e.Topic), logx.String("key", e.Key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			metrics.IncPipelineEvent(e.Topic, resultError)
		}
	}()

	switch e.Topic {
	case TopicVehicleObserved:
		var v domain.VehicleObservation
		if err = eventbus.Decode(e, &v); err == nil {
			_, err = c.svc.OnVehicleObserved(ctx, v)
		} else {
			err = decodeError{err}
		}
	case TopicVehicleUpdated:
		var v domain.VehicleObservation
		if err = eventbus.Decode(e, &v); err == nil {
			if v.ID == "" {
				v.ID = e.Key
			}
			_, err = c.svc.OnVehicleUpdated(ctx, v)
		} else {
			err = decodeError{err}
		}
	case TopicAlertCreated:
		var a domain.AlertCandidate
		if err = eventbus.Decode(e, &a); err == nil {
			_, err = c.svc.CreateAlert(ctx, a)
		} else {
			err = decodeError{err}
		}
	default:
		return nil
	}

	result := classify(err)
	metrics.IncPipelineEvent(e.Topic, result)
	if err != nil {
		c.log.Warn("pipeline event rejected",
			logx.String("topic", e.Topic),
			logx.String("key", e.Key),
			logx.String("result", result),
			logx.Err(err),
		)
	}
	return err
}

type decodeError struct{ err error }

func (d decodeError) Error() string { return "decode: " + d.err.Error() }
func (d decodeError) Unwrap() error { return d.err }

func classify(err error) string {
	switch {
	case err == nil:
		return resultOK
	case domain.IsValidation(err):
		return resultInvalid
	case domain.IsNotFound(err):
		return resultNotFound
	}
	if _, ok := err.(decodeError); ok {
		return resultDecodeError
	}
	return resultError
}
