// Package relay connects the controller to everything that consumes its
// events: persisted state, the event log, the terminal display. It also
// turns page loads into page-ready signals for the controller.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/chr1sbest/autoinvite/internal/logger"
	"github.com/chr1sbest/autoinvite/internal/message"
	"github.com/chr1sbest/autoinvite/internal/resilience"
)

// Sink consumes events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev message.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev message.Event) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Handle(ctx context.Context, ev message.Event) error { return s.Fn(ctx, ev) }

// Hub fans events out to sinks in registration order. Each sink sits behind
// its own circuit breaker so a failing sink is skipped instead of slowing
// every publish.
type Hub struct {
	mu       sync.Mutex
	sinks    []Sink
	breakers *resilience.CircuitBreakerRegistry
	log      logger.Logger
	ctx      context.Context
}

// NewHub creates a hub. log may be nil.
func NewHub(log logger.Logger, breaker resilience.CircuitBreakerConfig) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		breakers: resilience.NewCircuitBreakerRegistry(breaker),
		log:      logger.Component(log, "relay"),
		ctx:      context.Background(),
	}
}

// Add registers a sink.
func (h *Hub) Add(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cb := h.breakers.Get(s.Name(), nil)
	name := s.Name()
	cb.OnStateChange(func(from, to resilience.CircuitState) {
		h.log.Warn("sink circuit changed", logger.F("sink", name), logger.F("from", from.String()), logger.F("to", to.String()))
	})
	h.sinks = append(h.sinks, s)
}

// Publish delivers ev to every sink. Sink errors are logged, never
// returned; the controller must not stall on its observers.
func (h *Hub) Publish(ev message.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sinks {
		cb := h.breakers.Get(s.Name(), nil)
		err := cb.Execute(h.ctx, func(ctx context.Context) error {
			return s.Handle(ctx, ev)
		})
		if err != nil && err != resilience.ErrCircuitOpen {
			h.log.Warn("sink failed", logger.F("sink", s.Name()), logger.F("error", err))
		}
	}
}

// SinkState reports the breaker state of a sink.
func (h *Hub) SinkState(name string) (resilience.CircuitState, bool) {
	return h.breakers.State(name)
}

// ResetSinks closes every sink breaker, giving failed sinks another chance.
func (h *Hub) ResetSinks() {
	h.breakers.ResetAll()
}

// LogSink writes status updates to the structured log.
type LogSink struct {
	Log logger.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Handle(_ context.Context, ev message.Event) error {
	switch ev.Type {
	case message.EventAnomalyDetected:
		s.Log.Warn("anomaly detected", logger.F("kind", ev.Kind), logger.F("run_id", ev.RunID))
	case message.EventStatusUpdate:
		if ev.Data == nil {
			return nil
		}
		fields := []logger.Field{
			logger.F("phase", ev.Phase),
			logger.F("page", ev.Data.CurrentPage),
			logger.F("primary", ev.Data.PrimaryCount),
			logger.F("secondary", ev.Data.SecondaryCount),
		}
		switch ev.Data.Type {
		case message.LevelError:
			s.Log.Error(ev.Data.Message, fields...)
		case message.LevelWarning:
			s.Log.Warn(ev.Data.Message, fields...)
		default:
			s.Log.Info(ev.Data.Message, fields...)
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
