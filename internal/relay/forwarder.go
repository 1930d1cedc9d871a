package relay

import (
	"context"

	"github.com/chr1sbest/autoinvite/internal/logger"
	"github.com/chr1sbest/autoinvite/internal/message"
)

// PageReadyTarget receives page-ready signals.
type PageReadyTarget interface {
	PageReady(shouldContinue bool) error
}

// StateSource exposes the persisted operator state.
type StateSource interface {
	State() message.PersistedState
}

// PageReadyForwarder turns full document loads into page-ready signals.
// Whether the run should continue is read from persisted state, which
// survives the reload.
type PageReadyForwarder struct {
	loads  <-chan struct{}
	state  StateSource
	target PageReadyTarget
	log    logger.Logger
}

func NewPageReadyForwarder(loads <-chan struct{}, state StateSource, target PageReadyTarget, log logger.Logger) *PageReadyForwarder {
	if log == nil {
		log = logger.NewNop()
	}
	return &PageReadyForwarder{loads: loads, state: state, target: target, log: logger.Component(log, "relay")}
}

// Message builds the signal for the current persisted state.
func (f *PageReadyForwarder) Message() message.PageReady {
	return message.PageReady{Type: "pageReady", ShouldContinue: f.state.State().ShouldContinue()}
}

// Forward sends one page-ready signal.
func (f *PageReadyForwarder) Forward() error {
	msg := f.Message()
	f.log.Debug("page ready", logger.F("should_continue", msg.ShouldContinue))
	return f.target.PageReady(msg.ShouldContinue)
}

// Run forwards loads until ctx is done or the load channel closes.
func (f *PageReadyForwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-f.loads:
			if !ok {
				return nil
			}
			if err := f.Forward(); err != nil {
				return err
			}
		}
	}
}
