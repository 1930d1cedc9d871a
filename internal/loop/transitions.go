package loop

// Phase is the lifecycle phase of a run.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhasePaused   Phase = "paused"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
	PhaseFailed   Phase = "failed"
)

// Event drives phase transitions. The first five come from the operator; the
// rest are raised by the controller from page outcomes.
type Event string

const (
	EventStart            Event = "start"
	EventPause            Event = "pause"
	EventResume           Event = "resume"
	EventStop             Event = "stop"
	EventReset            Event = "reset"
	EventPageReady        Event = "pageReady"
	EventExhausted        Event = "exhausted"
	EventBlocked          Event = "blocked"
	EventFailed           Event = "failed"
	EventRetriesExhausted Event = "retriesExhausted"
	EventFatal            Event = "fatal"
	EventHalted           Event = "halted"
)

var transitions = map[Phase]map[Event]Phase{
	PhaseIdle: {
		EventStart:     PhaseRunning,
		EventPageReady: PhaseRunning,
		EventStop:      PhaseStopped,
	},
	PhaseRunning: {
		EventPause:            PhasePaused,
		EventStop:             PhaseStopping,
		EventExhausted:        PhaseStopped,
		EventBlocked:          PhasePaused,
		EventFailed:           PhaseRunning,
		EventRetriesExhausted: PhaseStopped,
		EventFatal:            PhaseFailed,
		EventPageReady:        PhaseRunning,
	},
	PhasePaused: {
		EventResume: PhaseRunning,
		EventStop:   PhaseStopped,
		EventFatal:  PhaseFailed,
	},
	PhaseStopping: {
		EventHalted: PhaseStopped,
		EventFatal:  PhaseFailed,
	},
	PhaseStopped: {
		EventStart: PhaseRunning,
		EventReset: PhaseIdle,
	},
	PhaseFailed: {
		EventStart: PhaseRunning,
		EventReset: PhaseIdle,
	},
}

// Transition returns the phase after ev. ok is false when ev does not apply
// in p, in which case p is returned unchanged.
func Transition(p Phase, ev Event) (next Phase, ok bool) {
	next, ok = transitions[p][ev]
	if !ok {
		return p, false
	}
	return next, true
}

// Phases lists every phase.
func Phases() []Phase {
	return []Phase{PhaseIdle, PhaseRunning, PhasePaused, PhaseStopping, PhaseStopped, PhaseFailed}
}

// Events lists every event.
func Events() []Event {
	return []Event{
		EventStart, EventPause, EventResume, EventStop, EventReset, EventPageReady,
		EventExhausted, EventBlocked, EventFailed, EventRetriesExhausted, EventFatal, EventHalted,
	}
}

// Halted reports whether p ends a run.
func (p Phase) Halted() bool {
	return p == PhaseStopped || p == PhaseFailed
}
