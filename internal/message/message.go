// Package message defines the structured local messages exchanged between the
// operator surface, the relay and the automation controller.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action is an inbound control verb.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
	ActionReset  Action = "reset"
)

// Known reports whether a is one of the control verbs the controller accepts.
func (a Action) Known() bool {
	switch a {
	case ActionStart, ActionPause, ActionResume, ActionStop, ActionReset:
		return true
	}
	return false
}

// Command is an inbound control message from the operator surface.
type Command struct {
	Action Action `json:"action"`
}

// PageReady is sent by the relay when the underlying document finished a full
// load. ShouldContinue mirrors the persisted running-and-not-paused flag.
type PageReady struct {
	Type           string `json:"type"`
	ShouldContinue bool   `json:"shouldContinue"`
}

// ErrEmptyCommand is returned by ParseCommand for blank input.
var ErrEmptyCommand = errors.New("empty control message")

// aliases are single-key shortcuts accepted on the terminal.
var aliases = map[string]Action{
	"s": ActionStart,
	"p": ActionPause,
	"r": ActionResume,
	"q": ActionStop,
	"x": ActionStop,
}

// ParseCommand decodes one control message. Both the JSON form
// {"action":"pause"} and a bare verb (or its one-letter alias) are accepted.
// The returned command may carry an unknown action; callers decide how to
// treat it.
func ParseCommand(raw []byte) (Command, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return Command{}, ErrEmptyCommand
	}

	if strings.HasPrefix(s, "{") {
		var cmd Command
		if err := json.Unmarshal([]byte(s), &cmd); err != nil {
			return Command{}, fmt.Errorf("malformed control message: %w", err)
		}
		cmd.Action = Action(strings.ToLower(strings.TrimSpace(string(cmd.Action))))
		if cmd.Action == "" {
			return Command{}, fmt.Errorf("control message has no action: %s", s)
		}
		return cmd, nil
	}

	word := strings.ToLower(s)
	if a, ok := aliases[word]; ok {
		return Command{Action: a}, nil
	}
	return Command{Action: Action(word)}, nil
}

// EventType names an outbound event.
type EventType string

const (
	EventStatusUpdate    EventType = "statusUpdate"
	EventAnomalyDetected EventType = "anomalyDetected"
)

// Level is the severity of a status update as rendered by the operator log.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// StatusData is the payload of a statusUpdate event.
type StatusData struct {
	Message        string `json:"message"`
	Type           Level  `json:"type"`
	PrimaryCount   int    `json:"primaryActionCount"`
	SecondaryCount int    `json:"secondaryActionCount"`
	CurrentPage    int    `json:"currentPage"`
	ErrorCount     int    `json:"errorCount"`
}

// Event is an outbound notification from the controller. Data is set for
// statusUpdate events, Kind for anomalyDetected events.
type Event struct {
	Type  EventType   `json:"type"`
	Data  *StatusData `json:"data,omitempty"`
	Kind  string      `json:"kind,omitempty"`
	RunID string      `json:"runId,omitempty"`
	Phase string      `json:"phase,omitempty"`
	Time  time.Time   `json:"time"`
}

// PersistedState is the key/value record that survives process restarts.
type PersistedState struct {
	PrimaryCount   int  `json:"primaryActionCount"`
	SecondaryCount int  `json:"secondaryActionCount"`
	CurrentPage    int  `json:"currentPage"`
	IsRunning      bool `json:"isRunning"`
	IsPaused       bool `json:"isPaused"`
}

// ShouldContinue reports whether a reloaded page should pick the run back up.
func (s PersistedState) ShouldContinue() bool {
	return s.IsRunning && !s.IsPaused
}
