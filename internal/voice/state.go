// Package voice models a voice turn as an explicit finite-state machine:
// welcome playback, push-to-talk capture, processing and response playback.
package voice

// State is one of the five voice lifecycle states.
type State string

const (
	StateIdle       State = "idle"
	StatePlaying    State = "playing"
	StateReady      State = "ready"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
)

// Event drives the state machine.
type Event string

const (
	EventStart            Event = "start"
	EventPlaybackEnded    Event = "playbackEnded"
	EventMicPressed       Event = "micPressed"
	EventMicReleased      Event = "micReleased"
	EventSilenceTimeout   Event = "silenceTimeout"
	EventMaxDuration      Event = "maxDurationExceeded"
	EventResponseReceived Event = "responseReceived"
	EventError            Event = "errorOccurred"
	EventReset            Event = "reset"
)

// transitions is the single source of truth for the lifecycle. Every
// accepted (state, event) pair appears here; reset is handled separately
// because it is accepted from every state.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart: StatePlaying,
	},
	StatePlaying: {
		EventPlaybackEnded: StateReady,
	},
	StateReady: {
		EventMicPressed: StateRecording,
	},
	StateRecording: {
		EventMicReleased:    StateProcessing,
		EventSilenceTimeout: StateProcessing,
		EventMaxDuration:    StateProcessing,
	},
	StateProcessing: {
		EventResponseReceived: StatePlaying,
		EventError:            StateReady,
	},
}

// Next returns the successor state for an event. Invalid events are
// no-ops: the current state is returned with ok=false.
func Next(current State, event Event) (State, bool) {
	if event == EventReset {
		return StateIdle, true
	}
	if next, ok := transitions[current][event]; ok {
		return next, true
	}
	return current, false
}

// Valid reports whether s is one of the five defined states.
func Valid(s State) bool {
	switch s {
	case StateIdle, StatePlaying, StateReady, StateRecording, StateProcessing:
		return true
	}
	return false
}
