package voice

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		state State
		event Event
		next  State
		ok    bool
	}{
		{StateIdle, EventStart, StatePlaying, true},
		{StatePlaying, EventPlaybackEnded, StateReady, true},
		{StateReady, EventMicPressed, StateRecording, true},
		{StateRecording, EventMicReleased, StateProcessing, true},
		{StateRecording, EventSilenceTimeout, StateProcessing, true},
		{StateRecording, EventMaxDuration, StateProcessing, true},
		{StateProcessing, EventResponseReceived, StatePlaying, true},
		{StateProcessing, EventError, StateReady, true},

		{StateIdle, EventMicPressed, StateIdle, false},
		{StatePlaying, EventStart, StatePlaying, false},
		{StateReady, EventMicReleased, StateReady, false},
		{StateProcessing, EventMicPressed, StateProcessing, false},
		{StateProcessing, EventStart, StateProcessing, false},
	}
	for _, tc := range cases {
		next, ok := Next(tc.state, tc.event)
		if next != tc.next || ok != tc.ok {
			t.Errorf("Next(%s, %s): expected (%s, %v), got (%s, %v)",
				tc.state, tc.event, tc.next, tc.ok, next, ok)
		}
	}
}

func TestResetFromEveryState(t *testing.T) {
	states := []State{StateIdle, StatePlaying, StateReady, StateRecording, StateProcessing}
	for _, st := range states {
		next, ok := Next(st, EventReset)
		if !ok || next != StateIdle {
			t.Errorf("Reset from %s: expected idle, got (%s, %v)", st, next, ok)
		}
	}
}

// Every event sequence must land in one of the five defined states.
func TestNoUndefinedStateReachable(t *testing.T) {
	events := []Event{
		EventStart, EventPlaybackEnded, EventMicPressed, EventMicReleased,
		EventSilenceTimeout, EventMaxDuration, EventResponseReceived,
		EventError, EventReset,
	}

	seen := map[State]bool{StateIdle: true}
	frontier := []State{StateIdle}
	for len(frontier) > 0 {
		st := frontier[0]
		frontier = frontier[1:]
		for _, ev := range events {
			next, _ := Next(st, ev)
			if !Valid(next) {
				t.Fatalf("Reached undefined state %q via (%s, %s)", next, st, ev)
			}
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}

	if len(seen) != 5 {
		t.Errorf("Expected all 5 states reachable, got %d", len(seen))
	}
}
