package node

import "fmt"

type State uint32

const (
	StateInvalid State = iota

	StateUnjoined // +Boot=Joining
	StateJoining  // t=join*retry +JoinAccepted=Joined +JoinExhausted=Idle
	StateJoined   // ->Idle
	StateIdle     // t=feed ->Sampling
	StateSampling // t=sensor +Sampled=Encoding +SampleFailed=Sleeping
	StateEncoding // t=pipeline +FrameReady=Sending +FrameOffline=Sleeping +EncodeFailed=Sleeping
	StateSending  // t=send*retry ->Sleeping
	StateSleeping // t=tx_interval ->Idle

	StateStop
)

var stateNames = [...]string{"Invalid", "Unjoined", "Joining", "Joined", "Idle", "Sampling", "Encoding", "Sending", "Sleeping", "Stop"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

type Event uint32

const (
	EventInvalid Event = iota
	EventBoot
	EventJoinAccepted
	EventJoinExhausted
	EventCycle
	EventSampled
	EventSampleFailed
	EventFrameReady
	EventFrameOffline // frame built while link is unjoined
	EventEncodeFailed
	EventSendDone
	EventWake
	EventStop
)

var eventNames = [...]string{"Invalid", "Boot", "JoinAccepted", "JoinExhausted", "Cycle", "Sampled", "SampleFailed", "FrameReady", "FrameOffline", "EncodeFailed", "SendDone", "Wake", "Stop"}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", e)
}

type edge struct {
	from State
	ev   Event
}

var transitions = map[edge]State{
	{StateUnjoined, EventBoot}:         StateJoining,
	{StateJoining, EventJoinAccepted}:  StateJoined,
	{StateJoining, EventJoinExhausted}: StateIdle,
	{StateJoined, EventCycle}:          StateIdle,
	{StateIdle, EventCycle}:            StateSampling,
	{StateSampling, EventSampled}:      StateEncoding,
	{StateSampling, EventSampleFailed}: StateSleeping,
	{StateEncoding, EventFrameReady}:   StateSending,
	{StateEncoding, EventFrameOffline}: StateSleeping,
	{StateEncoding, EventEncodeFailed}: StateSleeping,
	{StateSending, EventSendDone}:      StateSleeping,
	{StateSleeping, EventWake}:         StateIdle,
}

// Transition is total: undefined pairs return StateInvalid.
func Transition(s State, e Event) State {
	if s == StateInvalid || s > StateStop {
		return StateInvalid
	}
	if e == EventStop {
		return StateStop
	}
	if next, ok := transitions[edge{s, e}]; ok {
		return next
	}
	return StateInvalid
}
