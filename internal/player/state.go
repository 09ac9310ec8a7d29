package player

// State is the lifecycle state of a playback session
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateFailed  State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Event drives Transition
type Event int

const (
	EventLoad Event = iota
	// EventReady is a loaded session that is not playing yet
	EventReady
	EventPlay
	EventPause
	EventEnded
	EventFail
)

// Transition returns the next state. Failed absorbs every event.
func Transition(s State, e Event) State {
	if s == StateFailed {
		return s
	}
	switch e {
	case EventFail:
		return StateFailed
	case EventLoad:
		return StateLoading
	}
	if s == StateIdle {
		return s
	}
	switch e {
	case EventReady:
		if s == StateLoading {
			return StatePaused
		}
	case EventPlay:
		return StatePlaying
	case EventPause, EventEnded:
		return StatePaused
	}
	return s
}

// Action is what the engine does in response to a stream error
type Action int

const (
	ActionLog Action = iota
	ActionRetryLoad
	ActionRecoverMedia
	ActionFallback
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionLog:
		return "log"
	case ActionRetryLoad:
		return "retry_load"
	case ActionRecoverMedia:
		return "recover_media"
	case ActionFallback:
		return "fallback"
	default:
		return "fail"
	}
}

// Situation is the session context Decide needs
type Situation struct {
	// ActiveURL and FallbackURL are both in proxied form; FallbackURL is empty when none is configured
	ActiveURL   string
	FallbackURL string
	// NetworkRetries counts fatal network errors seen by this session
	NetworkRetries int
	// NetworkRetryLimit of 0 retries forever
	NetworkRetryLimit int
}

// Decide picks the recovery action for a stream error
func Decide(err *StreamError, s Situation) Action {
	switch Classify(err) {
	case ClassTransient:
		return ActionLog
	case ClassNetworkFatal:
		if s.NetworkRetryLimit <= 0 || s.NetworkRetries < s.NetworkRetryLimit {
			return ActionRetryLoad
		}
	case ClassMediaFatal:
		return ActionRecoverMedia
	}
	if s.FallbackURL != "" && s.FallbackURL != s.ActiveURL {
		return ActionFallback
	}
	return ActionFail
}
