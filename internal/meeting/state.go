// File: internal/meeting/state.go
package meeting

// State is the lifecycle position of a Session. Transitions are strictly
// forward except for the chat-open retreat (ChatOpening back to Joined) and
// the universal jumps to Leaving and Failed.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StatePasscodeEntry
	StateJoining
	StateJoined
	StateChatOpening
	StateChatReady
	StateLeaving
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePasscodeEntry:
		return "passcode_entry"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateChatOpening:
		return "chat_opening"
	case StateChatReady:
		return "chat_ready"
	case StateLeaving:
		return "leaving"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// InMeeting reports whether the session believes it is inside the meeting.
func (s State) InMeeting() bool {
	return s == StateJoined || s == StateChatOpening || s == StateChatReady
}
