package session

// State is the position of a session in its single pass through a request.
type State int

const (
	StateCreated State = iota
	StateActionRunning
	StateSucceeded
	StateFailed
	StateCookiesPersisted
	StateNotificationScheduled
	StateAliasScheduled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActionRunning:
		return "action_running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCookiesPersisted:
		return "cookies_persisted"
	case StateNotificationScheduled:
		return "notification_scheduled"
	case StateAliasScheduled:
		return "alias_scheduled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
