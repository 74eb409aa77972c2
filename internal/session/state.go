package session

// State is the lifecycle stage of one relay connection.
type State int

const (
	StateConnecting State = iota
	StateHeaderChecked
	StateUpgraded
	StateAuthenticating
	StateTopologyResolved
	StateRegistered
	StateActive
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	StateConnecting:       "connecting",
	StateHeaderChecked:    "header_checked",
	StateUpgraded:         "upgraded",
	StateAuthenticating:   "authenticating",
	StateTopologyResolved: "topology_resolved",
	StateRegistered:       "registered",
	StateActive:           "active",
	StateClosing:          "closing",
	StateClosed:           "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
