package lifecycle

// State is the position of a Controller in its install/activate lifecycle.
type State int32

const (
	// StateParsed is the initial state: configured, nothing fetched yet.
	StateParsed State = iota
	// StateInstalling while the precache manifest is being fetched.
	StateInstalling
	// StateInstalled once every manifest entry is stored.
	StateInstalled
	// StateActivating while legacy stores are being removed.
	StateActivating
	// StateActive once the controller serves requests.
	StateActive
	// StateRedundant after a failed install. It is terminal.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}
