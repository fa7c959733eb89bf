package action

// StateChange describes one state-observer notification. Observers are called
// once per commit with the previous and new state, and additionally once per
// failed dispatch with Next equal to Previous and Err set.
type StateChange[S any] struct {
	ActionType string
	Seq        uint64
	Previous   S
	Next       S
	Err        error
}

// StateObserver receives state transitions in registration order. For a given
// dispatch, the start notification always precedes any state change, which
// always precedes the end notification.
type StateObserver[S any] func(change StateChange[S])

// DispatchPhase distinguishes the two dispatch-observer notifications.
type DispatchPhase int

const (
	DispatchStarted DispatchPhase = iota
	DispatchEnded
)

func (p DispatchPhase) String() string {
	if p == DispatchStarted {
		return "started"
	}
	return "ended"
}

// DispatchObserver is called once at dispatch start and once at dispatch end,
// carrying the monotonic dispatch counter.
type DispatchObserver func(phase DispatchPhase, actionType string, seq uint64)

// ErrorReport is handed to error observers after per-action and global
// wrapping have run. Err is the final wrapped error; Cause the original.
type ErrorReport struct {
	ActionType string
	Seq        uint64
	Err        error
	Cause      error
}

// ErrorDecision is an error observer's vote on the rethrow-or-swallow
// disposition.
type ErrorDecision int

const (
	// DecisionDefault defers to the default disposition (user-facing errors
	// are swallowed, everything else is rethrown).
	DecisionDefault ErrorDecision = iota
	// DecisionSwallow vetoes the rethrow. A single swallow vote from any
	// observer suffices, and overrides rethrow votes.
	DecisionSwallow
	// DecisionRethrow requests a rethrow even for errors the default
	// disposition would swallow.
	DecisionRethrow
)

// ErrorObserver is notified of every fully-wrapped dispatch error and votes
// on its disposition.
type ErrorObserver func(report ErrorReport) ErrorDecision
