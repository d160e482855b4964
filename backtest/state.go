package backtest

// State is the position of the engine in its daily cycle.
type State int32

const (
	Idle State = iota
	Running
	RebalanceDue
	AgentsEvaluated
	OrdersResolved
	SnapshotRecorded
	Finished
)

var stateNames = [...]string{
	Idle:             "idle",
	Running:          "running",
	RebalanceDue:     "rebalance_due",
	AgentsEvaluated:  "agents_evaluated",
	OrdersResolved:   "orders_resolved",
	SnapshotRecorded: "snapshot_recorded",
	Finished:         "finished",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
