package models

import "time"

// Result is the outcome of the last backup or restore run.
type Result string

const (
	ResultUnknown   Result = "UNKNOWN"
	ResultRunning   Result = "RUNNING"
	ResultSuccess   Result = "SUCCESS"
	ResultFailure   Result = "FAILURE"
	ResultStale     Result = "STALE"
	ResultInterrupt Result = "INTERRUPT"
)

// Action identifies which operation a RUNNING status belongs to.
type Action string

const (
	ActionBackup  Action = "backup"
	ActionRestore Action = "restore"
)

// HeartbeatInterval is how often a running operation re-persists its status.
// A stored RUNNING status older than twice this interval is considered stale.
const HeartbeatInterval = 5 * time.Second

// Status holds the persisted run state of one backup instance.
type Status struct {
	LastResult  Result
	LastDate    *time.Time
	LastSuccess *time.Time
	Details     string
	Action      Action
	PID         int

	LastNotificationID   string
	LastNotificationDate *time.Time
}

// NewStatus returns the initial status of a freshly created instance.
func NewStatus() *Status {
	return &Status{LastResult: ResultUnknown}
}

// CurrentStatus re-derives the effective result from the stored one.
//
// A stored RUNNING is never trusted verbatim: if the recorded pid is not
// alive the run was interrupted, and if the heartbeat has not been refreshed
// within twice its interval the run is stale. This derivation must happen on
// every read.
func (s *Status) CurrentStatus(pidAlive func(pid int) bool, now time.Time) Result {
	if s.LastResult != ResultRunning {
		return s.LastResult
	}
	if s.PID <= 0 || !pidAlive(s.PID) {
		return ResultInterrupt
	}
	if s.LastDate != nil && now.Sub(*s.LastDate) > 2*HeartbeatInterval {
		return ResultStale
	}
	return ResultRunning
}
