package models

// Buyer is one paying participant of a run. Status and Paid are the only
// fields the engine mutates; everything else is owned by the backend.
type Buyer struct {
	ID     uint   `json:"id"`
	RunID  uint   `json:"id_run"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Paid   bool   `json:"is_paid"`
	Gold   int64  `json:"gold_collected"`
	Note   string `json:"note,omitempty"`
	Class  string `json:"class,omitempty"`

	// Revision orders local optimistic edits against polled backend state.
	// Never serialized; see roster.Engine.ReplaceAll.
	Revision int64 `json:"-"`
}

const (
	StatusDone    = "done"
	StatusGroup   = "group"
	StatusWaiting = "waiting"
	StatusBackup  = "backup"
	StatusNoShow  = "noshow"
	StatusClosed  = "closed"
)

// StatusPriority defines the roster sort order. Lower sorts first; unset or
// unknown statuses sink to the bottom.
func StatusPriority(status string) int {
	switch status {
	case StatusDone:
		return 1
	case StatusGroup:
		return 2
	case StatusWaiting:
		return 3
	case StatusBackup:
		return 4
	case StatusNoShow:
		return 5
	case StatusClosed:
		return 6
	default:
		return 99
	}
}

// CountsTowardSlots reports whether a status consumes one of the run's
// buyer slots. Backups, no-shows and closed buyers do not.
func CountsTowardSlots(status string) bool {
	switch status {
	case StatusDone, StatusGroup, StatusWaiting:
		return true
	}
	return false
}
