package models

// Run is a scheduled group session. The backend of record owns every field;
// the engine only recomputes the derived slot counts from the buyer list.
type Run struct {
	ID          uint         `json:"id"`
	Name        string       `json:"name"`
	Date        string       `json:"date"`
	Time        string       `json:"time"`
	MaxBuyers   int          `json:"max_buyers"`
	IsLocked    bool         `json:"is_locked"`
	RaidLeaders []RaidLeader `json:"raid_leaders,omitempty"`
}
