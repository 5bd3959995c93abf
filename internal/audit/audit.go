package audit

import "time"

// Event type constants for the gate security log.
const (
	EventSessionBegin    = "SESSION_BEGIN"
	EventSessionEnd      = "SESSION_END"
	EventSwitch          = "SWITCH"
	EventSwitchDenied    = "SWITCH_DENIED"
	EventSweepAbandoned  = "SWEEP_ABANDONED"
	EventHistoryDegraded = "HISTORY_DEGRADED"
	EventProvision       = "PROVISION"
	EventDeprovision     = "DEPROVISION"
)

// Event is a single security log entry. Entries are hash-chained so
// tampering with the log is detectable.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SID       string    `json:"sid,omitempty"`
	Type      string    `json:"event_type"`
	Principal string    `json:"principal,omitempty"`
	Peer      string    `json:"peer,omitempty"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	EntryHash string    `json:"entry_hash"`
}
