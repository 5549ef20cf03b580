package events

// Event enumerates high-level topics inside the position engine.
type Event string

const (
	EventPositionOpened   Event = "position.opened"
	EventPositionClosed   Event = "position.closed"
	EventPendingPlaced    Event = "pending.placed"
	EventPendingRemoved   Event = "pending.removed"
	EventProtectionPlaced Event = "protection.placed"
	EventAlert            Event = "alert"
	EventSyncReport       Event = "sync.report"
)
