package tabs

// EventType identifies a manager notification.
type EventType string

const (
	EventTabCreated     EventType = "tab_created"
	EventTabActivated   EventType = "tab_activated"
	EventTabClosed      EventType = "tab_closed"
	EventTabRenamed     EventType = "tab_renamed"
	EventDraftSaved     EventType = "draft_saved"
	EventDraftRestored  EventType = "draft_restored"
	EventDraftCleared   EventType = "draft_cleared"
	EventSubmitStarted  EventType = "submit_started"
	EventSubmitFinished EventType = "submit_finished"
)

// Event describes a state change a renderer may want to reflect.
type Event struct {
	// Seq increases by one per event of a manager, in the order the state
	// changed. Listeners see events in Seq order.
	Seq     uint64    `json:"seq"`
	Type    EventType `json:"type"`
	TabID   string    `json:"tab_id"`
	Tab     *Tab      `json:"tab,omitempty"`
	Address string    `json:"address,omitempty"`
	Draft   *Draft    `json:"draft,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Listener receives events after the manager has released its lock, so it
// may call back into the manager. Events caused by such a call are delivered
// after the current one reaches every listener.
type Listener func(Event)
