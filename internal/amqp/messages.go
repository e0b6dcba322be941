package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a change to a group's ledger.
type EventType string

const (
	EventGroupCreated       EventType = "group.created"
	EventGroupDeleted       EventType = "group.deleted"
	EventMemberJoined       EventType = "member.joined"
	EventMemberLeft         EventType = "member.left"
	EventOwnerChanged       EventType = "group.owner_changed"
	EventExpenseCreated     EventType = "expense.created"
	EventExpenseUpdated     EventType = "expense.updated"
	EventExpenseDeleted     EventType = "expense.deleted"
	EventSettlementRecorded EventType = "settlement.recorded"
)

// LedgerEvent is a lightweight notification. It carries identifiers only;
// consumers load the group from storage to see the change.
type LedgerEvent struct {
	Type      EventType `json:"type"`
	GroupID   string    `json:"group_id"`
	EntityID  string    `json:"entity_id,omitempty"`
	Version   int       `json:"version,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(typ EventType, groupID, entityID string, version int, actorID string) *LedgerEvent {
	return &LedgerEvent{
		Type:      typ,
		GroupID:   groupID,
		EntityID:  entityID,
		Version:   version,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
	}
}

// TouchesHistory reports whether the event appended an expense version or
// a settlement.
func (m *LedgerEvent) TouchesHistory() bool {
	switch m.Type {
	case EventExpenseCreated, EventExpenseUpdated, EventExpenseDeleted, EventSettlementRecorded:
		return true
	}
	return false
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and checks a delivery body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" || msg.GroupID == "" {
		return nil, fmt.Errorf("ledger event missing type or group_id")
	}
	return &msg, nil
}
