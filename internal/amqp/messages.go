package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"saldo/internal/core"
)

// LedgerEventMessage announces a committed ledger change. It carries ids
// only; consumers read the current state from the database.
type LedgerEventMessage struct {
	MessageID string            `json:"message_id"`
	Action    core.ChangeAction `json:"action"`
	EventID   int64             `json:"event_id"`
	UserID    int64             `json:"user_id"`
	Kind      core.EventKind    `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewLedgerEventMessage(change core.EventChange) *LedgerEventMessage {
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}
	return &LedgerEventMessage{
		MessageID: uuid.NewString(),
		Action:    change.Action,
		EventID:   change.EventID,
		UserID:    change.UserID,
		Kind:      change.Kind,
		Timestamp: at.UTC(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes and sanity-checks a message body.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Action {
	case core.ActionCreated, core.ActionAmended, core.ActionDeleted:
	default:
		return nil, fmt.Errorf("unknown action %q", msg.Action)
	}
	if msg.UserID <= 0 || msg.EventID <= 0 {
		return nil, fmt.Errorf("message %s lacks user or event id", msg.MessageID)
	}
	return &msg, nil
}
