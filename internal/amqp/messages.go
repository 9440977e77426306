package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
)

// ImportMessage asks the worker to create one transaction. ID identifies
// the message across redeliveries so the transaction is created once.
type ImportMessage struct {
	ID        string                `json:"id"`
	Draft     core.TransactionDraft `json:"draft"`
	Timestamp time.Time             `json:"timestamp"`
}

// NewImportMessage creates a message with a fresh id.
func NewImportMessage(draft core.TransactionDraft) *ImportMessage {
	return &ImportMessage{
		ID:        uuid.NewString(),
		Draft:     draft,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ImportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ImportMessageFromJSON decodes a message. A message without an id is
// rejected.
func ImportMessageFromJSON(data []byte) (*ImportMessage, error) {
	var msg ImportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("import message has no id")
	}
	return &msg, nil
}
