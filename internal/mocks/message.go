package mocks

import (
	"encoding/json"

	"github.com/maartendamen/houseagent-latitude/internal/models"
)

// MockMessage implements mqtt.Message for testing
type MockMessage struct {
	payload  []byte
	topic    string
	qos      byte
	retained bool
}

// NewMockMessage creates a QoS 1 message that is not retained.
func NewMockMessage(topic string, payload []byte) *MockMessage {
	return &MockMessage{payload: payload, topic: topic, qos: 1}
}

// NewActionMessage encodes req as an action request message.
func NewActionMessage(topic string, req models.ActionRequest) *MockMessage {
	payload, _ := json.Marshal(req)
	return NewMockMessage(topic, payload)
}

func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return m.qos }
func (m *MockMessage) Retained() bool    { return m.retained }
func (m *MockMessage) MessageID() uint16 { return 1 }
func (m *MockMessage) Ack()              {}
