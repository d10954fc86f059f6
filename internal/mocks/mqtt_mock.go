package mocks

import (
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// MockMQTTClient is a mock implementation of the MQTTClient interface.
// It also remembers the handler of every subscription so tests can deliver messages.
type MockMQTTClient struct {
	mock.Mock

	handlersMu sync.Mutex
	handlers   map[string]mqtt.MessageHandler
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(topic, qos, callback)
	token := args.Get(0).(mqtt.Token)
	if token.Error() == nil {
		m.handlersMu.Lock()
		if m.handlers == nil {
			m.handlers = make(map[string]mqtt.MessageHandler)
		}
		m.handlers[topic] = callback
		m.handlersMu.Unlock()
	}
	return token
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	args := m.Called(topics)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

// Deliver hands payload to the handler subscribed to topic. It reports false when nothing is subscribed.
func (m *MockMQTTClient) Deliver(topic string, payload []byte) bool {
	m.handlersMu.Lock()
	handler := m.handlers[topic]
	m.handlersMu.Unlock()
	if handler == nil {
		return false
	}
	handler(nil, NewMockMessage(topic, payload))
	return true
}
