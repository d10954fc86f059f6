package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/models"
)

type mockStatusSource struct{ mock.Mock }

func (m *mockStatusSource) Accounts() []models.Account {
	return m.Called().Get(0).([]models.Account)
}

func (m *mockStatusSource) Locations() []models.NamedLocation {
	return m.Called().Get(0).([]models.NamedLocation)
}

func (m *mockStatusSource) Sessions() map[string]string {
	return m.Called().Get(0).(map[string]string)
}

type recordingHeartbeatPublisher struct {
	mu         sync.Mutex
	heartbeats []models.Heartbeat
	err        error
}

func (p *recordingHeartbeatPublisher) PublishHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeats = append(p.heartbeats, hb)
	return p.err
}

func (p *recordingHeartbeatPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heartbeats)
}

func newStatusSource() *mockStatusSource {
	source := new(mockStatusSource)
	source.On("Accounts").Return([]models.Account{{Username: "alice"}, {Username: "bob"}})
	source.On("Locations").Return([]models.NamedLocation{{Name: "home"}})
	source.On("Sessions").Return(map[string]string{"alice": "authenticated", "bob": "unauthenticated"})
	return source
}

// TestHeartbeatService_Start_Success tests the successful start of the HeartbeatService.
func TestHeartbeatService_Start_Success(t *testing.T) {
	// Setup
	h := NewHeartbeatService("plugin-1", time.Second, newStatusSource(), &recordingHeartbeatPublisher{}, zerolog.Nop())

	// Execute
	err := h.Start()

	// Assert
	assert.NoError(t, err)

	// Try to start again (should fail)
	err = h.Start()
	assert.EqualError(t, err, "heartbeat service is already running")

	// Cleanup
	assert.NoError(t, h.Stop())
}

// TestHeartbeatService_Stop_Success tests stopping twice.
func TestHeartbeatService_Stop_Success(t *testing.T) {
	// Setup
	h := NewHeartbeatService("plugin-1", time.Second, newStatusSource(), &recordingHeartbeatPublisher{}, zerolog.Nop())
	require.NoError(t, h.Start())

	// Execute
	err := h.Stop()

	// Assert
	assert.NoError(t, err)
	assert.EqualError(t, h.Stop(), "heartbeat service is not running")
}

// TestHeartbeatService_runHeartbeatLoop_Success tests the heartbeat content.
func TestHeartbeatService_runHeartbeatLoop_Success(t *testing.T) {
	// Setup
	source := newStatusSource()
	publisher := &recordingHeartbeatPublisher{}
	h := NewHeartbeatService("plugin-1", 10*time.Millisecond, source, publisher, zerolog.Nop())

	// Execute
	require.NoError(t, h.Start())
	assert.Eventually(t, func() bool { return publisher.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop())

	// Assert
	hb := publisher.heartbeats[0]
	assert.Equal(t, "plugin-1", hb.PluginID)
	assert.Equal(t, constants.StatusAlive, hb.Status)
	assert.Equal(t, 2, hb.Accounts)
	assert.Equal(t, 1, hb.Locations)
	assert.Equal(t, "authenticated", hb.Sessions["alice"])
	assert.NotZero(t, hb.RSSBytes)
	source.AssertExpectations(t)
}

// TestHeartbeatService_runHeartbeatLoop_PublishError keeps running after a failed publish.
func TestHeartbeatService_runHeartbeatLoop_PublishError(t *testing.T) {
	// Setup
	publisher := &recordingHeartbeatPublisher{err: errors.New("publish error")}
	h := NewHeartbeatService("plugin-1", 10*time.Millisecond, newStatusSource(), publisher, zerolog.Nop())

	// Execute
	require.NoError(t, h.Start())

	// Assert
	assert.Eventually(t, func() bool { return publisher.count() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop())
}
