package service_registry

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maartendamen/houseagent-latitude/internal/bridge"
	"github.com/maartendamen/houseagent-latitude/internal/mocks"
	"github.com/maartendamen/houseagent-latitude/internal/services"
	"github.com/maartendamen/houseagent-latitude/internal/utils"
)

// recordingService appends its lifecycle events to a shared log.
type recordingService struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (s *recordingService) Start() error {
	*s.log = append(*s.log, "start "+s.name)
	return s.startErr
}

func (s *recordingService) Stop() error {
	*s.log = append(*s.log, "stop "+s.name)
	return s.stopErr
}

func newTestRegistry(t *testing.T) *ServiceRegistry {
	t.Helper()
	b, err := bridge.New(new(mocks.MockMQTTClient), bridge.Options{
		TopicPrefix:        "houseagent/plugins/latitude",
		QOS:                1,
		ProtocolConstraint: ">= 1.0.0",
	}, zerolog.Nop())
	require.NoError(t, err)
	return NewServiceRegistry(b, new(mocks.MockRepository), nil, nil, zerolog.Nop())
}

func TestServiceRegistry_StartStopOrder(t *testing.T) {
	// Setup
	var events []string
	sr := newTestRegistry(t)
	sr.RegisterService("a", &recordingService{name: "a", log: &events})
	sr.RegisterService("b", &recordingService{name: "b", log: &events})
	sr.RegisterService("a", &recordingService{name: "dup", log: &events})

	// Execute
	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())

	// Assert
	assert.Equal(t, []string{"a", "b"}, sr.Names())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestServiceRegistry_StartFailureRollsBack(t *testing.T) {
	// Setup
	var events []string
	sr := newTestRegistry(t)
	sr.RegisterService("a", &recordingService{name: "a", log: &events})
	sr.RegisterService("b", &recordingService{name: "b", log: &events})
	sr.RegisterService("c", &recordingService{name: "c", log: &events, startErr: errors.New("port in use")})

	// Execute
	err := sr.StartServices()

	// Assert
	assert.EqualError(t, err, "failed to start c: port in use")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, events)
}

func TestServiceRegistry_StopJoinsErrors(t *testing.T) {
	var events []string
	sr := newTestRegistry(t)
	sr.RegisterService("a", &recordingService{name: "a", log: &events, stopErr: errors.New("boom")})
	sr.RegisterService("b", &recordingService{name: "b", log: &events, stopErr: errors.New("bang")})

	err := sr.StopServices()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop a: boom")
	assert.Contains(t, err.Error(), "failed to stop b: bang")
	assert.Equal(t, []string{"stop b", "stop a"}, events)
}

func TestServiceRegistry_RegisterServices(t *testing.T) {
	tests := []struct {
		name      string
		heartbeat bool
		web       bool
		expected  []string
	}{
		{"all", true, true, []string{"latitude", "heartbeat", "web"}},
		{"no heartbeat", false, true, []string{"latitude", "web"}},
		{"latitude only", false, false, []string{"latitude"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := utils.DefaultConfig()
			config.Heartbeat.Enabled = tt.heartbeat
			config.Web.Enabled = tt.web
			sr := newTestRegistry(t)

			require.NoError(t, sr.RegisterServices(config))

			assert.Equal(t, tt.expected, sr.Names())
			require.NotNil(t, sr.Latitude())
			assert.Same(t, sr.Latitude(), sr.services["latitude"].(*services.LatitudeService))
		})
	}
}

func TestServiceRegistry_RegisterServicesWithoutBridge(t *testing.T) {
	sr := NewServiceRegistry(nil, new(mocks.MockRepository), nil, nil, zerolog.Nop())

	err := sr.RegisterServices(utils.DefaultConfig())

	assert.EqualError(t, err, "services require an MQTT bridge")
	assert.Empty(t, sr.Names())
}
