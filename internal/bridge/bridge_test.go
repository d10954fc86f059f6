package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/mocks"
	"github.com/maartendamen/houseagent-latitude/internal/models"
)

func testOptions() Options {
	return Options{
		TopicPrefix:        "houseagent/plugins/latitude/",
		QOS:                1,
		ReadyDelay:         time.Millisecond,
		ProtocolConstraint: ">= 1.0.0, < 2.0.0",
		PluginID:           "plugin-1",
		Name:               "Latitude",
		Version:            "1.0.0",
	}
}

// publishRecorder captures every payload published per topic.
type publishRecorder struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (r *publishRecorder) record(args mock.Arguments) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payloads == nil {
		r.payloads = map[string][][]byte{}
	}
	topic := args.String(0)
	r.payloads[topic] = append(r.payloads[topic], args.Get(3).([]byte))
}

func (r *publishRecorder) get(topic string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.payloads[topic]...)
}

func newTestBridge(t *testing.T) (*Bridge, *mocks.MockMQTTClient, *publishRecorder) {
	t.Helper()
	client := new(mocks.MockMQTTClient)
	rec := &publishRecorder{}
	client.On("Publish", mock.Anything, byte(1), mock.Anything, mock.Anything).
		Run(rec.record).
		Return(mocks.NewCompletedToken(nil))

	b, err := New(client, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	return b, client, rec
}

func TestNew_InvalidConstraint(t *testing.T) {
	opts := testOptions()
	opts.ProtocolConstraint = "one point oh"
	_, err := New(new(mocks.MockMQTTClient), opts, zerolog.Nop())
	assert.Error(t, err)
}

func TestBridge_Topics(t *testing.T) {
	b, _, _ := newTestBridge(t)

	assert.Equal(t, "houseagent/plugins/latitude/status", b.StatusTopic())
	assert.Equal(t, "houseagent/plugins/latitude/action", b.ActionTopic())
	assert.Equal(t, "houseagent/plugins/latitude/action/response", b.ResponseTopic())
	assert.Equal(t, "houseagent/plugins/latitude/heartbeat", b.HeartbeatTopic())
	assert.Equal(t, "houseagent/plugins/latitude/value/a_b_c_d@example.com", b.ValueTopic("a/b+c#d@example.com"))
}

func TestBridge_StartAnnouncesReady(t *testing.T) {
	// Setup
	b, client, rec := newTestBridge(t)
	client.On("Subscribe", "houseagent/plugins/latitude/action", byte(1), mock.Anything).Return(mocks.NewCompletedToken(nil))
	client.On("Unsubscribe", []string{"houseagent/plugins/latitude/action"}).Return(mocks.NewCompletedToken(nil))

	// Execute
	require.NoError(t, b.Start(func(context.Context, constants.ActionKind, json.RawMessage) (any, error) { return nil, nil }))
	assert.Error(t, b.Start(nil))

	// Assert
	assert.Eventually(t, func() bool { return len(rec.get(b.StatusTopic())) == 1 }, time.Second, time.Millisecond)
	client.AssertCalled(t, "Publish", b.StatusTopic(), byte(1), true, mock.Anything)

	var ready models.ReadyMessage
	require.NoError(t, json.Unmarshal(rec.get(b.StatusTopic())[0], &ready))
	assert.Equal(t, constants.StatusReady, ready.Status)
	assert.Equal(t, "plugin-1", ready.PluginID)
	assert.Contains(t, ready.Actions, "add_account")

	// Stop publishes the offline status
	require.NoError(t, b.Stop())
	statuses := rec.get(b.StatusTopic())
	require.Len(t, statuses, 2)
	require.NoError(t, json.Unmarshal(statuses[1], &ready))
	assert.Equal(t, constants.StatusOffline, ready.Status)

	err := b.Stop()
	assert.EqualError(t, err, "bridge is not running")
}

func TestBridge_StartSubscribeFailure(t *testing.T) {
	b, client, _ := newTestBridge(t)
	client.On("Subscribe", mock.Anything, byte(1), mock.Anything).Return(mocks.NewCompletedToken(errors.New("not authorized")))

	err := b.Start(nil)
	assert.EqualError(t, err, "not authorized")
	assert.EqualError(t, b.Stop(), "bridge is not running")
}

func TestBridge_ValueUpdate(t *testing.T) {
	b, client, rec := newTestBridge(t)
	b.now = func() time.Time { return time.Date(2011, 3, 13, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, b.ValueUpdate("alice@example.com", map[string]string{"Current location": "home"}))

	client.AssertCalled(t, "Publish", "houseagent/plugins/latitude/value/alice@example.com", byte(1), false, mock.Anything)
	payloads := rec.get("houseagent/plugins/latitude/value/alice@example.com")
	require.Len(t, payloads, 1)
	assert.JSONEq(t, `{"key":"alice@example.com","values":{"Current location":"home"},"timestamp":"2011-03-13T10:00:00Z"}`, string(payloads[0]))
}

func TestBridge_ValueUpdate_PublishError(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", mock.Anything, byte(1), false, mock.Anything).Return(mocks.NewCompletedToken(errors.New("not connected")))
	b, err := New(client, testOptions(), zerolog.Nop())
	require.NoError(t, err)

	err = b.ValueUpdate("alice", map[string]string{"Current location": "home"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestBridge_Execute(t *testing.T) {
	b, _, _ := newTestBridge(t)
	var gotAction constants.ActionKind
	var gotPayload json.RawMessage
	b.handler = func(_ context.Context, action constants.ActionKind, payload json.RawMessage) (any, error) {
		gotAction, gotPayload = action, payload
		if action == constants.ActionDelAccount {
			return nil, errors.New("store unavailable")
		}
		return "OK", nil
	}

	tests := []struct {
		name       string
		request    string
		wantStatus string
		wantResult any
		wantError  string
	}{
		{"ok", `{"id":"1","version":"1.4.2","action":"del_location","payload":"home"}`, "ok", "OK", ""},
		{"no version", `{"id":"2","action":"get_locations"}`, "ok", "OK", ""},
		{"handler error", `{"id":"3","action":"del_account","payload":"bob"}`, "error", nil, "store unavailable"},
		{"too new", `{"id":"4","version":"2.0.0","action":"get_accounts"}`, "error", nil, "unsupported protocol version"},
		{"garbage version", `{"id":"5","version":"latest","action":"get_accounts"}`, "error", nil, "unsupported protocol version"},
		{"malformed", `{"id":`, "error", nil, "malformed request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.execute(context.Background(), []byte(tt.request))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantResult, resp.Result)
			if tt.wantError != "" {
				assert.Contains(t, resp.Error, tt.wantError)
			} else {
				assert.Empty(t, resp.Error)
			}
		})
	}

	b.execute(context.Background(), []byte(`{"id":"6","action":"del_location","payload":"home"}`))
	assert.Equal(t, constants.ActionDelLocation, gotAction)
	assert.JSONEq(t, `"home"`, string(gotPayload))
}

func TestBridge_Execute_GeneratesID(t *testing.T) {
	b, _, _ := newTestBridge(t)
	b.handler = func(context.Context, constants.ActionKind, json.RawMessage) (any, error) { return nil, nil }

	resp := b.execute(context.Background(), []byte(`{"action":"get_locations"}`))
	assert.Len(t, resp.ID, 36)
	assert.Equal(t, constants.ResponseStatusOK, resp.Status)
}

func TestBridge_HandleMessagePublishesResponse(t *testing.T) {
	// Setup
	b, client, rec := newTestBridge(t)
	client.On("Subscribe", b.ActionTopic(), byte(1), mock.Anything).Return(mocks.NewCompletedToken(nil))
	client.On("Unsubscribe", mock.Anything).Return(mocks.NewCompletedToken(nil))

	require.NoError(t, b.Start(func(context.Context, constants.ActionKind, json.RawMessage) (any, error) {
		return map[string][2]float64{"home": {1, 2}}, nil
	}))

	// Execute
	require.True(t, client.Deliver(b.ActionTopic(), []byte(`{"id":"abc","action":"get_locations"}`)))

	// Assert
	assert.Eventually(t, func() bool { return len(rec.get(b.ResponseTopic())) == 1 }, time.Second, time.Millisecond)
	assert.JSONEq(t,
		`{"id":"abc","action":"get_locations","status":"ok","result":{"home":[1,2]}}`,
		string(rec.get(b.ResponseTopic())[0]))

	require.NoError(t, b.Stop())

	// messages after Stop are ignored
	b.handleMessage(nil, mocks.NewActionMessage(b.ActionTopic(), models.ActionRequest{ID: "late", Action: constants.ActionGetLocations}))
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.get(b.ResponseTopic()), 1)
}

func TestBridge_PublishHeartbeat(t *testing.T) {
	b, client, rec := newTestBridge(t)

	err := b.PublishHeartbeat(context.Background(), models.Heartbeat{PluginID: "plugin-1", Status: constants.StatusAlive, Accounts: 2})
	require.NoError(t, err)

	client.AssertCalled(t, "Publish", b.HeartbeatTopic(), byte(1), false, mock.Anything)
	var hb models.Heartbeat
	require.NoError(t, json.Unmarshal(rec.get(b.HeartbeatTopic())[0], &hb))
	assert.Equal(t, 2, hb.Accounts)
}

func TestBridge_PublishCancelled(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	pending := new(mocks.MockToken)
	pending.On("Done").Return((<-chan struct{})(make(chan struct{})))
	client.On("Publish", mock.Anything, byte(1), false, mock.Anything).Return(pending)

	b, err := New(client, testOptions(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.PublishHeartbeat(ctx, models.Heartbeat{}), context.Canceled)
}

func TestBridge_OfflinePayload(t *testing.T) {
	b, _, _ := newTestBridge(t)
	var msg models.ReadyMessage
	require.NoError(t, json.Unmarshal(b.OfflinePayload(), &msg))
	assert.Equal(t, constants.StatusOffline, msg.Status)
	assert.Equal(t, "Latitude", msg.Name)
}

func TestBridge_Resubscribe(t *testing.T) {
	// Setup
	b, client, rec := newTestBridge(t)
	client.On("Subscribe", "houseagent/plugins/latitude/action", byte(1), mock.Anything).Return(mocks.NewCompletedToken(nil))
	client.On("Unsubscribe", []string{"houseagent/plugins/latitude/action"}).Return(mocks.NewCompletedToken(nil))

	// Stopped bridges ignore reconnects
	b.Resubscribe()
	client.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)

	// Execute
	require.NoError(t, b.Start(func(context.Context, constants.ActionKind, json.RawMessage) (any, error) { return nil, nil }))
	assert.Eventually(t, func() bool { return len(rec.get(b.StatusTopic())) == 1 }, time.Second, time.Millisecond)
	b.Resubscribe()

	// Assert
	client.AssertNumberOfCalls(t, "Subscribe", 2)
	statuses := rec.get(b.StatusTopic())
	require.Len(t, statuses, 2)
	var ready models.ReadyMessage
	require.NoError(t, json.Unmarshal(statuses[1], &ready))
	assert.Equal(t, constants.StatusReady, ready.Status)

	require.NoError(t, b.Stop())
}
