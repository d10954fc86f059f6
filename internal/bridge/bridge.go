// Package bridge connects the plugin to the home automation host over MQTT.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/pkg/mqtt"
)

const publishTimeout = 10 * time.Second

// ErrUnsupportedVersion is returned for action requests outside the accepted protocol range.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

// Handler executes one management action and returns its result.
type Handler func(ctx context.Context, action constants.ActionKind, payload json.RawMessage) (any, error)

// Options configures topics and the announced plugin identity.
type Options struct {
	TopicPrefix        string
	QOS                int
	ReadyDelay         time.Duration
	ProtocolConstraint string
	PluginID           string
	Name               string
	Version            string
}

// Bridge publishes values and status, and serves management actions.
type Bridge struct {
	client     mqtt.MQTTClient
	opts       Options
	constraint *semver.Constraints
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	handler  Handler
	stopChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New validates opts and returns an idle Bridge.
func New(client mqtt.MQTTClient, opts Options, logger zerolog.Logger) (*Bridge, error) {
	constraint, err := semver.NewConstraint(opts.ProtocolConstraint)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol constraint %q: %w", opts.ProtocolConstraint, err)
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")

	return &Bridge{
		client:     client,
		opts:       opts,
		constraint: constraint,
		logger:     logger.With().Str("component", "bridge").Logger(),
		now:        time.Now,
	}, nil
}

func (b *Bridge) StatusTopic() string    { return b.opts.TopicPrefix + "/status" }
func (b *Bridge) ActionTopic() string    { return b.opts.TopicPrefix + "/action" }
func (b *Bridge) ResponseTopic() string  { return b.opts.TopicPrefix + "/action/response" }
func (b *Bridge) HeartbeatTopic() string { return b.opts.TopicPrefix + "/heartbeat" }
func (b *Bridge) ValueTopic(key string) string {
	return b.opts.TopicPrefix + "/value/" + topicSafe(key)
}

// topicSafe keeps a key inside a single topic level.
func topicSafe(key string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(key)
}

// OfflinePayload is the retained status to register as the connection's will.
func (b *Bridge) OfflinePayload() []byte {
	payload, _ := json.Marshal(b.statusMessage(constants.StatusOffline))
	return payload
}

func (b *Bridge) statusMessage(status string) models.ReadyMessage {
	actions := make([]string, 0, len(constants.AllActions))
	for _, a := range constants.AllActions {
		actions = append(actions, string(a))
	}
	return models.ReadyMessage{
		PluginID: b.opts.PluginID,
		Name:     b.opts.Name,
		Version:  b.opts.Version,
		Status:   status,
		Actions:  actions,
	}
}

// Start subscribes to the action topic and announces readiness after the ready delay.
func (b *Bridge) Start(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return errors.New("bridge is already running")
	}

	topic := b.ActionTopic()
	token := b.client.Subscribe(topic, byte(b.opts.QOS), b.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		return err
	}

	b.handler = handler
	b.stopChan = make(chan struct{})
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.wg.Add(1)
	go b.announceReady(b.ctx)

	b.logger.Info().Str("topic", topic).Msg("Bridge subscribed to actions")
	return nil
}

// Stop unsubscribes, waits for running actions, and publishes the offline status.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.ctx == nil {
		b.mu.Unlock()
		return errors.New("bridge is not running")
	}
	close(b.stopChan)
	b.mu.Unlock()

	topic := b.ActionTopic()
	token := b.client.Unsubscribe(topic)
	token.Wait()
	unsubErr := token.Error()
	if unsubErr != nil {
		b.logger.Error().Err(unsubErr).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
	}

	b.cancel()
	b.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	offlineErr := b.publish(ctx, b.StatusTopic(), true, b.statusMessage(constants.StatusOffline))

	b.mu.Lock()
	b.ctx, b.cancel = nil, nil
	b.mu.Unlock()

	b.logger.Info().Msg("Bridge stopped")
	return errors.Join(unsubErr, offlineErr)
}

// Resubscribe restores the action subscription and the ready status after a
// reconnect. The broker drops subscriptions of clean sessions.
func (b *Bridge) Resubscribe() {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	topic := b.ActionTopic()
	token := b.client.Subscribe(topic, byte(b.opts.QOS), b.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to resubscribe to MQTT topic")
		return
	}
	if err := b.publish(ctx, b.StatusTopic(), true, b.statusMessage(constants.StatusReady)); err != nil {
		b.logger.Error().Err(err).Msg("Failed to announce readiness")
		return
	}
	b.logger.Info().Str("topic", topic).Msg("Bridge resubscribed after reconnect")
}

func (b *Bridge) announceReady(ctx context.Context) {
	defer b.wg.Done()

	timer := time.NewTimer(b.opts.ReadyDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := b.publish(ctx, b.StatusTopic(), true, b.statusMessage(constants.StatusReady)); err != nil {
		b.logger.Error().Err(err).Msg("Failed to announce readiness")
		return
	}
	b.logger.Info().Str("topic", b.StatusTopic()).Msg("Plugin ready")
}

// ValueUpdate publishes values for key, e.g. an account's current location.
func (b *Bridge) ValueUpdate(key string, values map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	update := models.ValueUpdate{Key: key, Values: values, Timestamp: b.now().UTC()}
	if err := b.publish(ctx, b.ValueTopic(key), false, update); err != nil {
		return fmt.Errorf("value update for %s: %w", key, err)
	}
	return nil
}

// PublishHeartbeat publishes the plugin heartbeat.
func (b *Bridge) PublishHeartbeat(ctx context.Context, heartbeat models.Heartbeat) error {
	return b.publish(ctx, b.HeartbeatTopic(), false, heartbeat)
}

func (b *Bridge) publish(ctx context.Context, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}

	token := b.client.Publish(topic, byte(b.opts.QOS), retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		b.logger.Warn().Str("topic", topic).Msg("Publish operation cancelled")
		return ctx.Err()
	}
}

// handleMessage runs each action off the client's callback goroutine.
func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	b.mu.Lock()
	select {
	case <-b.stopChan:
		b.mu.Unlock()
		b.logger.Warn().Msg("Received action but bridge is stopping, ignoring it")
		return
	default:
		b.wg.Add(1)
	}
	ctx := b.ctx
	b.mu.Unlock()

	payload := msg.Payload()
	go func() {
		defer b.wg.Done()
		b.serve(ctx, payload)
	}()
}

// serve decodes, checks and dispatches one request, then publishes the response.
func (b *Bridge) serve(ctx context.Context, payload []byte) {
	response := b.execute(ctx, payload)

	if err := b.publish(ctx, b.ResponseTopic(), false, response); err != nil {
		b.logger.Error().Err(err).Str("id", response.ID).Msg("Failed to publish action response")
	}
}

func (b *Bridge) execute(ctx context.Context, payload []byte) models.ActionResponse {
	var req models.ActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn().Err(err).Msg("Discarding malformed action request")
		return errorResponse(models.ActionRequest{}, fmt.Errorf("malformed request: %w", err))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	log := b.logger.With().Str("id", req.ID).Str("action", string(req.Action)).Logger()

	if err := b.checkVersion(req.Version); err != nil {
		log.Warn().Err(err).Msg("Rejecting action request")
		return errorResponse(req, err)
	}

	result, err := b.handler(ctx, req.Action, req.Payload)
	if err != nil {
		log.Error().Err(err).Msg("Action failed")
		return errorResponse(req, err)
	}

	log.Info().Msg("Action completed")
	return models.ActionResponse{ID: req.ID, Action: req.Action, Status: constants.ResponseStatusOK, Result: result}
}

// checkVersion accepts requests without a version.
func (b *Bridge) checkVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, version, err)
	}
	if !b.constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, b.constraint)
	}
	return nil
}

func errorResponse(req models.ActionRequest, err error) models.ActionResponse {
	return models.ActionResponse{ID: req.ID, Action: req.Action, Status: constants.ResponseStatusError, Error: err.Error()}
}
