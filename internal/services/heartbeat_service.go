package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/models"
)

// StatusSource reports what the plugin is currently doing.
type StatusSource interface {
	Accounts() []models.Account
	Locations() []models.NamedLocation
	Sessions() map[string]string
}

// HeartbeatPublisher delivers heartbeats to the host.
type HeartbeatPublisher interface {
	PublishHeartbeat(ctx context.Context, heartbeat models.Heartbeat) error
}

// HeartbeatService manages periodic heartbeat messages.
type HeartbeatService struct {
	PluginID  string
	Interval  time.Duration
	Source    StatusSource
	Publisher HeartbeatPublisher
	Logger    zerolog.Logger

	proc   *process.Process
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pluginID string, interval time.Duration, source StatusSource,
	publisher HeartbeatPublisher, logger zerolog.Logger) *HeartbeatService {

	h := &HeartbeatService{
		PluginID:  pluginID,
		Interval:  interval,
		Source:    source,
		Publisher: publisher,
		Logger:    logger.With().Str("service", "heartbeat").Logger(),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		h.Logger.Warn().Err(err).Msg("Process metrics unavailable")
	} else {
		h.proc = proc
	}
	return h
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Dur("interval", h.Interval).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.Publisher.PublishHeartbeat(h.ctx, h.buildHeartbeat()); err != nil {
				h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
			} else {
				h.Logger.Debug().Msg("Heartbeat published successfully")
			}

		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatService) buildHeartbeat() models.Heartbeat {
	heartbeat := models.Heartbeat{
		PluginID:  h.PluginID,
		Timestamp: time.Now().UTC(),
		Status:    constants.StatusAlive,
		Accounts:  len(h.Source.Accounts()),
		Locations: len(h.Source.Locations()),
		Sessions:  h.Source.Sessions(),
	}

	if h.proc != nil {
		if mem, err := h.proc.MemoryInfo(); err == nil {
			heartbeat.RSSBytes = mem.RSS
		}
		if cpu, err := h.proc.CPUPercent(); err == nil {
			heartbeat.CPUPercent = cpu
		}
	}
	return heartbeat
}
