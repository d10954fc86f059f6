package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/bridge"
	"github.com/maartendamen/houseagent-latitude/internal/registry"
	"github.com/maartendamen/houseagent-latitude/internal/services"
	"github.com/maartendamen/houseagent-latitude/internal/session"
	"github.com/maartendamen/houseagent-latitude/internal/store"
	"github.com/maartendamen/houseagent-latitude/internal/utils"
	"github.com/maartendamen/houseagent-latitude/pkg/geocode"
)

// ServiceRegistry manages the lifecycle of the plugin services.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	bridge      *bridge.Bridge
	repo        store.Repository
	api         session.API
	geocoder    geocode.Geocoder
	latitude    *services.LatitudeService
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(b *bridge.Bridge, repo store.Repository, api session.API,
	geocoder geocode.Geocoder, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		bridge:   b,
		repo:     repo,
		api:      api,
		geocoder: geocoder,
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// Latitude returns the registered latitude service, or nil before RegisterServices.
func (sr *ServiceRegistry) Latitude() *services.LatitudeService {
	return sr.latitude
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices creates and registers the enabled services based on configuration.
// The latitude service is always registered first since the others read from it.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) error {
	if sr.bridge == nil {
		return errors.New("services require an MQTT bridge")
	}

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "latitude",
			enabled: true,
			constructor: func() (registry.Service, error) {
				sr.latitude = services.NewLatitudeService(
					sr.repo,
					sr.api,
					sr.geocoder,
					sr.bridge,
					config.Scheduler.Workers,
					sr.Logger,
				)
				return sr.latitude, nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Heartbeat.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewHeartbeatService(
					config.Plugin.ID,
					config.Heartbeat.Interval,
					sr.latitude,
					sr.bridge,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "web",
			enabled: config.Web.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewWebService(
					config.Web.Listen,
					sr.latitude,
					sr.latitude,
					config.Web.Username,
					config.Web.PasswordHash,
					sr.Logger,
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
