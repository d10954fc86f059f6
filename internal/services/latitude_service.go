package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/bridge"
	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/internal/resolver"
	"github.com/maartendamen/houseagent-latitude/internal/scheduler"
	"github.com/maartendamen/houseagent-latitude/internal/session"
	"github.com/maartendamen/houseagent-latitude/internal/store"
	"github.com/maartendamen/houseagent-latitude/internal/utils"
	"github.com/maartendamen/houseagent-latitude/pkg/geocode"
)

var (
	// ErrUnknownAction is returned for actions outside the supported set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidPayload is returned when an action payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrLocationNotFound is returned when edit_location names a missing location.
	ErrLocationNotFound = errors.New("location not found")
	// ErrLocationExists is returned when edit_location renames onto another location.
	ErrLocationExists = errors.New("location already exists")
)

// ActionServer delivers management actions to a handler and publishes values.
type ActionServer interface {
	Start(handler bridge.Handler) error
	Stop() error
	ValueUpdate(key string, values map[string]string) error
}

// ValueListener receives every value update that was published.
type ValueListener func(update models.ValueUpdate)

type actionHandler func(ctx context.Context, payload json.RawMessage) (any, error)

// LatitudeService owns the account and location sets and the poll scheduler.
type LatitudeService struct {
	repo     store.Repository
	api      session.API
	geocoder geocode.Geocoder
	server   ActionServer
	workers  int
	logger   zerolog.Logger
	now      func() time.Time

	// mutate serialises persist, reload and restart across actions.
	mutate sync.Mutex

	mu        sync.RWMutex
	accounts  []models.Account
	locations []models.NamedLocation
	scheduler *scheduler.Scheduler[*session.Session]

	listenersMu sync.RWMutex
	listeners   map[int]ValueListener
	nextID      int

	handlers map[constants.ActionKind]actionHandler
}

// NewLatitudeService wires the service. geocoder may be nil, in which case
// positions away from every named location are not published.
func NewLatitudeService(repo store.Repository, api session.API, geocoder geocode.Geocoder,
	server ActionServer, workers int, logger zerolog.Logger) *LatitudeService {

	s := &LatitudeService{
		repo:      repo,
		api:       api,
		geocoder:  geocoder,
		server:    server,
		workers:   workers,
		logger:    logger.With().Str("service", "latitude").Logger(),
		now:       time.Now,
		listeners: make(map[int]ValueListener),
	}
	s.handlers = map[constants.ActionKind]actionHandler{
		constants.ActionGetLocations: s.getLocations,
		constants.ActionAddLocation:  s.addLocation,
		constants.ActionDelLocation:  s.delLocation,
		constants.ActionEditLocation: s.editLocation,
		constants.ActionAddAccount:   s.addAccount,
		constants.ActionGetAccounts:  s.getAccounts,
		constants.ActionDelAccount:   s.delAccount,
	}
	return s
}

// Start loads the configuration, starts polling, and begins serving actions.
func (s *LatitudeService) Start() error {
	s.mu.Lock()
	if s.scheduler != nil {
		s.mu.Unlock()
		return errors.New("latitude service is already running")
	}
	s.mu.Unlock()

	ctx := context.Background()
	accounts, err := s.repo.LoadAccounts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load accounts")
		return err
	}
	locations, err := s.repo.LoadLocations(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load locations")
		return err
	}

	labeler := resolver.New(s, s.geocoder, s.logger)
	sched := scheduler.New[*session.Session](func(account models.Account) *session.Session {
		return session.New(account, s.api, labeler, s, s.logger)
	}, utils.NewWorkerPool(s.workers), s.logger)

	s.mu.Lock()
	s.accounts = accounts
	s.locations = locations
	s.scheduler = sched
	s.mu.Unlock()

	sched.RestartAll(accounts)

	if err := s.server.Start(s.Dispatch); err != nil {
		sched.Shutdown()
		s.mu.Lock()
		s.scheduler = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to start action server: %w", err)
	}

	s.logger.Info().
		Int("accounts", len(accounts)).
		Int("locations", len(locations)).
		Msg("LatitudeService started successfully")
	return nil
}

// Stop stops serving actions, then stops polling and waits for running updates.
func (s *LatitudeService) Stop() error {
	s.mu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if sched == nil {
		return errors.New("latitude service is not running")
	}

	err := s.server.Stop()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop action server")
	}
	sched.Shutdown()

	s.logger.Info().Msg("LatitudeService stopped successfully")
	return err
}

// Dispatch runs a management action.
func (s *LatitudeService) Dispatch(ctx context.Context, action constants.ActionKind, payload json.RawMessage) (any, error) {
	handler, ok := s.handlers[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return handler(ctx, payload)
}

// Locations returns a copy of the named locations.
func (s *LatitudeService) Locations() []models.NamedLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.NamedLocation(nil), s.locations...)
}

// Accounts returns a copy of the configured accounts.
func (s *LatitudeService) Accounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Account(nil), s.accounts...)
}

// Snapshot returns the runtime state of the session polling username.
func (s *LatitudeService) Snapshot(username string) (session.Snapshot, bool) {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()

	if sched == nil {
		return session.Snapshot{}, false
	}
	sess, ok := sched.Poller(username)
	if !ok {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Sessions returns the state of every polled account.
func (s *LatitudeService) Sessions() map[string]string {
	states := make(map[string]string)
	for _, account := range s.Accounts() {
		if snap, ok := s.Snapshot(account.Username); ok {
			states[account.Username] = string(snap.State)
		}
	}
	return states
}

// AddListener registers l for published value updates and returns a function removing it.
func (s *LatitudeService) AddListener(l ValueListener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// ValueUpdate publishes through the action server and notifies listeners.
func (s *LatitudeService) ValueUpdate(key string, values map[string]string) error {
	if err := s.server.ValueUpdate(key, values); err != nil {
		return err
	}

	update := models.ValueUpdate{Key: key, Values: values, Timestamp: s.now().UTC()}
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l(update)
	}
	return nil
}

func (s *LatitudeService) getLocations(ctx context.Context, _ json.RawMessage) (any, error) {
	result := make(map[string][2]float64)
	for _, l := range s.Locations() {
		result[l.Name] = [2]float64{l.Latitude, l.Longitude}
	}
	return result, nil
}

func (s *LatitudeService) addLocation(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.AddLocationPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	location := models.NamedLocation{Name: p.Name, Latitude: p.Coordinates[0], Longitude: p.Coordinates[1]}
	if err := location.Validate(); err != nil {
		return nil, err
	}

	return s.mutateLocations(ctx, func() error {
		return s.repo.SaveLocation(ctx, location)
	})
}

func (s *LatitudeService) delLocation(ctx context.Context, payload json.RawMessage) (any, error) {
	var name string
	if err := decodePayload(payload, &name); err != nil {
		return nil, err
	}

	return s.mutateLocations(ctx, func() error {
		return s.repo.DeleteLocation(ctx, name)
	})
}

func (s *LatitudeService) editLocation(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.EditLocationPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	location := models.NamedLocation{Name: p.Name, Latitude: p.Coordinates[0], Longitude: p.Coordinates[1]}
	if err := location.Validate(); err != nil {
		return nil, err
	}

	return s.mutateLocations(ctx, func() error {
		if !s.hasLocation(p.ID) {
			return fmt.Errorf("%w: %q", ErrLocationNotFound, p.ID)
		}
		if p.Name != p.ID && s.hasLocation(p.Name) {
			return fmt.Errorf("%w: %q", ErrLocationExists, p.Name)
		}
		if err := s.repo.SaveLocation(ctx, location); err != nil {
			return err
		}
		if p.ID != p.Name {
			return s.repo.DeleteLocation(ctx, p.ID)
		}
		return nil
	})
}

func (s *LatitudeService) addAccount(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.AddAccountPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	account := p.Account()
	if err := account.Validate(); err != nil {
		return nil, err
	}

	return s.mutateAccounts(ctx, func() error {
		return s.repo.SaveAccount(ctx, account)
	})
}

func (s *LatitudeService) delAccount(ctx context.Context, payload json.RawMessage) (any, error) {
	var username string
	if err := decodePayload(payload, &username); err != nil {
		return nil, err
	}

	return s.mutateAccounts(ctx, func() error {
		return s.repo.DeleteAccount(ctx, username)
	})
}

// getAccounts reports username -> [device_id, password, refresh, proximity, lat, lon, last update].
func (s *LatitudeService) getAccounts(ctx context.Context, _ json.RawMessage) (any, error) {
	result := make(map[string][]any)
	for _, a := range s.Accounts() {
		var lat, lon any
		lastUpdate := constants.NoLastUpdate
		if snap, ok := s.Snapshot(a.Username); ok && snap.LastUpdate != nil {
			lat, lon = *snap.Latitude, *snap.Longitude
			lastUpdate = snap.LastUpdate.Format(constants.LastUpdateLayout)
		}
		result[a.Username] = []any{a.DeviceID, a.Password, a.RefreshInterval, a.ProximityKm, lat, lon, lastUpdate}
	}
	return result, nil
}

func (s *LatitudeService) hasLocation(name string) bool {
	for _, l := range s.Locations() {
		if l.Name == name {
			return true
		}
	}
	return false
}

// mutateLocations persists a change and reloads the location set. The in-memory
// set only changes when both steps succeed.
func (s *LatitudeService) mutateLocations(ctx context.Context, persist func() error) (any, error) {
	s.mutate.Lock()
	defer s.mutate.Unlock()

	if err := persist(); err != nil {
		return nil, err
	}
	locations, err := s.repo.LoadLocations(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.locations = locations
	s.mu.Unlock()

	s.logger.Info().Int("locations", len(locations)).Msg("Locations reloaded")
	return constants.ResultOK, nil
}

// mutateAccounts persists a change, reloads the account set, and restarts polling.
func (s *LatitudeService) mutateAccounts(ctx context.Context, persist func() error) (any, error) {
	s.mutate.Lock()
	defer s.mutate.Unlock()

	if err := persist(); err != nil {
		return nil, err
	}
	accounts, err := s.repo.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.accounts = accounts
	sched := s.scheduler
	s.mu.Unlock()

	if sched != nil {
		sched.RestartAll(accounts)
	}

	s.logger.Info().Int("accounts", len(accounts)).Msg("Accounts reloaded")
	return constants.ResultOK, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
