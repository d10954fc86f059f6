package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/pkg/geo"
	"github.com/maartendamen/houseagent-latitude/pkg/latitude"
)

// API is the remote location service used by a Session.
type API interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	FetchLocation(ctx context.Context, token string) (latitude.Fix, error)
}

// Labeler resolves a position into the label to publish.
type Labeler interface {
	Label(ctx context.Context, point geo.Point, thresholdKm float64) (string, error)
}

// Publisher delivers value updates to the host.
type Publisher interface {
	ValueUpdate(key string, values map[string]string) error
}

// Snapshot is a consistent copy of a session's runtime state.
type Snapshot struct {
	Username   string
	State      constants.SessionState
	HasToken   bool
	Latitude   *float64
	Longitude  *float64
	LastUpdate *time.Time
}

// Session polls one account: authenticate, fetch, resolve, publish.
type Session struct {
	account   models.Account
	api       API
	labeler   Labeler
	publisher Publisher
	logger    zerolog.Logger

	mu         sync.Mutex
	state      constants.SessionState
	token      string
	hasFix     bool
	latitude   float64
	longitude  float64
	lastUpdate time.Time
}

// New creates an unauthenticated Session for account.
func New(account models.Account, api API, labeler Labeler, publisher Publisher, logger zerolog.Logger) *Session {
	return &Session{
		account:   account,
		api:       api,
		labeler:   labeler,
		publisher: publisher,
		logger:    logger.With().Str("account", account.Username).Logger(),
		state:     constants.StateUnauthenticated,
	}
}

// Account returns the account this session polls.
func (s *Session) Account() models.Account {
	return s.account
}

// State returns the current state.
func (s *Session) State() constants.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current runtime state. Coordinates and update time are either all set or all nil.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Username: s.account.Username,
		State:    s.state,
		HasToken: s.token != "",
	}
	if s.hasFix {
		lat, lon, ts := s.latitude, s.longitude, s.lastUpdate
		snap.Latitude, snap.Longitude, snap.LastUpdate = &lat, &lon, &ts
	}
	return snap
}

// Update runs one poll cycle. Without a cached token it logs in first.
// A malformed location response ends the cycle without error and without publishing.
func (s *Session) Update(ctx context.Context) error {
	if !s.hasToken() {
		if err := s.authenticate(ctx); err != nil {
			return err
		}
	}

	fix, ok, err := s.fetch(ctx)
	if err != nil || !ok {
		return err
	}

	return s.resolveAndPublish(ctx, fix)
}

func (s *Session) hasToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

func (s *Session) setState(state constants.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) authenticate(ctx context.Context) error {
	s.setState(constants.StateAuthenticating)

	token, err := s.api.Authenticate(ctx, s.account.Username, s.account.Password)
	if err != nil {
		s.setState(constants.StateUnauthenticated)
		return fmt.Errorf("authenticating %s: %w", s.account.Username, err)
	}

	s.mu.Lock()
	s.token = token
	s.state = constants.StateAuthenticated
	s.mu.Unlock()

	s.logger.Info().Msg("Received token")
	return nil
}

func (s *Session) fetch(ctx context.Context) (latitude.Fix, bool, error) {
	s.mu.Lock()
	token := s.token
	s.state = constants.StateFetching
	s.mu.Unlock()

	fix, err := s.api.FetchLocation(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, latitude.ErrFetchParse):
		s.setState(constants.StateAuthenticated)
		s.logger.Debug().Err(err).Msg("Ignoring unparsable location response")
		return latitude.Fix{}, false, nil
	case errors.Is(err, latitude.ErrAuthFailure):
		s.mu.Lock()
		s.token = ""
		s.state = constants.StateUnauthenticated
		s.mu.Unlock()
		return latitude.Fix{}, false, fmt.Errorf("fetching %s: %w", s.account.Username, err)
	default:
		s.setState(constants.StateAuthenticated)
		return latitude.Fix{}, false, fmt.Errorf("fetching %s: %w", s.account.Username, err)
	}

	s.mu.Lock()
	s.latitude = fix.Latitude
	s.longitude = fix.Longitude
	s.lastUpdate = fix.Timestamp
	s.hasFix = true
	s.state = constants.StateAuthenticated
	s.mu.Unlock()

	s.logger.Debug().
		Float64("latitude", fix.Latitude).
		Float64("longitude", fix.Longitude).
		Time("timestamp", fix.Timestamp).
		Msg("Fetched position")
	return fix, true, nil
}

func (s *Session) resolveAndPublish(ctx context.Context, fix latitude.Fix) error {
	point := geo.Point{Latitude: fix.Latitude, Longitude: fix.Longitude}

	label, err := s.labeler.Label(ctx, point, s.account.ProximityKm)
	if err != nil {
		return fmt.Errorf("resolving position of %s: %w", s.account.Username, err)
	}

	values := map[string]string{constants.CurrentLocationField: label}
	if err := s.publisher.ValueUpdate(s.account.Username, values); err != nil {
		return fmt.Errorf("publishing location of %s: %w", s.account.Username, err)
	}

	s.logger.Info().Str("location", label).Msg("Published current location")
	return nil
}
