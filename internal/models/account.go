package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
)

// MaxRefreshSeconds is the largest accepted RefreshInterval.
const MaxRefreshSeconds = int(constants.MaxRefreshInterval / time.Second)

// ErrInvalidAccount is returned when an account record breaks its constraints.
var ErrInvalidAccount = errors.New("invalid account")

// Account is a location API account polled on its own schedule.
type Account struct {
	Username        string  `json:"username" yaml:"username"`
	Password        string  `json:"password" yaml:"password"`
	DeviceID        string  `json:"device_id" yaml:"device_id"`
	RefreshInterval int     `json:"refresh_interval" yaml:"refresh_interval"` // Seconds between polls
	ProximityKm     float64 `json:"proximity_km" yaml:"proximity_km"`         // Radius for matching named locations
}

// Interval returns the refresh interval as a duration.
func (a Account) Interval() time.Duration {
	return time.Duration(a.RefreshInterval) * time.Second
}

// Validate checks the account constraints.
func (a Account) Validate() error {
	if a.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidAccount)
	}
	if a.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval for %q must be positive, got %d", ErrInvalidAccount, a.Username, a.RefreshInterval)
	}
	if a.RefreshInterval > MaxRefreshSeconds {
		return fmt.Errorf("%w: refresh interval for %q must be at most %d, got %d", ErrInvalidAccount, a.Username, MaxRefreshSeconds, a.RefreshInterval)
	}
	if math.IsNaN(a.ProximityKm) || math.IsInf(a.ProximityKm, 0) {
		return fmt.Errorf("%w: proximity for %q must be a finite number", ErrInvalidAccount, a.Username)
	}
	if a.ProximityKm < 0 {
		return fmt.Errorf("%w: proximity for %q must not be negative", ErrInvalidAccount, a.Username)
	}
	return nil
}
