package models

import (
	"errors"
	"fmt"

	"github.com/maartendamen/houseagent-latitude/pkg/geo"
)

// ErrInvalidLocation is returned when a named location cannot be stored.
var ErrInvalidLocation = errors.New("invalid location")

// NamedLocation is a user defined place such as "home" or "work".
type NamedLocation struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Point returns the coordinate of the location.
func (l NamedLocation) Point() geo.Point {
	return geo.Point{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Validate checks that the location has a name and a usable coordinate.
func (l NamedLocation) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLocation)
	}
	if !l.Point().Valid() {
		return fmt.Errorf("%w: %q has invalid coordinates (%v, %v)", ErrInvalidLocation, l.Name, l.Latitude, l.Longitude)
	}
	return nil
}
