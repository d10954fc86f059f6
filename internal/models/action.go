package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
)

// ActionRequest is a management action received from the host bridge.
type ActionRequest struct {
	ID      string               `json:"id"`                // Correlation ID echoed in the response
	Version string               `json:"version,omitempty"` // Bridge protocol version of the sender
	Action  constants.ActionKind `json:"action"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

// ActionResponse is published back to the host bridge for every ActionRequest.
type ActionResponse struct {
	ID     string               `json:"id"`
	Action constants.ActionKind `json:"action"`
	Status string               `json:"status"`
	Result any                  `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Coordinates is a [latitude, longitude] pair. Both numbers and numeric strings are accepted
// because the host form layer posts raw form values.
type Coordinates [2]float64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("coordinates must be a list: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("coordinates must have 2 elements, got %d", len(raw))
	}
	for i := range raw {
		v, err := parseFlexibleFloat(raw[i])
		if err != nil {
			return fmt.Errorf("coordinate %d: %w", i, err)
		}
		c[i] = v
	}
	return nil
}

// AddLocationPayload is the payload of add_location.
type AddLocationPayload struct {
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
}

// EditLocationPayload is the payload of edit_location. ID is the current name.
type EditLocationPayload struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
}

// AddAccountPayload is the payload of add_account.
type AddAccountPayload struct {
	Name    string         `json:"name"`
	Details AccountDetails `json:"details"`
}

// AccountDetails travels as the positional list [device_id, password, refresh, proximity].
type AccountDetails struct {
	DeviceID        string
	Password        string
	RefreshInterval int
	ProximityKm     float64
}

// MarshalJSON implements json.Marshaler.
func (d AccountDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{d.DeviceID, d.Password, d.RefreshInterval, d.ProximityKm})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *AccountDetails) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("account details must be a list: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("account details must have 4 elements, got %d", len(raw))
	}

	deviceID, err := parseFlexibleString(raw[0])
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	var password string
	if err := json.Unmarshal(raw[1], &password); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	refresh, err := parseFlexibleFloat(raw[2])
	if err != nil {
		return fmt.Errorf("refresh interval: %w", err)
	}
	if refresh != math.Trunc(refresh) {
		return fmt.Errorf("refresh interval: %v is not a whole number of seconds", refresh)
	}
	if math.Abs(refresh) > math.MaxInt32 {
		return fmt.Errorf("refresh interval: %v is out of range", refresh)
	}
	proximity, err := parseFlexibleFloat(raw[3])
	if err != nil {
		return fmt.Errorf("proximity: %w", err)
	}

	d.DeviceID = deviceID
	d.Password = password
	d.RefreshInterval = int(refresh)
	d.ProximityKm = proximity
	return nil
}

// Account builds the account record for the given username.
func (p AddAccountPayload) Account() Account {
	return Account{
		Username:        p.Name,
		Password:        p.Details.Password,
		DeviceID:        p.Details.DeviceID,
		RefreshInterval: p.Details.RefreshInterval,
		ProximityKm:     p.Details.ProximityKm,
	}
}

func parseFlexibleFloat(raw json.RawMessage) (float64, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return 0, fmt.Errorf("expected number, got null")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected number, got %s", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected a finite number, got %q", s)
	}
	return f, nil
}

func parseFlexibleString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", string(raw))
	}
	return n.String(), nil
}
