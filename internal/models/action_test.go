package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
)

func TestActionRequest_Decode(t *testing.T) {
	var req ActionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","version":"1.2.0","action":"del_location","payload":"home"}`), &req))

	assert.Equal(t, "1", req.ID)
	assert.Equal(t, constants.ActionDelLocation, req.Action)
	assert.JSONEq(t, `"home"`, string(req.Payload))
}

func TestAddLocationPayload_FlexibleCoordinates(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Coordinates
	}{
		{"numbers", `{"name":"home","coordinates":[52.1,5.2]}`, Coordinates{52.1, 5.2}},
		{"strings", `{"name":"home","coordinates":["52.1"," 5.2"]}`, Coordinates{52.1, 5.2}},
		{"mixed", `{"name":"home","coordinates":["-1",0]}`, Coordinates{-1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p AddLocationPayload
			require.NoError(t, json.Unmarshal([]byte(tt.in), &p))
			assert.Equal(t, "home", p.Name)
			assert.Equal(t, tt.want, p.Coordinates)
		})
	}
}

func TestCoordinates_Invalid(t *testing.T) {
	for _, in := range []string{`["NaN",1]`, `[1,"Inf"]`, `[1]`, `[1,2,3]`, `{"lat":1}`, `[null,1]`, `["north",1]`} {
		var c Coordinates
		assert.Error(t, json.Unmarshal([]byte(in), &c), in)
	}
}

func TestAccountDetails_Decode(t *testing.T) {
	var p AddAccountPayload
	require.NoError(t, json.Unmarshal([]byte(`{"name":"alice@example.com","details":[42,"secret","300","0.5"]}`), &p))

	account := p.Account()
	assert.Equal(t, Account{
		Username:        "alice@example.com",
		Password:        "secret",
		DeviceID:        "42",
		RefreshInterval: 300,
		ProximityKm:     0.5,
	}, account)
	assert.NoError(t, account.Validate())
}

func TestAccountDetails_Invalid(t *testing.T) {
	for _, in := range []string{
		`["d","pw",60]`,
		`["d",1,60,0.5]`,
		`["d","pw","soon",0.5]`,
		`"d,pw,60,0.5"`,
		`["d","pw",60,"NaN"]`,
		`["d","pw",60,"-Inf"]`,
		`["d","pw","Inf",1]`,
		`["d","pw",60.5,1]`,
		`["d","pw",18446744074,1]`,
		`["d","pw",-1e19,1]`,
	} {
		var d AccountDetails
		assert.Error(t, json.Unmarshal([]byte(in), &d), in)
	}
}

func TestAccountDetails_Encode(t *testing.T) {
	data, err := json.Marshal(AccountDetails{DeviceID: "d", Password: "pw", RefreshInterval: 60, ProximityKm: 0.5})
	require.NoError(t, err)
	assert.JSONEq(t, `["d","pw",60,0.5]`, string(data))
}

func TestAccount_Validate(t *testing.T) {
	assert.NoError(t, Account{Username: "a", RefreshInterval: 1}.Validate())
	assert.ErrorIs(t, Account{RefreshInterval: 1}.Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, Account{Username: "a"}.Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, Account{Username: "a", RefreshInterval: 1, ProximityKm: -1}.Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, Account{Username: "a", RefreshInterval: 1, ProximityKm: math.NaN()}.Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, Account{Username: "a", RefreshInterval: 1, ProximityKm: math.Inf(1)}.Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, Account{Username: "a", RefreshInterval: MaxRefreshSeconds + 1}.Validate(), ErrInvalidAccount)

	longest := Account{Username: "a", RefreshInterval: MaxRefreshSeconds}
	require.NoError(t, longest.Validate())
	assert.Equal(t, 7*24*time.Hour, longest.Interval())
}

func TestNamedLocation_Validate(t *testing.T) {
	assert.NoError(t, NamedLocation{Name: "home", Latitude: 52, Longitude: 5}.Validate())
	assert.ErrorIs(t, NamedLocation{Latitude: 52, Longitude: 5}.Validate(), ErrInvalidLocation)
	assert.ErrorIs(t, NamedLocation{Name: "pole", Latitude: 91, Longitude: 5}.Validate(), ErrInvalidLocation)
}
