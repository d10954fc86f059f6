package constants

// ActionKind names a management action dispatched to the latitude service.
type ActionKind string

// The closed set of management actions understood by the service.
const (
	ActionGetLocations ActionKind = "get_locations"
	ActionAddLocation  ActionKind = "add_location"
	ActionDelLocation  ActionKind = "del_location"
	ActionEditLocation ActionKind = "edit_location"
	ActionAddAccount   ActionKind = "add_account"
	ActionGetAccounts  ActionKind = "get_accounts"
	ActionDelAccount   ActionKind = "del_account"
)

// AllActions lists every supported action in a stable order.
var AllActions = []ActionKind{
	ActionGetLocations,
	ActionAddLocation,
	ActionDelLocation,
	ActionEditLocation,
	ActionAddAccount,
	ActionGetAccounts,
	ActionDelAccount,
}

const (
	// CurrentLocationField is the value name published for every account.
	CurrentLocationField = "Current location"

	// ResultOK is returned by mutating actions that succeeded.
	ResultOK = "OK"

	// LastUpdateLayout formats the last update time reported by get_accounts.
	LastUpdateLayout = "2006-01-02 15:04:05"

	// NoLastUpdate is reported by get_accounts for sessions that never fetched a position.
	NoLastUpdate = "None"

	// NoPluginMessage is returned by the web surface when no service is attached.
	NoPluginMessage = "No online latitude plugins found..."
)

// Action response statuses
const (
	ResponseStatusOK    = "ok"
	ResponseStatusError = "error"
)

// Plugin statuses
const (
	StatusReady   = "ready"
	StatusAlive   = "alive"
	StatusOffline = "offline"
)
