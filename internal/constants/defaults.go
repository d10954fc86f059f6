package constants

import "time"

const (
	DefaultPluginID   = "547b0e75-2cc2-484b-88ba-aa53742b0b8f"
	DefaultPluginName = "Latitude"
	PluginVersion     = "1.0.0"

	DefaultBroker             = "tcp://localhost:1883"
	DefaultClientID           = "latitude"
	DefaultTopicPrefix        = "houseagent/plugins/latitude"
	DefaultQOS                = 1
	DefaultReadyDelay         = 1 * time.Second
	DefaultProtocolConstraint = ">= 1.0.0, < 2.0.0"

	DefaultAuthURL        = "https://www.google.com/accounts/ClientLogin"
	DefaultBridgeAPI      = "https://ha-latitude.appspot.com"
	DefaultAppName        = "ha-latitude"
	DefaultRequestTimeout = 15 * time.Second

	DefaultGeocoderProvider = "legacy"
	DefaultGeocoderEndpoint = "http://maps.google.com/maps/geo"
	DefaultGeocoderTimeout  = 10 * time.Second
	DefaultCachePrecision   = 7
	DefaultCacheTTL         = 24 * time.Hour

	DefaultStoreBackend   = "file"
	DefaultStorePath      = "latitude.yaml"
	DefaultDynamoDBTable  = "latitude-config"
	DefaultDynamoDBRegion = "eu-west-1"

	// MaxRefreshInterval bounds an account's polling period.
	MaxRefreshInterval = 7 * 24 * time.Hour

	DefaultWorkers           = 4
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultWebListen         = ":8090"
	DefaultLogLevel          = "info"
)
