package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/constants"
	"github.com/maartendamen/houseagent-latitude/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Plugin struct {
		ID      string `yaml:"id"`      // Plugin id announced to the host
		Name    string `yaml:"name"`    // Display name
		Version string `yaml:"version"` // Plugin version announced in the ready message
	} `yaml:"plugin"`

	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, enables TLS
		Username      string `yaml:"username"`       // Broker username
		Password      string `yaml:"password"`       // Broker password
	} `yaml:"mqtt"`

	Bridge struct {
		TopicPrefix        string        `yaml:"topic_prefix"`        // Root of every topic the plugin uses
		QOS                int           `yaml:"qos"`                 // MQTT QoS level for bridge messages
		ReadyDelay         time.Duration `yaml:"ready_delay"`         // Delay before announcing readiness
		ProtocolConstraint string        `yaml:"protocol_constraint"` // Accepted action request versions
	} `yaml:"bridge"`

	Latitude struct {
		AuthURL        string        `yaml:"auth_url"`        // ClientLogin endpoint
		BridgeAPI      string        `yaml:"bridge_api"`      // Location data service
		AppName        string        `yaml:"app_name"`        // Source sent on login
		RequestTimeout time.Duration `yaml:"request_timeout"` // Per-request timeout
	} `yaml:"latitude"`

	Geocoder struct {
		Provider       string        `yaml:"provider"`        // legacy or googlemaps
		Endpoint       string        `yaml:"endpoint"`        // Legacy geocoder endpoint
		MapsAPIKey     string        `yaml:"maps_api_key"`    // Google maps API key
		RequestTimeout time.Duration `yaml:"request_timeout"` // Per-request timeout
		CacheEnabled   bool          `yaml:"cache_enabled"`   // Cache results per geohash cell
		CachePrecision int           `yaml:"cache_precision"` // Geohash length of a cache cell
		CacheTTL       time.Duration `yaml:"cache_ttl"`       // Lifetime of a cached label
	} `yaml:"geocoder"`

	Store struct {
		Backend        string `yaml:"backend"`         // file, sqlite or dynamodb
		Path           string `yaml:"path"`            // File or database path
		DynamoDBTable  string `yaml:"dynamodb_table"`  // DynamoDB table name
		DynamoDBRegion string `yaml:"dynamodb_region"` // DynamoDB region
	} `yaml:"store"`

	Scheduler struct {
		Workers int `yaml:"workers"` // Concurrent account updates
	} `yaml:"scheduler"`

	Heartbeat struct {
		Enabled  bool          `yaml:"enabled"`  // Enable/disable heartbeat service
		Interval time.Duration `yaml:"interval"` // Interval between heartbeats
	} `yaml:"heartbeat"`

	Web struct {
		Enabled      bool   `yaml:"enabled"`       // Enable/disable the web form endpoints
		Listen       string `yaml:"listen"`        // HTTP listen address
		Username     string `yaml:"username"`      // Basic auth user, empty disables auth
		PasswordHash string `yaml:"password_hash"` // bcrypt hash of the basic auth password
	} `yaml:"web"`

	Logging struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Human readable console output
	} `yaml:"logging"`
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() *Config {
	config := &Config{}
	config.Heartbeat.Enabled = true
	config.Web.Enabled = true
	config.Geocoder.CacheEnabled = true
	// 0 is a valid QoS, so it is defaulted here rather than in ApplyDefaults.
	config.Bridge.QOS = constants.DefaultQOS
	config.ApplyDefaults()
	return config
}

// ApplyDefaults fills zero values with defaults. Fields whose zero value is
// meaningful are defaulted by DefaultConfig instead.
func (c *Config) ApplyDefaults() {
	setString(&c.Plugin.ID, constants.DefaultPluginID)
	setString(&c.Plugin.Name, constants.DefaultPluginName)
	setString(&c.Plugin.Version, constants.PluginVersion)

	setString(&c.MQTT.Broker, constants.DefaultBroker)
	setString(&c.MQTT.ClientID, constants.DefaultClientID)

	setString(&c.Bridge.TopicPrefix, constants.DefaultTopicPrefix)
	c.Bridge.TopicPrefix = strings.TrimSuffix(c.Bridge.TopicPrefix, "/")
	setDuration(&c.Bridge.ReadyDelay, constants.DefaultReadyDelay)
	setString(&c.Bridge.ProtocolConstraint, constants.DefaultProtocolConstraint)

	setString(&c.Latitude.AuthURL, constants.DefaultAuthURL)
	setString(&c.Latitude.BridgeAPI, constants.DefaultBridgeAPI)
	setString(&c.Latitude.AppName, constants.DefaultAppName)
	setDuration(&c.Latitude.RequestTimeout, constants.DefaultRequestTimeout)

	setString(&c.Geocoder.Provider, constants.DefaultGeocoderProvider)
	setString(&c.Geocoder.Endpoint, constants.DefaultGeocoderEndpoint)
	setDuration(&c.Geocoder.RequestTimeout, constants.DefaultGeocoderTimeout)
	if c.Geocoder.CachePrecision == 0 {
		c.Geocoder.CachePrecision = constants.DefaultCachePrecision
	}
	setDuration(&c.Geocoder.CacheTTL, constants.DefaultCacheTTL)

	setString(&c.Store.Backend, constants.DefaultStoreBackend)
	setString(&c.Store.Path, constants.DefaultStorePath)
	setString(&c.Store.DynamoDBTable, constants.DefaultDynamoDBTable)
	setString(&c.Store.DynamoDBRegion, constants.DefaultDynamoDBRegion)

	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = constants.DefaultWorkers
	}
	setDuration(&c.Heartbeat.Interval, constants.DefaultHeartbeatInterval)
	setString(&c.Web.Listen, constants.DefaultWebListen)
	setString(&c.Logging.Level, constants.DefaultLogLevel)
}

// Validate rejects configurations the plugin cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Bridge.QOS < 0 || c.Bridge.QOS > 2 {
		errs = append(errs, fmt.Errorf("bridge.qos must be 0, 1 or 2, got %d", c.Bridge.QOS))
	}
	if _, err := semver.NewConstraint(c.Bridge.ProtocolConstraint); err != nil {
		errs = append(errs, fmt.Errorf("bridge.protocol_constraint: %w", err))
	}
	if c.Latitude.RequestTimeout < 0 || c.Geocoder.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeouts must not be negative"))
	}
	switch c.Geocoder.Provider {
	case "legacy":
	case "googlemaps":
		if c.Geocoder.MapsAPIKey == "" {
			errs = append(errs, errors.New("geocoder.maps_api_key is required for the googlemaps provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown geocoder.provider %q", c.Geocoder.Provider))
	}
	if c.Geocoder.CachePrecision < 1 || c.Geocoder.CachePrecision > 12 {
		errs = append(errs, fmt.Errorf("geocoder.cache_precision must be between 1 and 12, got %d", c.Geocoder.CachePrecision))
	}
	switch c.Store.Backend {
	case "file", "sqlite", "dynamodb":
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers))
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	if c.Web.Enabled && c.Web.Username != "" && c.Web.PasswordHash == "" {
		errs = append(errs, errors.New("web.password_hash is required when web.username is set"))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// LoadConfig reads the YAML file over the defaults, then validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	config := DefaultConfig()
	if err := fileClient.ReadYamlFile(filename, config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}
	return config, nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}
