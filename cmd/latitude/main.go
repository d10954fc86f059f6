package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/maartendamen/houseagent-latitude/internal/bridge"
	"github.com/maartendamen/houseagent-latitude/internal/service_registry"
	"github.com/maartendamen/houseagent-latitude/internal/store"
	"github.com/maartendamen/houseagent-latitude/internal/utils"
	"github.com/maartendamen/houseagent-latitude/pkg/file"
	"github.com/maartendamen/houseagent-latitude/pkg/geocode"
	"github.com/maartendamen/houseagent-latitude/pkg/latitude"
	"github.com/maartendamen/houseagent-latitude/pkg/mqtt"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the configuration file")
	logLevel := pflag.String("log-level", "", "override logging.level from the configuration")
	hashPassword := pflag.String("hash-password", "", "print the bcrypt hash of a web password and exit")
	pflag.Parse()

	if *hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashPassword), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}
	if *logLevel != "" {
		config.Logging.Level = *logLevel
	}
	log = newLogger(config)

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	log.Info().Msgf("Using MQTT Client ID: %s", config.MQTT.ClientID)

	mqttClient := mqtt.NewMqttService(fileClient, log)
	b, err := bridge.New(mqttClient, bridge.Options{
		TopicPrefix:        config.Bridge.TopicPrefix,
		QOS:                config.Bridge.QOS,
		ReadyDelay:         config.Bridge.ReadyDelay,
		ProtocolConstraint: config.Bridge.ProtocolConstraint,
		PluginID:           config.Plugin.ID,
		Name:               config.Plugin.Name,
		Version:            config.Plugin.Version,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create MQTT bridge")
	}

	// Initialize the shared MQTT connection
	err = mqttClient.Initialize(mqtt.Options{
		Broker:        config.MQTT.Broker,
		ClientID:      config.MQTT.ClientID,
		Username:      config.MQTT.Username,
		Password:      config.MQTT.Password,
		CACertificate: config.MQTT.CACertificate,
		WillTopic:     b.StatusTopic(),
		WillPayload:   b.OfflinePayload(),
		OnConnect:     b.Resubscribe,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, err := openRepository(ctx, config, fileClient)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("backend", config.Store.Backend).Msg("Failed to open configuration store")
	}

	geocoder, err := newGeocoder(config)
	if err != nil {
		log.Fatal().Err(err).Str("provider", config.Geocoder.Provider).Msg("Failed to create geocoder")
	}

	api := latitude.NewClient(latitude.Config{
		AuthURL:   config.Latitude.AuthURL,
		BridgeAPI: config.Latitude.BridgeAPI,
		AppName:   config.Latitude.AppName,
		Timeout:   config.Latitude.RequestTimeout,
	})

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(b, repo, api, geocoder, log)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Strs("services", serviceRegistry.Names()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}
	mqttClient.Disconnect(250)
	if err := repo.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close configuration store")
	}
}

func newLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if config.Logging.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().
		Timestamp().
		Str("plugin", config.Plugin.Name).
		Logger()
}

func openRepository(ctx context.Context, config *utils.Config, fileClient file.FileOperations) (store.Repository, error) {
	switch config.Store.Backend {
	case "file":
		return store.NewFileRepository(config.Store.Path, fileClient), nil
	case "sqlite":
		return store.OpenSQLite(config.Store.Path)
	case "dynamodb":
		return store.OpenDynamoDB(ctx, config.Store.DynamoDBRegion, config.Store.DynamoDBTable)
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
}

func newGeocoder(config *utils.Config) (geocode.Geocoder, error) {
	var geocoder geocode.Geocoder
	switch config.Geocoder.Provider {
	case "legacy":
		geocoder = geocode.NewLegacyGeocoder(config.Geocoder.Endpoint, config.Geocoder.RequestTimeout)
	case "googlemaps":
		g, err := geocode.NewGoogleMapsGeocoder(config.Geocoder.MapsAPIKey, config.Geocoder.RequestTimeout)
		if err != nil {
			return nil, err
		}
		geocoder = g
	default:
		return nil, fmt.Errorf("unknown geocoder provider %q", config.Geocoder.Provider)
	}

	if config.Geocoder.CacheEnabled {
		geocoder = geocode.NewCachingGeocoder(geocoder, config.Geocoder.CachePrecision, config.Geocoder.CacheTTL)
	}
	return geocoder, nil
}
