package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/adapters/events"
	"github.com/layer-3/garuda/adapters/otp"
	"github.com/layer-3/garuda/adapters/passkey"
	"github.com/layer-3/garuda/adapters/registry"
	"github.com/layer-3/garuda/adapters/relay"
	"github.com/layer-3/garuda/adapters/store"
	"github.com/layer-3/garuda/adapters/tokenizer"
	"github.com/layer-3/garuda/config"
	"github.com/layer-3/garuda/policy"
	"github.com/layer-3/garuda/service"
	"github.com/layer-3/garuda/transport/http"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)

	signKey, err := loadSigningKey(cfg.Signing.KeyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing key")
	}
	if cfg.Signing.KeyFile == "" {
		log.Warn().Msg("no signing key configured; using an ephemeral key, credentials will not survive a restart")
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse Redis URL")
	}
	redisClient := redis.NewClient(opts)

	wmLogger := watermill.NewStdLogger(false, false)
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		wmLogger,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Redis publisher")
	}
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redisClient,
			ConsumerGroup: "garuda",
		},
		wmLogger,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Redis subscriber")
	}

	ethClient, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to chain RPC")
	}

	relayClient := relay.NewClient(cfg.Relay.BaseURL, cfg.Relay.APIKey, cfg.Relay.Timeout)

	appRegistry, err := registry.NewEthRegistry(
		ethClient,
		common.HexToAddress(cfg.Chain.RegistryAddress),
		big.NewInt(cfg.Chain.ChainID),
		relayClient,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create registry client")
	}

	otpProvider := otp.NewProvider(cfg.OTP.BaseURL, cfg.OTP.APIKey, 0)

	passkeys, err := passkey.NewAuthenticator(
		cfg.Passkey.RPID,
		cfg.Passkey.RPName,
		cfg.Passkey.Origins,
		passkey.NewRedisUserSource(redisClient),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure passkey authenticator")
	}
	defer passkeys.Close()

	validator := policy.NewValidator()
	if cfg.Policy.SchemaDir != "" {
		if err := loadPolicySchemas(validator, cfg.Policy.SchemaDir); err != nil {
			log.Fatal().Err(err).Msg("failed to load policy schemas")
		}
	}

	tok := tokenizer.NewJWTTokenizer(signKey)
	credStore := store.NewRedisStore(redisClient, publisher, subscriber)
	eventPub := events.NewWatermillPublisher(publisher)

	auth := service.NewAuthenticator(tok, otpProvider, passkeys, log)
	resolver := service.NewIdentityResolver(appRegistry, relayClient, log)
	sessions := service.NewSessionService(tok, credStore, log).WithTTL(cfg.Session.TTL)
	orchestrator := service.NewGrantOrchestrator(appRegistry, relayClient, validator, sessions, eventPub, log)
	issuer := service.NewAssertionIssuer(tok, sessions, log)

	handlers := http.NewHandlers(auth, resolver, sessions, orchestrator, issuer, passkeys, appRegistry, credStore, log)
	router := http.SetupRouter(handlers, sessions)

	log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("starting server")
	if err := router.Run(cfg.Server.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// loadSigningKey reads a PEM-encoded ECDSA P-256 private key, or generates an
// ephemeral one when no path is configured.
func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key %s is not PEM encoded", path)
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	return key, nil
}

// loadPolicySchemas registers every <policy-id>.json file in dir.
func loadPolicySchemas(validator *policy.Validator, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading schema dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("reading schema %s: %w", name, err)
		}

		policyID := strings.TrimSuffix(name, ".json")
		if err := validator.Register(policyID, string(data)); err != nil {
			return fmt.Errorf("registering schema %s: %w", name, err)
		}
	}

	return nil
}
