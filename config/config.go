package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete garuda configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Chain   ChainConfig   `yaml:"chain"`
	Relay   RelayConfig   `yaml:"relay"`
	OTP     OTPConfig     `yaml:"otp"`
	Passkey PasskeyConfig `yaml:"passkey"`
	Session SessionConfig `yaml:"session"`
	Policy  PolicyConfig  `yaml:"policy"`
	Signing SigningConfig `yaml:"signing"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RedisConfig holds the credential store and event stream backend
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ChainConfig holds the on-chain registry configuration
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	RegistryAddress string `yaml:"registry_address"`
	ChainID         int64  `yaml:"chain_id"`
}

// RelayConfig holds the key relay API configuration
type RelayConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// OTPConfig holds the passcode provider configuration
type OTPConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// PasskeyConfig holds the WebAuthn relying party configuration
type PasskeyConfig struct {
	RPID    string   `yaml:"rp_id"`
	RPName  string   `yaml:"rp_name"`
	Origins []string `yaml:"origins"`
}

// SessionConfig holds session credential configuration
type SessionConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// PolicyConfig holds the policy schema source configuration
type PolicyConfig struct {
	// SchemaDir points at a directory of <policy-id>.json schema files. Empty
	// means no schemas are preloaded and every grant fails validation until
	// schemas are registered.
	SchemaDir string `yaml:"schema_dir"`
}

// SigningConfig holds the token signing key configuration
type SigningConfig struct {
	// KeyFile points at a PEM-encoded ECDSA P-256 private key. When empty an
	// ephemeral key is generated, which invalidates credentials on restart.
	KeyFile string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.RegistryAddress == "" {
		return fmt.Errorf("chain.registry_address is required")
	}
	if c.Relay.BaseURL == "" {
		return fmt.Errorf("relay.base_url is required")
	}
	if c.Passkey.RPID == "" {
		return fmt.Errorf("passkey.rp_id is required")
	}
	if len(c.Passkey.Origins) == 0 {
		return fmt.Errorf("passkey.origins is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Relay.TimeoutRaw != "" {
		cfg.Relay.Timeout, err = time.ParseDuration(cfg.Relay.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing relay.timeout %q: %w", cfg.Relay.TimeoutRaw, err)
		}
	}

	if cfg.Session.TTLRaw != "" {
		cfg.Session.TTL, err = time.ParseDuration(cfg.Session.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session.ttl %q: %w", cfg.Session.TTLRaw, err)
		}
	}

	return nil
}
