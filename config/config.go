package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"offlinesettle/crypto"
)

type Config struct {
	DataDir           string          `toml:"DataDir" yaml:"dataDir"`
	GatewayConfig     string          `toml:"GatewayConfig" yaml:"gatewayConfig"`
	ProtocolName      string          `toml:"ProtocolName" yaml:"protocolName"`
	ProtocolVersion   string          `toml:"ProtocolVersion" yaml:"protocolVersion"`
	ChainID           uint64          `toml:"ChainID" yaml:"chainId"`
	EngineAddress     string          `toml:"EngineAddress" yaml:"engineAddress"`
	AdminKeystorePath string          `toml:"AdminKeystorePath" yaml:"adminKeystorePath"`
	Admins            []string        `toml:"Admins" yaml:"admins"`
	Relayers          []string        `toml:"Relayers" yaml:"relayers"`
	EscalationSigners []string        `toml:"EscalationSigners" yaml:"escalationSigners"`
	Log               LogConfig       `toml:"log" yaml:"log"`
	Telemetry         TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// LogConfig selects where structured logs go. An empty File logs to stdout.
type LogConfig struct {
	Level       string `toml:"Level" yaml:"level"`
	Environment string `toml:"Environment" yaml:"environment"`
	File        string `toml:"File" yaml:"file"`
	MaxSizeMB   int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
}

type loadOptions struct {
	keystorePassphrase string
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithKeystorePassphrase sets the passphrase used to encrypt the admin
// keystore generated alongside a default configuration.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) { o.keystorePassphrase = passphrase }
}

// Load reads the node configuration from path, creating a default file with a
// fresh admin keystore when none exists. Files ending in .yaml or .yml are
// decoded as YAML, everything else as TOML.
func Load(path string, opts ...LoadOption) (*Config, error) {
	var options loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options.keystorePassphrase)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./settle-data"
	}
	if strings.TrimSpace(cfg.ProtocolName) == "" {
		cfg.ProtocolName = "OfflineSettlement"
	}
	if strings.TrimSpace(cfg.ProtocolVersion) == "" {
		cfg.ProtocolVersion = "1"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Admins == nil {
		cfg.Admins = []string{}
	}
	if cfg.Relayers == nil {
		cfg.Relayers = []string{}
	}
	if cfg.EscalationSigners == nil {
		cfg.EscalationSigners = []string{}
	}
}

// createDefault writes a local development configuration. The engine identity
// and the bootstrap admin are both fresh keys; only the admin key is kept.
func createDefault(path, passphrase string) (*Config, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("keystore passphrase required to create %s", path)
	}
	admin, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, admin, passphrase); err != nil {
		return nil, err
	}
	engineKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ChainID:           31337,
		EngineAddress:     engineKey.PubKey().Address().String(),
		AdminKeystorePath: keystorePath,
		Admins:            []string{admin.PubKey().Address().String()},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}

// EngineIdentity decodes the configured engine address.
func (cfg *Config) EngineIdentity() ([20]byte, error) {
	id, err := crypto.ParseIdentity(cfg.EngineAddress)
	if err != nil {
		return [20]byte{}, fmt.Errorf("EngineAddress: %w", err)
	}
	return id, nil
}

// Identities decodes a configured address list.
func Identities(field string, values []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(values))
	for i, value := range values {
		id, err := crypto.ParseIdentity(value)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, id)
	}
	return out, nil
}
