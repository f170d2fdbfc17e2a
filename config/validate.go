package config

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// ValidateConfig checks the settings the node cannot start without.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ProtocolName) == "" {
		return fmt.Errorf("ProtocolName must not be empty")
	}
	if strings.TrimSpace(cfg.ProtocolVersion) == "" {
		return fmt.Errorf("ProtocolVersion must not be empty")
	}
	if cfg.ChainID == 0 || cfg.ChainID > math.MaxInt64 {
		return fmt.Errorf("ChainID must be between 1 and %d", int64(math.MaxInt64))
	}
	engine, err := cfg.EngineIdentity()
	if err != nil {
		return err
	}
	if engine == ([20]byte{}) {
		return fmt.Errorf("EngineAddress must not be the zero identity")
	}
	admins, err := Identities("Admins", cfg.Admins)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		return fmt.Errorf("at least one admin must be configured")
	}
	if _, err := Identities("Relayers", cfg.Relayers); err != nil {
		return err
	}
	if _, err := Identities("EscalationSigners", cfg.EscalationSigners); err != nil {
		return err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.Level: %w", err)
	}
	if cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}
