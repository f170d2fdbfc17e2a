package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"offlinesettle/cmd/internal/passphrase"
	"offlinesettle/config"
	"offlinesettle/core/events"
	gatewayconfig "offlinesettle/gateway/config"
	"offlinesettle/gateway/stream"
	"offlinesettle/native/settlement"
	"offlinesettle/observability"
	"offlinesettle/observability/logging"
	telemetry "offlinesettle/observability/otel"
	"offlinesettle/storage"
)

const passphraseEnv = "SETTLE_ADMIN_PASSPHRASE"

var version = "dev"

func main() {
	cfgPath := flag.String("config", "./settle.toml", "path to the node configuration (TOML or YAML)")
	gatewayPath := flag.String("gateway-config", "", "override the gateway configuration path")
	allowInsecure := flag.Bool("allow-insecure", false, "DEV ONLY: permit plaintext listeners on non-loopback interfaces")
	flag.Parse()

	if err := run(*cfgPath, *gatewayPath, *allowInsecure); err != nil {
		fmt.Fprintf(os.Stderr, "settled: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, gatewayPath string, allowInsecure bool) error {
	var opts []config.LoadOption
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		pass, err := passphrase.NewSource(passphraseEnv, "admin keystore").Get()
		if err != nil {
			return err
		}
		opts = append(opts, config.WithKeystorePassphrase(pass))
	}
	cfg, err := config.Load(cfgPath, opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOutput := logging.Output(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if closer, ok := logOutput.(io.Closer); ok {
		defer closer.Close()
	}
	logger := logging.SetupWriter(logOutput, "settled", logging.Options{
		Environment: cfg.Log.Environment,
		Level:       cfg.Log.Level,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "settled",
		ServiceVersion: version,
		Environment:    cfg.Log.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if gatewayPath == "" {
		gatewayPath = resolvePath(filepath.Dir(cfgPath), cfg.GatewayConfig)
	}
	gwCfg, err := gatewayconfig.Load(gatewayPath)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hub := stream.NewHub(gwCfg.Stream.Buffer, logger)
	exec, roles, err := buildExecutor(cfg, db, logger, events.Multi{hub, observability.Events()})
	if err != nil {
		return err
	}

	srv, err := newServer(gwCfg, filepath.Dir(gatewayPath), exec, roles, hub, logger, allowInsecure)
	if err != nil {
		return err
	}
	domain := exec.Engine().Verifier().Domain()
	logger.Info("settlement engine ready",
		"name", domain.Name,
		"version", domain.Version,
		"chainId", domain.ChainID,
		"dataDir", cfg.DataDir)
	return srv.run(ctx, gwCfg.ShutdownTimeout)
}

// buildExecutor opens the persisted state, installs the configured roles and
// wires the engine to its emitter and payout channel.
func buildExecutor(cfg *config.Config, db storage.Database, logger *slog.Logger, emitter events.Emitter) (*settlement.Executor, *settlement.Roles, error) {
	engineID, err := cfg.EngineIdentity()
	if err != nil {
		return nil, nil, err
	}
	verifier, err := settlement.NewVerifier(settlement.Domain{
		Name:              cfg.ProtocolName,
		Version:           cfg.ProtocolVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: engineID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure domain: %w", err)
	}
	state, err := settlement.NewKVState(db)
	if err != nil {
		return nil, nil, fmt.Errorf("open settlement state: %w", err)
	}
	engine, err := settlement.NewEngine(state, verifier)
	if err != nil {
		return nil, nil, err
	}

	roles, err := settlement.NewRoles(db)
	if err != nil {
		return nil, nil, fmt.Errorf("load roles: %w", err)
	}
	bootstrap := []struct {
		role   settlement.Role
		field  string
		values []string
	}{
		{settlement.RoleAdmin, "Admins", cfg.Admins},
		{settlement.RoleRelayer, "Relayers", cfg.Relayers},
		{settlement.RoleEscalationSigner, "EscalationSigners", cfg.EscalationSigners},
	}
	for _, entry := range bootstrap {
		ids, err := config.Identities(entry.field, entry.values)
		if err != nil {
			return nil, nil, err
		}
		seeded, err := roles.Seed(entry.role, ids...)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap %s: %w", entry.role, err)
		}
		if !seeded && len(ids) > 0 {
			logger.Info("role already provisioned; configured members not re-applied",
				"role", string(entry.role),
				"configured", len(ids),
				"members", len(roles.Members(entry.role)))
		}
	}

	counts, err := recordCounts(state)
	if err != nil {
		return nil, nil, fmt.Errorf("scan settlement records: %w", err)
	}
	logger.Info("settlement state loaded",
		"pending", counts[settlement.StatusPending],
		"finalized", counts[settlement.StatusFinalized],
		"rejected", counts[settlement.StatusRejected],
		"autoFinalized", counts[settlement.StatusAutoFinalized])

	engine.SetAuthorizer(roles)
	engine.SetEmitter(emitter)
	engine.SetPayout(ledgerPayout(logger))

	exec := settlement.NewExecutor(engine, logger)
	exec.SetObserver(observability.Settlement())
	return exec, roles, nil
}

// recordCounts tallies persisted transfers by status.
func recordCounts(state *settlement.KVState) (map[settlement.Status]int, error) {
	counts := make(map[settlement.Status]int)
	err := state.Records(func(rec *settlement.Record) bool {
		counts[rec.Status]++
		return true
	})
	return counts, err
}

// ledgerPayout records released funds in the service log. Deployments that
// move funds off-ledger replace it with a real channel.
func ledgerPayout(logger *slog.Logger) settlement.PayoutChannel {
	log := logger.With("component", "payout")
	return settlement.PayoutFunc(func(ctx context.Context, owner, destination [20]byte, amount *uint256.Int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info("payout released",
			"owner", common.Address(owner).Hex(),
			"destination", common.Address(destination).Hex(),
			"amount", amount.Dec())
		return nil
	})
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}
