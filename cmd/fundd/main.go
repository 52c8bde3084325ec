package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundchain/config"
	"fundchain/core/state"
	"fundchain/native/bank"
	"fundchain/native/fund"
	"fundchain/observability/logging"
	"fundchain/observability/metrics"
	"fundchain/storage"
)

func main() {
	configFile := flag.String("config", "./fund.toml", "Path to the configuration file")
	dataDir := flag.String("data", "./fund-data", "Path to the state database directory")
	listenAddr := flag.String("listen", ":9464", "Address for the metrics and health endpoints")
	genesisAum := flag.String("genesis-aum", "", "Initial AUM used to seed a fresh fund (decimal)")
	genesisSupply := flag.String("genesis-supply", "", "Initial claim supply minted to the treasury (decimal)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FUND_ENV"))
	logger := logging.Setup("fundd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	params, err := cfg.Params()
	if err != nil {
		logger.Error("Invalid fund parameters", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	store, err := state.NewStore(db)
	if err != nil {
		logger.Error("Failed to open state store", slog.Any("error", err))
		os.Exit(1)
	}

	tokens := bank.NewLedger(store)
	oracle := fund.NewStaticOracle()
	registry := fund.NewParticipantRegistry(store)
	ledger := fund.NewLedger(store, tokens, registry, params)
	gateway := fund.NewGateway(store, tokens, oracle, ledger, registry, params)
	fundMetrics := metrics.Fund()
	ledger.SetMetrics(fundMetrics)
	gateway.SetMetrics(fundMetrics)

	if err := bootstrap(store, tokens, ledger, gateway, cfg, params, *genesisAum, *genesisSupply); err != nil {
		logger.Error("Bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Fund module initialised",
		slog.String("claimToken", params.ClaimToken),
		slog.Int("assets", len(cfg.Assets)),
		logging.MaskField("treasury", hex.EncodeToString(params.Treasury[:])),
		logging.MaskField("managementTreasury", hex.EncodeToString(params.ManagementTreasury[:])),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: *listenAddr, Handler: mux}

	go func() {
		logger.Info("Serving observability endpoints", slog.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", slog.Any("error", err))
	}
	logger.Info("Shutdown complete")
}

// hostExecutor is the identity fundd uses for governance-gated bootstrap
// actions like asset listing.
var hostExecutor = fund.ModuleAddress("host/governance")

// bootstrap grants the host its operating roles, seeds genesis on first start
// and reconciles the configured asset allow-list.
func bootstrap(store *state.Store, tokens *bank.Ledger, ledger *fund.Ledger, gateway *fund.Gateway, cfg *config.Config, params fund.Params, genesisAum, genesisSupply string) error {
	if err := store.SetRole(fund.RoleGovernanceExecutor, hostExecutor[:], true); err != nil {
		return err
	}

	if _, err := ledger.State(); errors.Is(err, fund.ErrGenesisMissing) {
		if strings.TrimSpace(genesisAum) == "" || strings.TrimSpace(genesisSupply) == "" {
			return errors.New("fresh state requires -genesis-aum and -genesis-supply")
		}
		aum, err := fund.ParseValue(genesisAum, fund.TokenDecimals)
		if err != nil {
			return err
		}
		supply, err := fund.ParseValue(genesisSupply, fund.TokenDecimals)
		if err != nil {
			return err
		}
		if err := tokens.Mint(params.ClaimToken, params.Treasury, supply.Amount); err != nil {
			return err
		}
		if err := ledger.InitGenesis(aum, supply); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	listed, err := gateway.Assets()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(listed))
	for _, asset := range listed {
		known[asset.Symbol] = true
	}
	for _, asset := range cfg.AssetConfigs() {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if known[symbol] {
			continue
		}
		err := gateway.ListAssets(hostExecutor, []string{asset.Symbol}, []string{asset.FeedID}, []uint8{asset.Decimals})
		if err != nil && !errors.Is(err, fund.ErrAssetExists) {
			return err
		}
	}
	return nil
}
