package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/oriys/zkrelay/internal/config"
	"github.com/oriys/zkrelay/internal/ers"
	"github.com/oriys/zkrelay/internal/ers/orderstore"
	"github.com/oriys/zkrelay/internal/logging"
	"github.com/oriys/zkrelay/internal/market"
	"github.com/oriys/zkrelay/internal/metrics"
	"github.com/oriys/zkrelay/internal/observability"
)

func daemonCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the reconciliation poll loop",
		Long:  "Ticks the Event Poller at the configured interval until a fatal error or shutdown signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: "ers",
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var m *metrics.Metrics
			if cfg.Observability.Metrics.Enabled {
				m = metrics.Init(cfg.Observability.Metrics.Namespace)
			}

			orders, closeOrders, err := buildOrderStore(ctx, cfg, local)
			if err != nil {
				return err
			}
			defer closeOrders()

			mkt, err := buildMarketClient(ctx, cfg.ERS.Market)
			if err != nil {
				return err
			}

			skipList, err := parseSkipList(cfg.ERS.SkipList)
			if err != nil {
				return err
			}

			poller := ers.NewPoller(mkt, orders, m, skipList)
			sup := ers.NewSupervisor(poller, m, cfg.ERS.PollInterval, cfg.ERS.MaxRetries)

			logging.Op().Info("ers daemon started",
				"rpc_url", cfg.ERS.Market.RPCURL,
				"market_address", cfg.ERS.Market.MarketAddress,
				"poll_interval", cfg.ERS.PollInterval.String(),
				"max_retries", cfg.ERS.MaxRetries)

			err = sup.Run(ctx)
			if errors.Is(err, context.Canceled) {
				logging.Op().Info("shutdown signal received")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "use an in-memory order store instead of Postgres")
	return cmd
}

func buildOrderStore(ctx context.Context, cfg *config.Config, local bool) (orderstore.Store, func(), error) {
	if local {
		return orderstore.NewMemoryStore(), func() {}, nil
	}
	pg, err := orderstore.NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect order store: %w", err)
	}
	return pg, func() { pg.Close() }, nil
}

// buildMarketClient dials the configured RPC endpoint and, if a signer key
// file is set, loads it into a chain-bound transactor so the Slasher can
// submit slash transactions. A missing signer is not fatal here: the
// Poller still queries events and deadlines; Slash calls will surface a
// recoverable errNoSigner error that the Supervisor's retry budget governs.
func buildMarketClient(ctx context.Context, cfg config.MarketConfig) (*market.Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	contract := common.HexToAddress(cfg.MarketAddress)

	var signer *bind.TransactOpts
	if cfg.SignerKeyFile != "" {
		signer, err = loadSigner(cfg.SignerKeyFile, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("load signer: %w", err)
		}
	}

	return market.NewClient(eth, contract, signer), nil
}

func loadSigner(keyFile string, chainID int64) (*bind.TransactOpts, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
}

func parseSkipList(raw []string) (map[common.Address]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[common.Address]bool, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid skip-list address: %s", s)
		}
		out[common.HexToAddress(s)] = true
	}
	return out, nil
}
