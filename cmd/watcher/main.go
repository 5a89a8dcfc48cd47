package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/vitos/dex_exit_trader/internal/config"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/logger"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/metrics"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/solana"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/storage"
	"github.com/vitos/dex_exit_trader/internal/usecase"
	"github.com/vitos/dex_exit_trader/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	envPath := flag.String("env", ".env", "path to the .env file with secrets")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateSubscription(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}
	httpURL, wsURL, err := cfg.Endpoints()
	if err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, closeLog, err := logger.NewRunLogger(cfg.Logging.Dir, "watcher", cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, httpURL, wsURL, log); err != nil {
		log.Error("Watcher stopped with error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
	log.Info("Watcher stopped")
	closeLog()
}

// run returns instead of exiting so its deferred cleanup always runs.
func run(cfg *config.Config, httpURL, wsURL string, log *zap.Logger) error {
	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Init RPC
	rpc := solana.NewRPCClient(httpURL, cfg.RPC.Commitment, log)
	transport := solana.NewWSTransport(wsURL, cfg.RPC.Commitment, log)
	collectors := metrics.New()

	var sub *usecase.ReconnectingSubscription
	if cfg.Subscription.MaxRetries > 0 {
		sub = usecase.NewBoundedSubscription(cfg.SubscriptionConfig(), cfg.Subscription.MaxRetries, transport, rpc, log)
	} else {
		sub = usecase.NewReconnectingSubscription(cfg.SubscriptionConfig(), transport, rpc, log)
	}
	sub.WithObserver(collectors)

	// 5. Init Watcher
	mentions := usecase.NewMentionFilter(store, log)
	if err := mentions.Restore(ctx); err != nil {
		log.Error("Failed to restore mentions", zap.Error(err))
	}
	candidate, err := newCandidateHandler(cfg, log)
	if err != nil {
		return fmt.Errorf("copy config: %w", err)
	}
	ignore := append([]string{domain.MintSOL, domain.MintUSDC, solana.TokenProgramID, solana.Token2022ProgramID}, cfg.Subscription.Accounts...)
	onTokens := mentions.TxHandler(ignore, candidate)

	watcher := usecase.NewCopyWatcher(usecase.CopyWatcherConfig{}, rpc, log).
		On(domain.TxTokenMint, onTokens).
		On(domain.TxAddLiquidity, onTokens).
		On(domain.TxTokenSwap, onTokens)

	server := web.NewServer(cfg.Server.Port, nil, nil, collectors.Handler(), log)

	// 6. Run
	if err := sub.Start(ctx); err != nil {
		return fmt.Errorf("start subscription: %w", err)
	}
	log.Info("Watching accounts", zap.Strings("accounts", cfg.Subscription.Accounts), zap.String("kind", cfg.Subscription.Kind))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return watcher.Run(gctx, sub.Events())
	})
	group.Go(func() error {
		<-gctx.Done()
		if err := sub.Close(); err != nil {
			log.Warn("Subscription closed with errors", zap.Error(err))
		}
		return nil
	})
	group.Go(func() error {
		if err := server.Run(gctx, nil); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// newCandidateHandler sizes a position for every newly seen token. With no
// budget configured it only logs the sighting.
func newCandidateHandler(cfg *config.Config, log *zap.Logger) (func(ctx context.Context, token string) error, error) {
	if cfg.Copy.BudgetSOL <= 0 {
		return func(ctx context.Context, token string) error {
			log.Info("New token observed", zap.String("token", token))
			return nil
		}, nil
	}
	positions, err := usecase.NewPositionManager(
		decimal.NewFromFloat(cfg.Copy.BudgetSOL),
		cfg.Copy.MaxPositions,
		decimal.NewFromFloat(cfg.Copy.MaxPerPositionSOL),
		log,
	)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, token string) error {
		amount, ok := positions.Allocate(token)
		if !ok {
			log.Info("New token observed, no allocation available",
				zap.String("token", token),
				zap.Int("open", positions.Open()),
				zap.String("free_sol", positions.Free().String()))
			return nil
		}
		log.Info("Copy candidate",
			zap.String("token", token),
			zap.String("allocation_sol", amount.String()),
			zap.String("free_sol", positions.Free().String()))
		return nil
	}, nil
}
