package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/dex_exit_trader/internal/config"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/jupiter"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/logger"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/metrics"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/paper"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/storage"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/terminal"
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
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, closeLog, err := logger.NewRunLogger(cfg.Logging.Dir, "exit_bot", cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("Exit bot stopped with error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
	log.Info("Exit bot stopped")
	closeLog()
}

// run returns instead of exiting so its deferred cleanup always runs.
func run(cfg *config.Config, log *zap.Logger) error {
	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer store.Close()

	// 4. Init Quote Source
	quotes := jupiter.NewClient(jupiter.Config{
		BaseURL:           cfg.Jupiter.BaseURL,
		SlippageBps:       cfg.Jupiter.SlippageBps,
		RequestsPerSecond: cfg.Jupiter.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Jupiter.TimeoutMs) * time.Millisecond,
	}, log)

	// 5. Init Executor
	if !cfg.Strategy.Paper {
		return errors.New("signed swap execution is not available, set strategy.paper to true")
	}
	exec := paper.NewExecutor(quotes, log)
	exec.Fund(cfg.BaseWallet, domain.MintSOL, cfg.Strategy.PaperLamports)
	log.Info("Paper mode", zap.String("base_wallet", cfg.BaseWallet), zap.Uint64("lamports", cfg.Strategy.PaperLamports))

	// 6. Init Strategy
	strategyCfg, err := cfg.StrategyConfig()
	if err != nil {
		return fmt.Errorf("strategy config: %w", err)
	}
	collectors := metrics.New()
	mailbox := usecase.NewOverrideMailbox(log)
	runner, err := usecase.NewStrategyRunner(strategyCfg, exec, exec, exec, quotes, log)
	if err != nil {
		return fmt.Errorf("init strategy: %w", err)
	}
	runner.WithTrades(store).WithOverrides(mailbox).WithObserver(collectors)

	server := web.NewServer(cfg.Server.Port, runner, store, collectors.Handler(), log)
	keys := usecase.NewKeyInput(os.Stdin, nil, log)
	restoreTerm, err := terminal.Cbreak(os.Stdin)
	if err != nil {
		log.Warn("Terminal stays line buffered, press Enter after each key", zap.Error(err))
		restoreTerm = func() error { return nil }
	}
	defer restoreTerm()

	// 7. Run until the position is closed or a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info("Starting exit bot",
		zap.String("session", runner.SessionID()),
		zap.String("token", strategyCfg.Token),
		zap.Time("target", strategyCfg.TargetTime))
	fmt.Println("Press 'h' to sell half, 'a' to sell all")

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancel()
		res, err := runner.Run(gctx)
		if err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
		log.Info("Session finished",
			zap.String("entry", res.EntrySignature),
			zap.Strings("exits", res.ExitSignatures),
			zap.Uint64("consolidated", res.Consolidated))
		return nil
	})
	group.Go(func() error {
		if err := server.Run(gctx, mailbox); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return keys.Run(gctx, mailbox)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
