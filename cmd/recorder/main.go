package main

import (
	"context"
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
	"github.com/vitos/dex_exit_trader/internal/infrastructure/storage"
	"github.com/vitos/dex_exit_trader/internal/usecase"
	"go.uber.org/zap"
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
	if err := cfg.ValidateRecorder(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, closeLog, err := logger.NewRunLogger(cfg.Logging.Dir, "recorder", cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("Recorder stopped with error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
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

	// 4. Init Recorder
	quotes := jupiter.NewClient(jupiter.Config{
		BaseURL:           cfg.Jupiter.BaseURL,
		SlippageBps:       cfg.Jupiter.SlippageBps,
		RequestsPerSecond: cfg.Jupiter.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Jupiter.TimeoutMs) * time.Millisecond,
	}, log)
	recorder, err := usecase.NewQuoteRecorder(cfg.RecorderConfig(), quotes, store, log)
	if err != nil {
		return fmt.Errorf("init recorder: %w", err)
	}
	recorder.OnSave(func(rec *domain.QuoteRecord) {
		fmt.Printf("%s  #%d  %d -> %d\n", rec.Quote.Timestamp.Format(time.TimeOnly), rec.ID, rec.Quote.InAmount, rec.Quote.OutAmount)
	})

	// 5. Run
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Recording quotes",
		zap.String("session", recorder.SessionID()),
		zap.String("input", cfg.Recorder.InputMint),
		zap.String("output", cfg.Recorder.OutputMint))
	if err := recorder.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Printf("Session %s recorded to %s\n", recorder.SessionID(), cfg.Storage.Path)
	return nil
}
