package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/dex_exit_trader/internal/config"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/logger"
	"github.com/vitos/dex_exit_trader/internal/infrastructure/storage"
	"github.com/vitos/dex_exit_trader/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	session := flag.String("session", "", "recorded session to analyze (default: latest)")
	reference := flag.String("reference", domain.MintSOL, "reference asset mint")
	trades := flag.Int("trades", 0, "also print the N most recent trades")
	flag.Parse()

	cfg, err := config.Load(*configPath, "")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	sessionID := *session
	if sessionID == "" {
		if sessionID, err = store.LatestQuoteSession(ctx); err != nil {
			log.Fatal("Failed to find latest session", zap.Error(err))
		}
		if sessionID == "" {
			fmt.Println("No recorded sessions found.")
			return
		}
	}

	records, err := store.ListQuotes(ctx, sessionID, 0)
	if err != nil {
		log.Fatal("Failed to load quotes", zap.Error(err))
	}

	var rules *domain.ExitRules
	if err := cfg.ValidateExit(); err == nil {
		r := cfg.ExitRules()
		rules = &r
	} else {
		fmt.Printf("Exit rules not replayed: %v\n", err)
	}

	res, err := usecase.NewSessionAnalyzer(log).Analyze(records, *reference, rules)
	if err != nil {
		fmt.Printf("Error analyzing session %s: %v\n", sessionID, err)
		os.Exit(1)
	}

	fmt.Printf("Session:  %s\n", res.SessionID)
	fmt.Printf("Samples:  %d (%s .. %s, %s)\n", res.Samples, res.Start.Format(time.DateTime), res.End.Format(time.DateTime), res.End.Sub(res.Start).Round(time.Second))
	fmt.Printf("Change:   %+.3f%%\n", res.ChangePct)
	fmt.Printf("Peak:     %+.3f%% at %s\n", res.PeakPct, res.PeakAt.Format(time.TimeOnly))
	fmt.Printf("Trough:   %+.3f%% at %s\n", res.TroughPct, res.TroughAt.Format(time.TimeOnly))
	if rules != nil {
		if len(res.Exits) == 0 {
			fmt.Println("Rules:    no exit would have fired")
		}
		for _, e := range res.Exits {
			fmt.Printf("Rules:    %-9s after %-8s at %+.3f%%\n", e.Decision, e.Elapsed.Round(time.Second), e.PctChange)
		}
	}

	if *trades > 0 {
		list, err := store.ListTrades(ctx, *trades)
		if err != nil {
			log.Fatal("Failed to list trades", zap.Error(err))
		}
		fmt.Printf("\n%-20s %-9s %-11s %14s %14s  %s\n", "TIME", "KIND", "REASON", "IN", "OUT", "SIGNATURE")
		for _, t := range list {
			fmt.Printf("%-20s %-9s %-11s %14d %14d  %s\n", t.CreatedAt.Format(time.DateTime), t.Kind, t.Reason, t.InAmount, t.OutAmount, t.Signature)
		}
	}
}
