package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RPC struct {
		HTTPURL    string `yaml:"http_url"`
		WSURL      string `yaml:"ws_url"`
		Commitment string `yaml:"commitment"`
	} `yaml:"rpc"`
	Jupiter struct {
		BaseURL           string  `yaml:"base_url"`
		SlippageBps       int     `yaml:"slippage_bps"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		TimeoutMs         int     `yaml:"timeout_ms"`
	} `yaml:"jupiter"`
	Exit struct {
		MaxDurationS      int     `yaml:"max_duration_s"`
		TakeHalfAt        float64 `yaml:"take_half_at"`
		TakeAllAt         float64 `yaml:"take_all_at"`
		StopOutAt         float64 `yaml:"stop_out_at"`
		PollingIntervalMs int     `yaml:"polling_interval_ms"`
	} `yaml:"exit"`
	Strategy struct {
		Token             string `yaml:"token"`
		AmountLamports    uint64 `yaml:"amount_lamports"`
		MaxAmountLamports uint64 `yaml:"max_amount_lamports"`
		// TargetTime is RFC3339; empty enters immediately.
		TargetTime       string `yaml:"target_time"`
		EntrySlippageBps int    `yaml:"entry_slippage_bps"`
		ExitSlippageBps  int    `yaml:"exit_slippage_bps"`
		BalanceTimeoutS  int    `yaml:"balance_timeout_s"`
		Paper            bool   `yaml:"paper"`
		PaperLamports    uint64 `yaml:"paper_lamports"`
	} `yaml:"strategy"`
	Subscription struct {
		Accounts     []string `yaml:"accounts"`
		Kind         string   `yaml:"kind"`
		IdleTimeoutS int      `yaml:"idle_timeout_s"`
		MaxBackoffS  int      `yaml:"max_backoff_s"`
		HistoryLimit int      `yaml:"history_limit"`
		// MaxRetries of zero keeps reconnecting forever.
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"subscription"`
	Recorder struct {
		InputMint    string `yaml:"input_mint"`
		OutputMint   string `yaml:"output_mint"`
		Amount       uint64 `yaml:"amount"`
		DurationS    int    `yaml:"duration_s"`
		MinIntervalS int    `yaml:"min_interval_s"`
		MaxIntervalS int    `yaml:"max_interval_s"`
	} `yaml:"recorder"`
	Copy struct {
		// BudgetSOL of zero disables candidate allocation in the watcher.
		BudgetSOL         float64 `yaml:"budget_sol"`
		MaxPositions      int     `yaml:"max_positions"`
		MaxPerPositionSOL float64 `yaml:"max_per_position_sol"`
	} `yaml:"copy"`
	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	// Secrets are read from the environment only.
	HeliusAPIKey string `yaml:"-"`
	BaseWallet   string `yaml:"-"`
	TradeWallet  string `yaml:"-"`
}

// Load reads .env (if present) and the YAML file, then applies defaults.
// Callers validate with Validate or the narrower ValidateExit.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	cfg.HeliusAPIKey = os.Getenv("HELIUS_API_KEY")
	cfg.BaseWallet = os.Getenv("BASE_WALLET")
	cfg.TradeWallet = os.Getenv("TRADE_WALLET")
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPC.Commitment == "" {
		c.RPC.Commitment = "finalized"
	}
	if c.Jupiter.SlippageBps == 0 {
		c.Jupiter.SlippageBps = 100
	}
	if c.Jupiter.TimeoutMs == 0 {
		c.Jupiter.TimeoutMs = 10_000
	}
	if c.Exit.PollingIntervalMs == 0 {
		c.Exit.PollingIntervalMs = 1000
	}
	if c.Strategy.EntrySlippageBps == 0 {
		c.Strategy.EntrySlippageBps = 300
	}
	if c.Strategy.ExitSlippageBps == 0 {
		c.Strategy.ExitSlippageBps = 4500
	}
	if c.Strategy.BalanceTimeoutS == 0 {
		c.Strategy.BalanceTimeoutS = 30
	}
	if c.Subscription.Kind == "" {
		c.Subscription.Kind = string(domain.KindLogs)
	}
	if c.Subscription.IdleTimeoutS == 0 {
		c.Subscription.IdleTimeoutS = 60
	}
	if c.Subscription.MaxBackoffS == 0 {
		c.Subscription.MaxBackoffS = 30
	}
	if c.Subscription.HistoryLimit == 0 {
		c.Subscription.HistoryLimit = 20
	}
	if c.Recorder.InputMint == "" {
		c.Recorder.InputMint = domain.MintSOL
	}
	if c.Recorder.Amount == 0 {
		c.Recorder.Amount = 1_000_000_000
	}
	if c.Recorder.MinIntervalS == 0 {
		c.Recorder.MinIntervalS = 30
	}
	if c.Recorder.MaxIntervalS == 0 {
		c.Recorder.MaxIntervalS = 300
	}
	if c.Copy.MaxPositions == 0 {
		c.Copy.MaxPositions = 3
	}
	if c.Copy.MaxPerPositionSOL == 0 {
		c.Copy.MaxPerPositionSOL = 0.1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "trader.db"
	}
}

// Endpoints returns the configured RPC URLs, falling back to Helius when only
// the API key is set.
func (c *Config) Endpoints() (httpURL, wsURL string, err error) {
	httpURL, wsURL = c.RPC.HTTPURL, c.RPC.WSURL
	if (httpURL == "" || wsURL == "") && c.HeliusAPIKey != "" {
		h, w := "https://mainnet.helius-rpc.com/?api-key="+c.HeliusAPIKey, "wss://mainnet.helius-rpc.com/?api-key="+c.HeliusAPIKey
		if httpURL == "" {
			httpURL = h
		}
		if wsURL == "" {
			wsURL = w
		}
	}
	if httpURL == "" || wsURL == "" {
		return "", "", fmt.Errorf("rpc urls or HELIUS_API_KEY required")
	}
	return httpURL, wsURL, nil
}

func (c *Config) ExitRules() domain.ExitRules {
	return domain.ExitRules{
		MaxDuration:     time.Duration(c.Exit.MaxDurationS) * time.Second,
		TakeHalfAt:      c.Exit.TakeHalfAt,
		TakeAllAt:       c.Exit.TakeAllAt,
		StopOutAt:       c.Exit.StopOutAt,
		PollingInterval: time.Duration(c.Exit.PollingIntervalMs) * time.Millisecond,
	}
}

func (c *Config) ValidateExit() error {
	if err := c.ExitRules().Validate(); err != nil {
		return fmt.Errorf("exit: %w", err)
	}
	return nil
}

// Validate checks everything the strategy binary needs.
func (c *Config) Validate() error {
	if err := c.ValidateExit(); err != nil {
		return err
	}
	if err := validateAddress("strategy.token", c.Strategy.Token); err != nil {
		return err
	}
	if err := validateAddress("BASE_WALLET", c.BaseWallet); err != nil {
		return err
	}
	if err := validateAddress("TRADE_WALLET", c.TradeWallet); err != nil {
		return err
	}
	if c.Strategy.AmountLamports == 0 {
		return fmt.Errorf("strategy.amount_lamports must be positive")
	}
	if _, err := c.TargetTime(); err != nil {
		return err
	}
	return nil
}

func (c *Config) ValidateSubscription() error {
	if len(c.Subscription.Accounts) == 0 {
		return fmt.Errorf("subscription.accounts must not be empty")
	}
	for _, a := range c.Subscription.Accounts {
		if err := validateAddress("subscription.accounts", a); err != nil {
			return err
		}
	}
	switch domain.SubscriptionKind(c.Subscription.Kind) {
	case domain.KindLogs, domain.KindAccount:
	default:
		return fmt.Errorf("subscription.kind must be logs or account, got %q", c.Subscription.Kind)
	}
	if c.Subscription.MaxRetries < 0 {
		return fmt.Errorf("subscription.max_retries must not be negative")
	}
	return nil
}

func (c *Config) ValidateRecorder() error {
	if err := validateAddress("recorder.input_mint", c.Recorder.InputMint); err != nil {
		return err
	}
	if err := validateAddress("recorder.output_mint", c.Recorder.OutputMint); err != nil {
		return err
	}
	if c.Recorder.MinIntervalS <= 0 || c.Recorder.MaxIntervalS < c.Recorder.MinIntervalS {
		return fmt.Errorf("recorder intervals must satisfy 0 < min_interval_s <= max_interval_s")
	}
	return nil
}

func (c *Config) TargetTime() (time.Time, error) {
	if c.Strategy.TargetTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Strategy.TargetTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("strategy.target_time: %w", err)
	}
	return t, nil
}

func (c *Config) StrategyConfig() (usecase.StrategyConfig, error) {
	target, err := c.TargetTime()
	if err != nil {
		return usecase.StrategyConfig{}, err
	}
	return usecase.StrategyConfig{
		BaseWallet:       c.BaseWallet,
		TradeWallet:      c.TradeWallet,
		Token:            c.Strategy.Token,
		ReferenceMint:    domain.MintSOL,
		Amount:           c.Strategy.AmountLamports,
		MaxAmount:        c.Strategy.MaxAmountLamports,
		EntrySlippageBps: c.Strategy.EntrySlippageBps,
		ExitSlippageBps:  c.Strategy.ExitSlippageBps,
		TargetTime:       target,
		Rules:            c.ExitRules(),
		BalanceTimeout:   time.Duration(c.Strategy.BalanceTimeoutS) * time.Second,
	}, nil
}

func (c *Config) SubscriptionConfig() usecase.SubscriptionConfig {
	return usecase.SubscriptionConfig{
		Accounts:     c.Subscription.Accounts,
		Kind:         domain.SubscriptionKind(c.Subscription.Kind),
		IdleTimeout:  time.Duration(c.Subscription.IdleTimeoutS) * time.Second,
		MaxBackoff:   time.Duration(c.Subscription.MaxBackoffS) * time.Second,
		HistoryLimit: c.Subscription.HistoryLimit,
	}
}

func (c *Config) RecorderConfig() usecase.QuoteRecorderConfig {
	return usecase.QuoteRecorderConfig{
		InputMint:   c.Recorder.InputMint,
		OutputMint:  c.Recorder.OutputMint,
		Amount:      c.Recorder.Amount,
		Duration:    time.Duration(c.Recorder.DurationS) * time.Second,
		MinInterval: time.Duration(c.Recorder.MinIntervalS) * time.Second,
		MaxInterval: time.Duration(c.Recorder.MaxIntervalS) * time.Second,
	}
}

func validateAddress(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return fmt.Errorf("%s: invalid address %q: %w", field, addr, err)
	}
	return nil
}
