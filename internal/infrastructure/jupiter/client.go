package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://quote-api.jup.ag/v6"

type Config struct {
	BaseURL     string
	SlippageBps int
	// RequestsPerSecond paces outgoing quote calls. Zero disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client fetches swap quotes from the Jupiter aggregator.
type Client struct {
	baseURL     string
	slippageBps int
	client      *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		slippageBps: cfg.SlippageBps,
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     limiter,
		logger:      logger,
	}
}

type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Quote implements domain.QuoteSource.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*domain.Quote, error) {
	pair := inputMint + "/" + outputMint
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewNetworkError(pair, "rate limiter wait", err)
	}

	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(c.slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, domain.NewProviderError(pair, "build request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(pair, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError(pair, "read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewRateLimitError(pair, "HTTP 429 from quote API")
	case resp.StatusCode == http.StatusBadRequest:
		return nil, domain.NewNoRouteError(pair, providerMessage(body))
	case resp.StatusCode >= 400:
		return nil, domain.NewProviderError(pair, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, providerMessage(body)), nil)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, domain.NewProviderError(pair, "decode quote", err)
	}
	q, err := qr.toDomain(inputMint, outputMint)
	if err != nil {
		return nil, domain.NewProviderError(pair, "parse quote", err)
	}

	c.logger.Debug("Quote",
		zap.String("pair", pair),
		zap.Uint64("in", q.InAmount),
		zap.Uint64("out", q.OutAmount))
	return q, nil
}

func (qr quoteResponse) toDomain(inputMint, outputMint string) (*domain.Quote, error) {
	in, err := strconv.ParseUint(qr.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("inAmount %q: %w", qr.InAmount, err)
	}
	out, err := strconv.ParseUint(qr.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("outAmount %q: %w", qr.OutAmount, err)
	}
	if in == 0 || out == 0 {
		return nil, errors.New("zero amount in quote")
	}
	var impact float64
	if qr.PriceImpactPct != "" {
		if impact, err = strconv.ParseFloat(qr.PriceImpactPct, 64); err != nil {
			return nil, fmt.Errorf("priceImpactPct %q: %w", qr.PriceImpactPct, err)
		}
	}
	if qr.InputMint != "" {
		inputMint = qr.InputMint
	}
	if qr.OutputMint != "" {
		outputMint = qr.OutputMint
	}
	return &domain.Quote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: impact,
		Timestamp:      time.Now().UTC(),
	}, nil
}

func providerMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.ErrorCode != "" {
			return e.ErrorCode + ": " + e.Error
		}
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
