package domain

import "time"

// Well-known mints on the reference chain.
const (
	MintSOL  = "So11111111111111111111111111111111111111112"
	MintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Quote is an immutable exchange sample between two assets. Amounts are in base units.
type Quote struct {
	InputMint      string    `json:"input_mint"`
	OutputMint     string    `json:"output_mint"`
	InAmount       uint64    `json:"in_amount"`
	OutAmount      uint64    `json:"out_amount"`
	PriceImpactPct float64   `json:"price_impact_pct"`
	Timestamp      time.Time `json:"timestamp"`
}

// QuoteRecord is a quote persisted by the recorder.
type QuoteRecord struct {
	ID        int64
	SessionID string
	Quote     Quote
}
