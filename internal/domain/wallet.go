package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TokenBalance is one asset held by a wallet.
type TokenBalance struct {
	Mint      string  `json:"mint"`
	RawAmount uint64  `json:"raw_amount"`
	UIAmount  float64 `json:"ui_amount"`
	Decimals  int     `json:"decimals"`
	Name      string  `json:"name,omitempty"`
	Symbol    string  `json:"symbol,omitempty"`
}

// WalletContents maps mint -> balance.
type WalletContents map[string]TokenBalance

// Raw returns the raw amount held for mint, or 0.
func (w WalletContents) Raw(mint string) uint64 {
	if w == nil {
		return 0
	}
	return w[mint].RawAmount
}

// UIAmount converts base units to a display amount.
func UIAmount(raw uint64, decimals int) float64 {
	f, _ := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), int32(-decimals)).Float64()
	return f
}

// ToBaseUnits converts a display amount to base units, truncating dust.
func ToBaseUnits(amount decimal.Decimal, decimals int) uint64 {
	if !amount.IsPositive() {
		return 0
	}
	return amount.Shift(int32(decimals)).Truncate(0).BigInt().Uint64()
}

// TradeRecord is a swap or transfer executed by the strategy.
type TradeRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"` // swap | transfer
	InputMint  string    `json:"input_mint"`
	OutputMint string    `json:"output_mint"`
	InAmount   uint64    `json:"in_amount"`
	OutAmount  uint64    `json:"out_amount"`
	Signature  string    `json:"signature"`
	Reason     string    `json:"reason"` // entry | sell_half | sell_all | fund | consolidate
	CreatedAt  time.Time `json:"created_at"`
}

// SwapResult is returned by a SwapExecutor.
type SwapResult struct {
	Signature string
	Quote     Quote
}
