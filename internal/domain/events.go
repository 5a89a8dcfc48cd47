package domain

import "time"

// SentinelSignature is a transport placeholder, never a real transaction.
const SentinelSignature = "1111111111111111111111111111111111111111111111111111111111111111"

type SubscriptionKind string

const (
	KindLogs    SubscriptionKind = "logs"
	KindAccount SubscriptionKind = "account"
)

// Notification is one decoded websocket push for a subscribed account.
// Account-kind notifications have no signature.
type Notification struct {
	Account   string
	Signature string
	Slot      uint64
	Failed    bool
}

// SignatureEvent is emitted by the reconnecting subscription.
type SignatureEvent struct {
	Account    string    `json:"account"`
	Signature  string    `json:"signature"`
	Backfilled bool      `json:"backfilled"`
	ReceivedAt time.Time `json:"received_at"`
}

// SignatureInfo is one entry of an account's recent history.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	Failed    bool
	BlockTime time.Time
}

// TransactionInfo is the subset of a fetched transaction used for classification.
type TransactionInfo struct {
	Signature   string
	Failed      bool
	LogMessages []string
	// ProgramIDs are the programs invoked by inner instructions.
	ProgramIDs      []string
	BalancesChanged bool
	Slot            uint64
}

type TxType string

const (
	TxTokenSwap    TxType = "token_swap"
	TxTransfer     TxType = "transfer"
	TxTokenMint    TxType = "token_mint"
	TxTokenBurn    TxType = "token_burn"
	TxAddLiquidity TxType = "add_liquidity"
	TxOther        TxType = "other"
	TxFailed       TxType = "failed"
)
