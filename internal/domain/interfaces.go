package domain

import (
	"context"
	"time"
)

// QuoteSource returns current exchange quotes from a swap aggregator.
type QuoteSource interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error)
}

// WalletBalanceSource returns the assets held by an address.
type WalletBalanceSource interface {
	Contents(ctx context.Context, address string) (WalletContents, error)
}

// SignatureHistory is the REST-style recent history query used for backfill.
// Results are newest first and stop at the until signature when it is found
// within limit entries. An empty until returns the latest entries.
type SignatureHistory interface {
	RecentSignatures(ctx context.Context, account, until string, limit int) ([]SignatureInfo, error)
}

// TransactionFetcher loads a transaction by signature. A nil result with nil
// error means the transaction is not available yet.
type TransactionFetcher interface {
	Transaction(ctx context.Context, signature string) (*TransactionInfo, error)
}

// EventTransport dials push connections for account activity.
type EventTransport interface {
	Dial(ctx context.Context) (EventConn, error)
}

// EventConn is one live push connection.
type EventConn interface {
	Subscribe(ctx context.Context, kind SubscriptionKind, account string) error
	// Receive blocks for at most timeout.
	Receive(ctx context.Context, timeout time.Duration) (Notification, error)
	Close() error
}

// SwapExecutor swaps amount of inputMint into outputMint for the owner wallet.
type SwapExecutor interface {
	Swap(ctx context.Context, owner, inputMint, outputMint string, amount uint64, slippageBps int) (*SwapResult, error)
}

// Transferer moves native lamports between wallets.
type Transferer interface {
	TransferNative(ctx context.Context, from, to string, lamports uint64) (string, error)
}

type QuoteRepository interface {
	SaveQuote(ctx context.Context, rec *QuoteRecord) error
	ListQuotes(ctx context.Context, sessionID string, limit int) ([]*QuoteRecord, error)
}

type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	ListTrades(ctx context.Context, limit int) ([]*TradeRecord, error)
}

// MentionRepository persists first-seen keys for the mention filter.
type MentionRepository interface {
	SaveMention(ctx context.Context, key string, seenAt time.Time) (bool, error)
	ListMentions(ctx context.Context) (map[string]time.Time, error)
}
