package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// HeliusURLs returns the HTTP and websocket endpoints for an API key.
func HeliusURLs(apiKey string) (httpURL, wsURL string) {
	return "https://mainnet.helius-rpc.com/?api-key=" + apiKey, "wss://mainnet.helius-rpc.com/?api-key=" + apiKey
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCClient is a JSON-RPC HTTP client for balances, history and transactions.
type RPCClient struct {
	url        string
	commitment string
	client     *http.Client
	nextID     atomic.Int64
	logger     *zap.Logger
}

func NewRPCClient(url, commitment string, logger *zap.Logger) *RPCClient {
	if commitment == "" {
		commitment = "finalized"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCClient{
		url:        url,
		commitment: commitment,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", method, domain.ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var r rpcResponse
	if err := json.Unmarshal(respBody, &r); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if r.Error != nil {
		return fmt.Errorf("%s: %w", method, r.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}

// Balance returns the native balance in lamports.
func (c *RPCClient) Balance(ctx context.Context, address string) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{address, map[string]any{"commitment": c.commitment}}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

type tokenAccountsResult struct {
	Value []struct {
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string `json:"mint"`
						TokenAmount struct {
							Amount   string `json:"amount"`
							Decimals int    `json:"decimals"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// Contents implements domain.WalletBalanceSource. Zero token balances are omitted.
func (c *RPCClient) Contents(ctx context.Context, address string) (domain.WalletContents, error) {
	lamports, err := c.Balance(ctx, address)
	if err != nil {
		return nil, err
	}
	out := domain.WalletContents{
		domain.MintSOL: {Mint: domain.MintSOL, RawAmount: lamports, UIAmount: domain.UIAmount(lamports, 9), Decimals: 9, Symbol: "SOL"},
	}

	for _, program := range []string{TokenProgramID, Token2022ProgramID} {
		var res tokenAccountsResult
		params := []any{address, map[string]any{"programId": program}, map[string]any{"encoding": "jsonParsed", "commitment": c.commitment}}
		if err := c.call(ctx, "getTokenAccountsByOwner", params, &res); err != nil {
			return nil, err
		}
		for _, acc := range res.Value {
			info := acc.Account.Data.Parsed.Info
			raw, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
			if err != nil || raw == 0 {
				continue
			}
			// one wallet can hold several accounts of the same mint
			prev := out[info.Mint]
			total := prev.RawAmount + raw
			out[info.Mint] = domain.TokenBalance{
				Mint:      info.Mint,
				RawAmount: total,
				UIAmount:  domain.UIAmount(total, info.TokenAmount.Decimals),
				Decimals:  info.TokenAmount.Decimals,
			}
		}
	}
	return out, nil
}

// RecentSignatures implements domain.SignatureHistory via getSignaturesForAddress.
func (c *RPCClient) RecentSignatures(ctx context.Context, account, until string, limit int) ([]domain.SignatureInfo, error) {
	opts := map[string]any{"limit": limit, "commitment": c.commitment}
	if until != "" {
		opts["until"] = until
	}
	var res []struct {
		Signature string          `json:"signature"`
		Slot      uint64          `json:"slot"`
		Err       json.RawMessage `json:"err"`
		BlockTime *int64          `json:"blockTime"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", []any{account, opts}, &res); err != nil {
		return nil, err
	}

	out := make([]domain.SignatureInfo, 0, len(res))
	for _, r := range res {
		info := domain.SignatureInfo{Signature: r.Signature, Slot: r.Slot, Failed: isSet(r.Err)}
		if r.BlockTime != nil {
			info.BlockTime = time.Unix(*r.BlockTime, 0).UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

type txResult struct {
	Slot uint64 `json:"slot"`
	Meta *struct {
		Err               json.RawMessage `json:"err"`
		LogMessages       []string        `json:"logMessages"`
		PreBalances       []uint64        `json:"preBalances"`
		PostBalances      []uint64        `json:"postBalances"`
		InnerInstructions []struct {
			Instructions []struct {
				ProgramID string `json:"programId"`
			} `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
}

// Transaction implements domain.TransactionFetcher. A null result means the
// transaction is not available yet.
func (c *RPCClient) Transaction(ctx context.Context, signature string) (*domain.TransactionInfo, error) {
	var res *txResult
	params := []any{signature, map[string]any{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0, "commitment": "confirmed"}}
	if err := c.call(ctx, "getTransaction", params, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	info := &domain.TransactionInfo{Signature: signature, Slot: res.Slot}
	if res.Meta == nil {
		info.Failed = true
		return info, nil
	}
	info.Failed = isSet(res.Meta.Err)
	info.LogMessages = res.Meta.LogMessages
	for _, inner := range res.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			if ix.ProgramID != "" {
				info.ProgramIDs = append(info.ProgramIDs, ix.ProgramID)
			}
		}
	}
	info.BalancesChanged = !slices.Equal(res.Meta.PreBalances, res.Meta.PostBalances)
	return info, nil
}

func isSet(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
