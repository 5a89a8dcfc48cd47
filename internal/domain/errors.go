package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransient          = errors.New("transient upstream error")
	ErrRateLimited        = errors.New("rate limited")
	ErrNoRoute            = errors.New("no quote route")
	ErrSubscriptionDesync = errors.New("backfill anchor not in recent history")
	ErrNoReferenceAsset   = errors.New("quote does not include the reference asset")
	ErrPollerDone         = errors.New("exit poller finished")
	ErrIdleTimeout        = errors.New("no message within watchdog window")
	ErrBalanceUnchanged   = errors.New("wallet balance did not change in time")
	ErrInsufficientFunds  = errors.New("insufficient funds after rent buffer")
)

type QuoteErrorKind string

const (
	QuoteErrNetwork   QuoteErrorKind = "network"
	QuoteErrRateLimit QuoteErrorKind = "rate_limit"
	QuoteErrNoRoute   QuoteErrorKind = "no_route"
	QuoteErrProvider  QuoteErrorKind = "provider_error"
)

// QuoteError describes a failed quote fetch for one pair.
type QuoteError struct {
	Kind    QuoteErrorKind
	Pair    string
	Message string
	Cause   error
}

func (e *QuoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Pair, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Pair, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Cause }

// Is maps the error kind onto the package sentinels.
func (e *QuoteError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == QuoteErrRateLimit
	case ErrNoRoute:
		return e.Kind == QuoteErrNoRoute
	case ErrTransient:
		// rate limits are transient too
		return e.Kind == QuoteErrNetwork || e.Kind == QuoteErrRateLimit || e.Kind == QuoteErrProvider
	}
	return false
}

func NewNetworkError(pair, message string, cause error) *QuoteError {
	return &QuoteError{Kind: QuoteErrNetwork, Pair: pair, Message: message, Cause: cause}
}

func NewRateLimitError(pair, message string) *QuoteError {
	return &QuoteError{Kind: QuoteErrRateLimit, Pair: pair, Message: message}
}

func NewNoRouteError(pair, message string) *QuoteError {
	return &QuoteError{Kind: QuoteErrNoRoute, Pair: pair, Message: message}
}

func NewProviderError(pair, message string, cause error) *QuoteError {
	return &QuoteError{Kind: QuoteErrProvider, Pair: pair, Message: message, Cause: cause}
}
