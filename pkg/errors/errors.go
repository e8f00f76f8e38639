package apperrors

import "errors"

// Standardized wallet and payment errors
var (
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrPaymentTimeout      = errors.New("payment did not complete within timeout")
	ErrQuoteNotPaid        = errors.New("quote not paid")
	ErrNoActiveMint        = errors.New("no active mint")
	ErrNoCredential        = errors.New("no api key configured for top-up")
	ErrCredentialNotFound  = errors.New("api key not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTopupRejected       = errors.New("top-up rejected")
	ErrNetwork             = errors.New("network error")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrMintUnavailable     = errors.New("mint unavailable")
	ErrUnknownChannel      = errors.New("unknown refill channel")
)
