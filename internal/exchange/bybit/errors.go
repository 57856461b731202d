package bybit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange"
)

// Bybit V5 return codes the adapter reacts to.
const (
	retCodeInvalidAPIKey    = 10003
	retCodeInvalidSignature = 10004
	retCodeInvalidTimestamp = 10005
	retCodeRateLimited      = 10006
	retCodeReduceOnlyFailed = 110017
	retCodeZeroPosition     = 110025
)

// BybitError carries the raw API return code alongside the message.
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BybitError) Error() string {
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// apiError maps a non-zero return code to the standardized exchange errors
// where a sentinel exists, otherwise returns the raw BybitError.
func apiError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}

	raw := &BybitError{Code: retCode, Message: retMsg}
	switch retCode {
	case retCodeInvalidAPIKey, retCodeInvalidSignature, retCodeInvalidTimestamp:
		return fmt.Errorf("%w: %v", exchange.ErrAuthenticationFailed, raw)
	case retCodeRateLimited:
		return fmt.Errorf("%w: %v", exchange.ErrRateLimitExceeded, raw)
	case retCodeReduceOnlyFailed, retCodeZeroPosition:
		// Closing a position that no longer exists: another layer or the
		// exchange stop got there first.
		return fmt.Errorf("%w: %v", exchange.ErrPositionNotFound, raw)
	}
	return raw
}

// transportError classifies a failure from the HTTP layer itself, before any
// API return code exists. Context ends pass through untouched so caller
// deadlines are never retried.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", exchange.ErrConnectionFailed, op, err)
}
