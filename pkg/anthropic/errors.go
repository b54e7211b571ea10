package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
)

// Sentinel errors for API failure classes. Callers branch on these with
// eris.Is; the raw SDK error text is preserved in the wrap message.
var (
	ErrRateLimited    = eris.New("anthropic: rate limited")
	ErrOverloaded     = eris.New("anthropic: overloaded")
	ErrAuth           = eris.New("anthropic: authentication failed")
	ErrInvalidRequest = eris.New("anthropic: invalid request")
	ErrServer         = eris.New("anthropic: server error")
)

// wrapAPIError maps an SDK error onto a sentinel where the HTTP status
// identifies a known failure class.
func wrapAPIError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return eris.Wrap(err, op)
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if sentinel := sentinelForStatus(apiErr.StatusCode); sentinel != nil {
			return eris.Wrapf(sentinel, "%s: %v", op, err)
		}
	}
	return eris.Wrap(err, op)
}

func sentinelForStatus(code int) error {
	switch {
	case code == 429:
		return ErrRateLimited
	case code == 529:
		return ErrOverloaded
	case code == 401 || code == 403:
		return ErrAuth
	case code >= 500:
		return ErrServer
	case code >= 400:
		return ErrInvalidRequest
	default:
		return nil
	}
}

// IsRetryable reports whether the failure class is transient. Invalid
// requests and auth failures never succeed on retry.
func IsRetryable(err error) bool {
	return eris.Is(err, ErrRateLimited) ||
		eris.Is(err, ErrOverloaded) ||
		eris.Is(err, ErrServer)
}
