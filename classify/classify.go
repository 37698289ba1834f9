package classify

import (
	"context"
	"errors"

	"github.com/relaycore/relaycore/types"
)

// Classify returns the ErrorKind for err, preferring an adapter-supplied
// Kind when present and falling back to the ErrorCode-based mapping
// otherwise. A context cancellation always takes priority: once the
// caller has given up, the outcome is Cancelled regardless of what the
// adapter returned.
func Classify(ctx context.Context, err error) (types.ErrorKind, *types.Error) {
	if ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return types.KindCancelled, asTypesError(err)
	}
	if err == nil {
		return "", nil
	}

	terr := asTypesError(err)
	if terr == nil {
		return types.KindTransient, nil
	}
	if terr.Kind != "" {
		return terr.Kind, terr
	}

	switch terr.Code {
	case types.ErrRateLimit, types.ErrRateLimited, types.ErrQuotaExceeded:
		return types.KindRateLimited, terr
	case types.ErrModelNotFound:
		return types.KindModelUnsupported, terr
	case types.ErrUnauthorized, types.ErrAuthentication, types.ErrForbidden:
		return types.KindAuthExpired, terr
	case types.ErrUpstreamTimeout, types.ErrTimeout, types.ErrUpstreamError,
		types.ErrServiceUnavailable, types.ErrProviderUnavailable, types.ErrModelOverloaded:
		return types.KindTransient, terr
	default:
		return types.KindNonRetryable, terr
	}
}

func asTypesError(err error) *types.Error {
	var terr *types.Error
	if errors.As(err, &terr) {
		return terr
	}
	return nil
}
