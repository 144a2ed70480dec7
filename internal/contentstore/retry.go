package contentstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/meta"
)

// RetryingStore retries transient failures of the wrapped store with
// exponential backoff and stops calling it while its circuit is open.
// Not-found, malformed-data and configuration errors are returned at once.
type RetryingStore struct {
	next    Store
	cfg     fierrors.RetryConfig
	breaker *fierrors.CircuitBreaker
	logger  *slog.Logger
}

var _ Store = (*RetryingStore)(nil)

// RetryOption configures a RetryingStore.
type RetryOption func(*RetryingStore)

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *fierrors.CircuitBreaker) RetryOption {
	return func(s *RetryingStore) {
		s.breaker = cb
	}
}

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(s *RetryingStore) {
		s.logger = l
	}
}

// NewRetryingStore wraps next. A nil cfg.ShouldRetry retries only
// errors flagged retryable.
func NewRetryingStore(next Store, cfg fierrors.RetryConfig, opts ...RetryOption) *RetryingStore {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = fierrors.IsRetryable
	}
	s := &RetryingStore{
		next:    next,
		cfg:     cfg,
		breaker: fierrors.NewCircuitBreaker("content_store"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMetadata implements Store.
func (s *RetryingStore) GetMetadata(ctx context.Context, library, hash, subpath string) (meta.Value, error) {
	return retryCall(ctx, s, "get_metadata", func() (meta.Value, error) {
		return s.next.GetMetadata(ctx, library, hash, subpath)
	})
}

// GetVersions implements Store.
func (s *RetryingStore) GetVersions(ctx context.Context, contentID string) ([]Version, error) {
	return retryCall(ctx, s, "get_versions", func() ([]Version, error) {
		return s.next.GetVersions(ctx, contentID)
	})
}

// Close implements Store.
func (s *RetryingStore) Close() error {
	return s.next.Close()
}

// Unwrap returns the wrapped store.
func (s *RetryingStore) Unwrap() Store {
	return s.next
}

func retryCall[T any](ctx context.Context, s *RetryingStore, op string, fn func() (T, error)) (T, error) {
	cfg := s.cfg
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.Warn("store_call_retry",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	return fierrors.RetryWithResult(ctx, cfg, func() (T, error) {
		// Only transient failures count against the breaker; a missing
		// object says nothing about the store's health.
		var permanent error
		v, err := fierrors.CircuitExecute(s.breaker, func() (T, error) {
			v, err := fn()
			if err != nil && !cfg.ShouldRetry(err) {
				permanent = err
				return v, nil
			}
			return v, err
		})
		if permanent != nil {
			return v, permanent
		}
		if errors.Is(err, fierrors.ErrCircuitOpen) {
			return v, fierrors.HostCallError(op, err).
				WithSuggestion("the content store keeps failing; retry later")
		}
		return v, err
	})
}
