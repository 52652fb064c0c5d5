package httpclient

import (
	"context"
	"errors"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"dashsync/internal/config"
	"dashsync/internal/metrics"
)

func newBreaker(name string, cfg config.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[*Response] {
	minRequests := cfg.MinRequests
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess counts only provider-side trouble against the breaker.
// Client errors and cancellations say nothing about the provider's health.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			return false
		}
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
	}
	return false
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
