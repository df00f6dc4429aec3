package audiobookshelf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mmcdole/shelfsync/internal/domain"
	"github.com/mmcdole/shelfsync/internal/metrics"
)

const (
	breakerName         = "audiobookshelf-api"
	breakerMaxRequests  = 1
	breakerInterval     = time.Minute
	breakerTimeout      = 30 * time.Second
	breakerTripFailures = 5
)

// breaker short-circuits server calls after repeated transport failures.
// Missing progress and cancelled calls do not count against the server.
type breaker struct {
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger *slog.Logger
}

func newBreaker(logger *slog.Logger) *breaker {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0) // 0 = closed

	b := &breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state transition",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return b
}

// execute runs fn through the breaker. Rejections surface as ErrCircuitOpen.
func (b *breaker) execute(fn func() ([]byte, error)) ([]byte, error) {
	body, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Debug("request rejected by circuit breaker", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
	}
	return body, err
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
