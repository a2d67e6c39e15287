package channel

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"nudge/internal/config"
	"nudge/pkg/circuitbreaker"
)

// ErrProviderUnavailable is returned when the circuit breaker is open and
// the underlying provider was never contacted.
var ErrProviderUnavailable = errors.New("provider circuit breaker is open")

// BreakerProvider decorates a Provider with a circuit breaker. When the
// breaker is open Send fails fast with ErrProviderUnavailable so callers can
// distinguish "provider never reached" from a real send failure.
type BreakerProvider struct {
	inner   Provider
	breaker *circuitbreaker.Wrapper
}

func NewBreakerProvider(inner Provider, cfg config.CircuitBreakerConfig) *BreakerProvider {
	bcfg := circuitbreaker.DefaultConfig("provider_" + string(inner.Channel()))
	if cfg.MaxRequests > 0 {
		bcfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		bcfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		bcfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		bcfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && ratio >= cfg.FailureRatio
		}
	}

	return &BreakerProvider{
		inner:   inner,
		breaker: circuitbreaker.NewWrapper(bcfg),
	}
}

func (p *BreakerProvider) Channel() Channel {
	return p.inner.Channel()
}

func (p *BreakerProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	result, err := p.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		res, sendErr := p.inner.Send(ctx, req)
		if sendErr != nil {
			return nil, sendErr
		}
		return res, nil
	})
	if err != nil {
		p.breaker.RecordRequest(false)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrProviderUnavailable
		}
		return nil, err
	}

	p.breaker.RecordRequest(true)
	return result.(*SendResult), nil
}
