package network

import (
	"net"
	"time"

	"golang.org/x/time/rate"

	"domestia-go-home/internal/metrics"
)

// Option configures a Client or Conn.
type Option func(*settings)

type settings struct {
	dial           DialFunc
	metrics        *metrics.Metrics
	limiter        *rate.Limiter
	readTimeout    time.Duration
	reconnectDelay time.Duration
}

func defaultSettings() settings {
	d := &net.Dialer{KeepAlive: 30 * time.Second}
	return settings{
		dial:           d.DialContext,
		readTimeout:    readTimeout,
		reconnectDelay: reconnectDelay,
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(s *settings) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// WithMetrics records link metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithRateLimit spaces writes to at most perSecond frames per second.
// A zero or negative rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *settings) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithReconnectDelay overrides the pause before each redial.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

// WithReadTimeout overrides the idle read timeout of the read loop.
func WithReadTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}
