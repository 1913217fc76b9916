package portalauth

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus reports backend reachability.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
	StoreAvailable bool
}

// Healthy reports whether every backend answered.
func (h HealthStatus) Healthy() bool {
	return h.RedisAvailable && h.StoreAvailable
}

// storePinger is implemented by stores with a remote backend.
type storePinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the session backend.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

// Health pings Redis and, when it supports it, the user store. Stores without
// a Ping method are reported available.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessions == nil {
		return HealthStatus{}
	}

	latency, err := e.sessions.Ping(ctx)
	status := HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
		StoreAvailable: true,
	}
	if p, ok := e.store.(storePinger); ok {
		if err := p.Ping(ctx); err != nil {
			e.logger.WarnContext(ctx, "store ping failed", "error", err)
			status.StoreAvailable = false
		}
	}
	return status
}

// ActiveSessionCount returns the number of sessions indexed for userID.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.ActiveSessionCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return n, nil
}

// LoginAttempts returns the failed-login count currently held against email.
func (e *Engine) LoginAttempts(ctx context.Context, email string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return 0, nil
	}
	n, err := e.limiter.Attempts(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return n, nil
}
