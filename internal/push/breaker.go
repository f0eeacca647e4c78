package push

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"context"

	"go.uber.org/zap"
)

// BreakerState is the circuit state guarding the push provider.
//
// State transitions:
//
//	Closed -> Open:      failure count >= threshold
//	Open -> HalfOpen:    recovery timeout elapsed
//	HalfOpen -> Closed:  probe send succeeds
//	HalfOpen -> Open:    probe send fails
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when the provider circuit is open and sends are
// rejected without hitting the provider.
var ErrBreakerOpen = errors.New("push provider circuit is open")

// BreakerConfig tunes the provider circuit.
type BreakerConfig struct {
	MaxFailures     int           // consecutive failures before the circuit opens
	RecoveryTimeout time.Duration // wait in Open before a probe is allowed
}

// ProtectedClient wraps a Client so a failing provider trips the circuit and
// subsequent sends fail fast instead of piling up behind timeouts.
type ProtectedClient struct {
	inner  Client
	logger *zap.Logger
	cfg    BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probeInUse  bool
}

// NewProtectedClient wraps client with circuit protection.
func NewProtectedClient(client Client, cfg BreakerConfig, logger *zap.Logger) *ProtectedClient {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}

	return &ProtectedClient{
		inner:  client,
		logger: logger,
		cfg:    cfg,
		state:  BreakerClosed,
	}
}

// State returns the current circuit state.
func (p *ProtectedClient) State() BreakerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Send attempts a delivery through the circuit. When the circuit is open it
// returns ErrBreakerOpen immediately.
func (p *ProtectedClient) Send(ctx context.Context, token, title, body string, payload map[string]string) (*Result, error) {
	if !p.allow() {
		p.logger.Warn("push send rejected, provider circuit open",
			zap.String("state", p.State().String()),
		)
		return nil, fmt.Errorf("%w: provider unavailable", ErrBreakerOpen)
	}

	result, err := p.inner.Send(ctx, token, title, body, payload)
	if err != nil {
		p.recordFailure()
		return nil, err
	}

	p.recordSuccess()
	return result, nil
}

func (p *ProtectedClient) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(p.lastFailure) >= p.cfg.RecoveryTimeout {
			p.state = BreakerHalfOpen
			p.probeInUse = true
			p.logger.Info("push provider circuit allowing probe")
			return true
		}
		return false
	case BreakerHalfOpen:
		// One probe at a time.
		if !p.probeInUse {
			p.probeInUse = true
			return true
		}
		return false
	default:
		return false
	}
}

func (p *ProtectedClient) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures = 0
	p.probeInUse = false

	if p.state != BreakerClosed {
		p.state = BreakerClosed
		p.logger.Info("push provider circuit closed, provider recovered")
	}
}

func (p *ProtectedClient) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	p.lastFailure = time.Now()
	p.probeInUse = false

	switch p.state {
	case BreakerClosed:
		if p.failures >= p.cfg.MaxFailures {
			p.state = BreakerOpen
			p.logger.Warn("push provider circuit opened",
				zap.Int("failures", p.failures),
				zap.Int("threshold", p.cfg.MaxFailures),
			)
		}
	case BreakerHalfOpen:
		p.state = BreakerOpen
		p.logger.Warn("push provider circuit re-opened, probe failed")
	}
}
