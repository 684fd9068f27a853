package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/time/rate"
)

// Gateway is the card processor
type Gateway interface {
	// Charge reports whether the charge was accepted. An error means the outcome is
	// unknown and the command must be retried.
	Charge(ctx context.Context, orderID int64, amount float64) (bool, error)
	Refund(ctx context.Context, transactionID string, amount float64) error
}

// SimulatedGateway accepts a fixed share of charges at random. Calls are throttled so
// that a backlog of commands does not hammer the processor.
type SimulatedGateway struct {
	limiter     *rate.Limiter
	successRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// GatewayOption configures a SimulatedGateway
type GatewayOption func(*SimulatedGateway)

// WithSuccessRate sets the share of accepted charges, between 0 and 1
func WithSuccessRate(successRate float64) GatewayOption {
	return func(g *SimulatedGateway) {
		g.successRate = successRate
	}
}

// WithRateLimit throttles the gateway to rps calls per second
func WithRateLimit(rps float64, burst int) GatewayOption {
	return func(g *SimulatedGateway) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSeed makes the accept/decline sequence reproducible
func WithSeed(seed uint64) GatewayOption {
	return func(g *SimulatedGateway) {
		g.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// NewSimulatedGateway accepts 90% of charges at up to 50 calls per second by default
func NewSimulatedGateway(opts ...GatewayOption) *SimulatedGateway {
	g := &SimulatedGateway{
		limiter:     rate.NewLimiter(rate.Limit(50), 10),
		successRate: 0.9,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *SimulatedGateway) Charge(ctx context.Context, orderID int64, amount float64) (bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("payment gateway throttled: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < g.successRate, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, transactionID string, amount float64) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("payment gateway throttled: %w", err)
	}
	return nil
}
